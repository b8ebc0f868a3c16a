package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xaenox/messenger-relay/internal/webhook"
)

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *zap.Logger
}

// StaticDir is a directory served read-only under Prefix.
type StaticDir struct {
	Prefix string
	Root   string
}

func NewServer(addr string, static StaticDir, webhookHandler *webhook.Handler, logger *zap.Logger) *Server {
	if addr == "" {
		addr = ":3000"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	if static.Root != "" {
		prefix := static.Prefix
		if prefix == "" {
			prefix = "/"
		}
		e.Static(prefix, static.Root)
	}
	// After the static routes so that GET / stays the verification handshake.
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: logger,
	}
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("Server listening", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// requestLogger logs one line per request. Only the path is logged since the
// verification query carries the verify token.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("Request handled", fields...)
			return nil
		},
	})
}
