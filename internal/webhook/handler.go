package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xaenox/messenger-relay/internal/assistant"
	"github.com/xaenox/messenger-relay/internal/messenger"
	"github.com/xaenox/messenger-relay/internal/models"
)

const (
	modeSubscribe = "subscribe"
	eventReceived = "EVENT_RECEIVED"

	maxBodyBytes int64 = 1 << 20 // 1 MiB
)

// Handler serves the Messenger webhook: the subscription handshake and
// event delivery.
type Handler struct {
	verifyToken string
	pageID      string
	allEvents   bool
	replier     assistant.Replier
	deliverer   messenger.Deliverer
	logger      *zap.Logger
}

// Options tune how events are consumed.
type Options struct {
	// AllEvents handles every messaging event of an entry. By default only
	// the first event is consulted.
	AllEvents bool
	// PageID is the page's own id; events it sent are ignored.
	PageID string
}

func NewHandler(verifyToken string, replier assistant.Replier, deliverer messenger.Deliverer, logger *zap.Logger, opts Options) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		pageID:      opts.PageID,
		allEvents:   opts.AllEvents,
		replier:     replier,
		deliverer:   deliverer,
		logger:      logger,
	}
}

// Register registers the webhook routes on the root path.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.Verify)
	e.POST("/", h.Receive)
}

// Verify answers the subscription handshake.
//
//	mode and token absent            -> 400
//	mode=subscribe and token matches -> 200 with the challenge
//	anything else                    -> 403
func (h *Handler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "" && token == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if mode != modeSubscribe || token == "" || token != h.verifyToken {
		return c.NoContent(http.StatusForbidden)
	}

	h.logger.Info("WEBHOOK_VERIFIED")
	return c.String(http.StatusOK, challenge)
}

// Receive processes an event delivery and always acknowledges page events,
// whatever happened downstream.
func (h *Handler) Receive(c echo.Context) error {
	var event models.WebhookEvent
	body := io.LimitReader(c.Request().Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&event); err != nil {
		h.logger.Warn("Malformed webhook body", zap.Error(err))
		return c.NoContent(http.StatusBadRequest)
	}

	if event.Object != models.PageObject {
		return c.NoContent(http.StatusNotFound)
	}

	// The platform's delivery must not cancel replies already in flight.
	ctx := context.WithoutCancel(c.Request().Context())
	for _, entry := range event.Entry {
		for _, msg := range h.eventsOf(entry) {
			h.handleMessage(ctx, msg)
		}
	}

	return c.String(http.StatusOK, eventReceived)
}

func (h *Handler) eventsOf(entry models.Entry) []models.MessagingEvent {
	if len(entry.Messaging) == 0 {
		return nil
	}
	if h.allEvents {
		return entry.Messaging
	}
	return entry.Messaging[:1]
}

func (h *Handler) handleMessage(ctx context.Context, msg models.MessagingEvent) {
	text := msg.Text()
	if text == "" {
		return
	}
	senderID := msg.Sender.ID
	if senderID == "" {
		h.logger.Warn("Skipping message without sender")
		return
	}
	if h.pageID != "" && senderID == h.pageID {
		return
	}

	eventID := uuid.NewString()
	h.logger.Info("Received message",
		zap.String("event_id", eventID),
		zap.String("sender_id", senderID),
		zap.Int("text_len", len(text)))

	reply := h.replier.GetReply(ctx, text)
	h.deliverer.Send(ctx, senderID, reply)

	h.logger.Info("Handled message",
		zap.String("event_id", eventID),
		zap.String("sender_id", senderID),
		zap.Bool("has_image", reply.Image != ""))
}
