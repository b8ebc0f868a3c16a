package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/messenger-relay/internal/models"
	"github.com/xaenox/messenger-relay/pkg/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// GPTAssistant answers messages through the OpenAI Assistants API.
// Every call starts a fresh thread.
type GPTAssistant struct {
	client        *openai.Client
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	orgID         string
	assistantID   string
	vectorStoreID string
	model         string
	logger        *zap.Logger
}

func NewGPTAssistant(cfg config.OpenAIConfig, logger *zap.Logger) *GPTAssistant {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	httpClient := &http.Client{Transport: &projectTransport{projectID: cfg.ProjectID}}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.OrgID = cfg.OrgID
	clientConfig.HTTPClient = httpClient

	return &GPTAssistant{
		client:        openai.NewClientWithConfig(clientConfig),
		httpClient:    httpClient,
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		orgID:         cfg.OrgID,
		assistantID:   cfg.AssistantID,
		vectorStoreID: cfg.VectorStoreID,
		model:         model,
		logger:        logger,
	}
}

// AssistantID is the assistant every run is bound to.
func (a *GPTAssistant) AssistantID() string {
	return a.assistantID
}

// EnsureAssistant creates the assistant when none is configured. It must be
// called before the relay starts serving.
func (a *GPTAssistant) EnsureAssistant(ctx context.Context) error {
	if a.assistantID != "" {
		return nil
	}

	req := openai.AssistantRequest{
		Model: a.model,
		Tools: []openai.AssistantTool{
			{Type: openai.AssistantToolTypeFileSearch},
			{Type: openai.AssistantToolTypeCodeInterpreter},
		},
	}
	if a.vectorStoreID != "" {
		req.ToolResources = &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{
				VectorStoreIDs: []string{a.vectorStoreID},
			},
		}
	}

	created, err := a.client.CreateAssistant(ctx, req)
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}
	a.assistantID = created.ID
	a.logger.Info("Created assistant",
		zap.String("assistant_id", created.ID),
		zap.String("model", a.model))
	return nil
}

func (a *GPTAssistant) GetReply(ctx context.Context, messageText string) models.Reply {
	raw, err := a.complete(ctx, messageText)
	if err != nil {
		a.logger.Error("Failed to get assistant response", zap.Error(err))
		return a.fallbackReply()
	}

	reply := Process(raw)
	if reply.IsEmpty() {
		a.logger.Warn("Assistant returned an empty reply")
	}
	return reply
}

// complete runs one message through a new thread and returns the streamed
// answer unprocessed.
func (a *GPTAssistant) complete(ctx context.Context, messageText string) (string, error) {
	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	if _, err := a.client.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: messageText,
	}); err != nil {
		return "", fmt.Errorf("create message on thread %s: %w", thread.ID, err)
	}

	stream, err := a.streamRun(ctx, thread.ID)
	if err != nil {
		return "", fmt.Errorf("thread %s: %w", thread.ID, err)
	}
	defer stream.Close()

	var response strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream thread %s: %w", thread.ID, err)
		}
		response.WriteString(fragment)
	}

	a.logger.Debug("Assistant run finished",
		zap.String("thread_id", thread.ID),
		zap.Int("response_len", response.Len()))
	return response.String(), nil
}

func (a *GPTAssistant) fallbackReply() models.Reply {
	return models.ApologyReply()
}

// projectTransport adds the OpenAI-Project header, which go-openai does not
// expose as a client option.
type projectTransport struct {
	projectID string
	base      http.RoundTripper
}

func (t *projectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.projectID == "" {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("OpenAI-Project", t.projectID)
	return base.RoundTrip(req)
}
