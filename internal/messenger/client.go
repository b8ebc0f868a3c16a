package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/messenger-relay/internal/models"
)

// Deliverer relays a structured reply to a recipient. Delivery failures are
// logged, never returned.
type Deliverer interface {
	Send(ctx context.Context, recipientID string, reply models.Reply)
}

// Client talks to the Messenger Send API.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	logger      *zap.Logger
}

// New creates a Send API client for graphURL, e.g. https://graph.facebook.com/v20.0.
func New(graphURL, accessToken string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		endpoint:    strings.TrimRight(graphURL, "/") + "/me/messages",
		accessToken: accessToken,
		logger:      logger,
	}
}

// Send delivers the reply text first when both text and image are present.
func (c *Client) Send(ctx context.Context, recipientID string, reply models.Reply) {
	if reply.Image != "" {
		if reply.Text != "" {
			c.sendMessage(ctx, recipientID, models.OutboundMessage{Text: reply.Text})
		}
		c.sendMessage(ctx, recipientID, models.OutboundMessage{
			Attachment: models.NewImageAttachment(reply.Image),
		})
		return
	}
	if reply.Text != "" {
		c.sendMessage(ctx, recipientID, models.OutboundMessage{Text: reply.Text})
	}
}

func (c *Client) sendMessage(ctx context.Context, recipientID string, message models.OutboundMessage) {
	kind := "text"
	if message.Attachment != nil {
		kind = message.Attachment.Type
	}

	if err := c.post(ctx, models.SendRequest{
		Recipient: models.Participant{ID: recipientID},
		Message:   message,
	}); err != nil {
		c.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("recipient_id", recipientID),
			zap.String("kind", kind))
		return
	}

	c.logger.Info("Message sent",
		zap.String("recipient_id", recipientID),
		zap.String("kind", kind))
}

func (c *Client) post(ctx context.Context, body models.SendRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	query := url.Values{"access_token": {c.accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+query.Encode(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the full URL, access token included.
		return fmt.Errorf("send api request failed: %w", redact(err, c.accessToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send api returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, secret) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, secret, "REDACTED"))
}
