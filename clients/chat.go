package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

// ChatConfig configures the chat webhook client.
type ChatConfig struct {
	RequestTimeout    time.Duration
	MessagesPerMinute int
}

// ChatClient posts artifacts to incoming-webhook URLs. Webhook providers
// throttle aggressively, so all sends share one rate limiter.
type ChatClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// chatMessage is the webhook payload. The shape follows the common
// incoming-webhook convention: top-level text plus attachments.
type chatMessage struct {
	Text        string           `json:"text"`
	Channel     string           `json:"channel,omitempty"`
	Attachments []chatAttachment `json:"attachments,omitempty"`
}

type chatAttachment struct {
	Title     string `json:"title"`
	TitleLink string `json:"title_link,omitempty"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// NewChatClient creates a chat webhook client.
func NewChatClient(cfg ChatConfig, log *zap.SugaredLogger) *ChatClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MessagesPerMinute <= 0 {
		cfg.MessagesPerMinute = 30
	}
	return &ChatClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MessagesPerMinute)), 1),
		logger:     log,
	}
}

// Kind implements delivery.Sender.
func (c *ChatClient) Kind() schedule.TargetKind { return schedule.TargetChat }

// Send posts the artifact to the target's webhook.
func (c *ChatClient) Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error {
	if target.Chat == nil || target.Chat.WebhookURL == "" {
		return errors.NewConfiguration("chat target %s has no webhook URL", target.ID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait interrupted")
	}

	msg := chatMessage{
		Text:    artifact.Title,
		Channel: target.Chat.ChannelID,
	}
	att := chatAttachment{
		Title: artifact.Title,
		Text:  artifact.Description,
	}
	if target.Chat.IncludeLink {
		att.TitleLink = artifact.URL
	}
	if artifact.ContentType == "image/png" && artifact.URL != "" {
		att.ImageURL = artifact.URL
	}
	msg.Attachments = []chatAttachment{att}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Chat.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Transient(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := errors.Newf("webhook returned %d: %s", resp.StatusCode, snippet)
		// 429 and 5xx clear on their own; other 4xx mean the webhook is
		// gone or the payload is rejected, retrying won't help.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errors.Transient(err, "webhook delivery failed")
		}
		return errors.Permanent(err, "webhook delivery rejected")
	}

	c.logger.Infow("Chat message sent",
		"target_id", target.ID,
		"channel", target.Chat.ChannelID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
