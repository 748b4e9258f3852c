package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bluesky-social/agora/util"
)

// Announcement is what gets handed off for publishing a governance event.
type Announcement struct {
	EventID   uint64         `json:"eventId"`
	Kind      string         `json:"kind"`
	EpochID   uint64         `json:"epochId"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Announcer interface {
	Announce(ctx context.Context, a *Announcement) error
}

// LogAnnouncer only logs announcements. Used when no webhook is configured.
type LogAnnouncer struct {
	logger *slog.Logger
}

func NewLogAnnouncer(logger *slog.Logger) *LogAnnouncer {
	if logger == nil {
		logger = slog.Default().With("system", "outbox")
	}
	return &LogAnnouncer{logger: logger}
}

func (a *LogAnnouncer) Announce(ctx context.Context, ann *Announcement) error {
	a.logger.Info("announcement", "event", ann.EventID, "kind", ann.Kind, "epoch", ann.EpochID, "text", ann.Text)
	return nil
}

// WebhookAnnouncer POSTs each announcement as JSON to a fixed URL.
type WebhookAnnouncer struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

type WebhookOptions struct {
	// sent as a bearer token when set
	Secret string
	// in-request retries; the outbox backoff applies on top
	Retries int
	Client  *http.Client
	Logger  *slog.Logger
}

func NewWebhookAnnouncer(url string, opts WebhookOptions) *WebhookAnnouncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("system", "outbox")
	}
	client := opts.Client
	if client == nil {
		client = util.RobustHTTPClient(logger, opts.Retries)
	}
	return &WebhookAnnouncer{url: url, secret: opts.Secret, client: client, logger: logger}
}

func (a *WebhookAnnouncer) Announce(ctx context.Context, ann *Announcement) error {
	body, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agora-outbox")
	if a.secret != "" {
		req.Header.Set("Authorization", "Bearer "+a.secret)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting announcement: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("announcement webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
