// Package notify delivers warning and violation messages to the voice
// announcement system.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"parking-violation-service/internal/penalty"
)

// LogNotifier writes announcements to the log only.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg penalty.Notification) error {
	n.log.Info().
		Str("notification_id", msg.ID).
		Int("track_id", msg.TrackID).
		Str("kind", string(msg.Kind)).
		Str("zone_id", msg.ZoneID).
		Str("plate", msg.Plate).
		Msg(msg.Message)
	return nil
}

// WebhookNotifier posts each notification as JSON to an announcement endpoint.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
	log    zerolog.Logger
}

func NewWebhookNotifier(url, token string, timeout time.Duration, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg penalty.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status: %d", resp.StatusCode)
	}

	n.log.Debug().Str("notification_id", msg.ID).Str("kind", string(msg.Kind)).Msg("notification delivered")
	return nil
}

// Fanout delivers to every sink and returns the first error.
type Fanout []penalty.Notifier

func (f Fanout) Notify(ctx context.Context, msg penalty.Notification) error {
	var first error
	for _, sink := range f {
		if err := sink.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
