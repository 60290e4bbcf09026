package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Publisher broadcasts stream lifecycle transitions for WebSocket delivery.
// Stream state itself lives durably in the streams table (pkg/store); these
// notifications are a best-effort real-time feed on top of it; a client that
// misses one can always re-fetch current state via the debug HTTP surface,
// so — unlike the teacher's timeline/session events — nothing here is
// persisted to a notification log.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher over the store's connection pool.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishStreamEvent broadcasts a stream lifecycle transition to the
// owning trigger's channel and to the global firehose channel.
// Both broadcasts are best-effort: if the first fails, the second is still
// attempted. Returns the first error encountered, if any.
func (p *Publisher) PublishStreamEvent(ctx context.Context, payload StreamLifecyclePayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stream lifecycle payload: %w", err)
	}

	var firstErr error
	if err := p.notify(ctx, TriggerChannel(payload.TriggerName), payloadJSON); err != nil {
		slog.Warn("failed to publish stream event to trigger channel",
			"stream_id", payload.StreamID, "trigger_name", payload.TriggerName, "error", err)
		firstErr = err
	}
	if err := p.notify(ctx, GlobalChannel, payloadJSON); err != nil {
		slog.Warn("failed to publish stream event to global channel",
			"stream_id", payload.StreamID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// notify broadcasts a pre-marshaled event via pg_notify, truncating to a
// routing-only envelope if it would exceed PostgreSQL's NOTIFY payload limit.
func (p *Publisher) notify(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the payload string as-is if it is at most 7900
// bytes (a margin under PostgreSQL's 8000-byte NOTIFY limit), otherwise
// returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to re-fetch the complete stream state via the debug HTTP surface.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type        string `json:"type"`
		StreamID    string `json:"stream_id"`
		TriggerName string `json:"trigger_name"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":         routing.Type,
		"stream_id":    routing.StreamID,
		"trigger_name": routing.TriggerName,
		"truncated":    true,
	}
	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
