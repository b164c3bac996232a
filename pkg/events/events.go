// Package events publishes task lifecycle notifications over PostgreSQL
// NOTIFY, so out-of-process collaborators (knowledge extraction, dashboards)
// follow the control plane without polling it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification channels.
const (
	ChannelTaskCompleted = "task_completed"
	ChannelTaskFailed    = "task_failed"
)

// TaskEvent is the payload carried on both task channels.
type TaskEvent struct {
	TaskID            string  `json:"task_id"`
	OrganizationID    string  `json:"organization_id"`
	ChangeSetID       *string `json:"change_set_id,omitempty"`
	ExecutionRecordID *string `json:"execution_record_id,omitempty"`
	Reason            string  `json:"reason,omitempty"`
}

// Publisher sends notifications through the shared pool.
type Publisher struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(pool *pgxpool.Pool, logger *slog.Logger) *Publisher {
	return &Publisher{pool: pool, logger: logger.With("component", "events")}
}

// Publish sends one event. Publication is best-effort: a failed notify is
// logged, never propagated, since the state change it announces is already
// committed.
func (p *Publisher) Publish(ctx context.Context, channel string, ev TaskEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event failed", "channel", channel, "error", err)
		return
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		p.logger.Warn("notify failed", "channel", channel, "task_id", ev.TaskID, "error", err)
		return
	}
	p.logger.Debug("event published", "channel", channel, "task_id", ev.TaskID)
}

// Listener blocks on LISTEN and hands decoded events to a handler. Intended
// for collaborator processes; the control plane itself never consumes its
// own events.
type Listener struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewListener creates a Listener.
func NewListener(pool *pgxpool.Pool, logger *slog.Logger) *Listener {
	return &Listener{pool: pool, logger: logger.With("component", "events_listener")}
}

// Listen subscribes to the channels and invokes handle per event until ctx
// ends. The dedicated connection is released on return.
func (l *Listener) Listen(ctx context.Context, channels []string, handle func(channel string, ev TaskEvent)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	l.logger.Info("listening", "channels", channels)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		var ev TaskEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			l.logger.Warn("bad event payload", "channel", n.Channel, "error", err)
			continue
		}
		handle(n.Channel, ev)
	}
}
