package handoff

import (
	"context"
	"fmt"
	"time"
)

// AgentMessage is one reply from a human agent, surfaced to the widget.
type AgentMessage struct {
	Sender  string    `json:"from"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"timestamp"`
}

// defaultPollInterval paces Subscribe's store polling.
const defaultPollInterval = 2 * time.Second

// Drain returns and removes the unexpired agent messages pending for a
// session. Expired rows are deleted opportunistically.
func (c *Coordinator) Drain(ctx context.Context, sessionID string) ([]AgentMessage, error) {
	now := c.nowFunc().UTC()

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, sender, message, created_at FROM handoff_messages
		 WHERE session_id = ? AND expires_at > ?
		 ORDER BY id`,
		sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("querying agent messages: %w", err)
	}
	defer rows.Close()

	var (
		out []AgentMessage
		ids []int64
	)
	for rows.Next() {
		var (
			id int64
			m  AgentMessage
		)
		if err := rows.Scan(&id, &m.Sender, &m.Message, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scanning agent message: %w", err)
		}
		out = append(out, m)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent messages: %w", err)
	}

	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM handoff_messages WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("draining agent message: %w", err)
		}
	}

	// Expired rows are garbage regardless of session.
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM handoff_messages WHERE expires_at <= ?`, now); err != nil {
		c.logger.Warn("expired message cleanup failed", "error", err)
	}

	return out, nil
}

// Subscribe polls the store and delivers pending agent messages for a session
// until ctx is cancelled. The returned channel closes on cancellation.
func (c *Coordinator) Subscribe(ctx context.Context, sessionID string, interval time.Duration) <-chan AgentMessage {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	out := make(chan AgentMessage)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				msgs, err := c.Drain(ctx, sessionID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Warn("feed poll failed", "session_id", sessionID, "error", err)
					continue
				}
				for _, m := range msgs {
					select {
					case out <- m:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
