// Package analytics records widget events and answers the dashboard queries
// built over them.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/websmartco/smartchat/internal/log"
)

// Well-known event types. The events endpoint accepts arbitrary types; these
// are the ones the queries below give meaning to.
const (
	EventMessageSent          = "message_sent"
	EventContactFormSubmitted = "contact_form_submitted"
	EventSatisfactionRating   = "satisfaction_rating"
	EventServiceSelected      = "service_selected"
	EventChatOpened           = "chat_opened"
	EventChatEnded            = "chat_ended"
	EventHandoffRequested     = "handoff_requested"
)

// Event is one tracked widget event.
type Event struct {
	Type      string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"event_data,omitempty"`
}

// Overview aggregates the headline dashboard numbers for a period.
type Overview struct {
	TotalSessions    int     `json:"total_sessions"`
	TotalMessages    int     `json:"total_messages"`
	ConversionRate   float64 `json:"conversion_rate"`   // percent of sessions that submitted contact details
	SatisfactionRate float64 `json:"satisfaction_rate"` // percent of ratings >= 4
}

// EventCount is one row of the event breakdown.
type EventCount struct {
	Type  string `json:"event_type"`
	Count int    `json:"count"`
}

// painIndicators mark messages where a visitor showed frustration or
// confusion.
var painIndicators = []string{
	"confused", "don't understand", "what?", "frustrated", "help", "not working",
}

// Store persists and queries events.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "analytics")}
}

// Track records one event. Callers on the conversation path should invoke it
// from a goroutine; tracking failures are logged, never surfaced to visitors.
func (s *Store) Track(ctx context.Context, ev Event) error {
	if ev.Type == "" || ev.SessionID == "" {
		return fmt.Errorf("event requires type and session id")
	}

	data := "{}"
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encoding event data: %w", err)
		}
		data = string(raw)
	}

	// created_at is bound from Go rather than defaulted so that range queries
	// bind times through the same driver encoding.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_events (event_type, user_id, session_id, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Type, nullable(ev.UserID), ev.SessionID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// TrackAsync records an event in the background, logging any failure.
func (s *Store) TrackAsync(ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Track(ctx, ev); err != nil {
			s.logger.Warn("event tracking failed", "event_type", ev.Type, "error", err)
		}
	}()
}

// Overview computes the headline stats since the given time.
func (s *Store) Overview(ctx context.Context, since time.Time) (*Overview, error) {
	var o Overview

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM chat_events WHERE created_at >= ?`,
		since).Scan(&o.TotalSessions)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_events WHERE event_type = ? AND created_at >= ?`,
		EventMessageSent, since).Scan(&o.TotalMessages)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	var converted int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM chat_events
		 WHERE event_type = ? AND created_at >= ?`,
		EventContactFormSubmitted, since).Scan(&converted)
	if err != nil {
		return nil, fmt.Errorf("counting conversions: %w", err)
	}
	if o.TotalSessions > 0 {
		o.ConversionRate = float64(converted) / float64(o.TotalSessions) * 100
	}

	var totalRatings, positiveRatings int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_events WHERE event_type = ? AND created_at >= ?`,
		EventSatisfactionRating, since).Scan(&totalRatings)
	if err != nil {
		return nil, fmt.Errorf("counting ratings: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_events
		 WHERE event_type = ?
		   AND CAST(json_extract(event_data, '$.rating') AS INTEGER) >= 4
		   AND created_at >= ?`,
		EventSatisfactionRating, since).Scan(&positiveRatings)
	if err != nil {
		return nil, fmt.Errorf("counting positive ratings: %w", err)
	}
	if totalRatings > 0 {
		o.SatisfactionRate = float64(positiveRatings) / float64(totalRatings) * 100
	}

	return &o, nil
}

// TopEvents returns the most frequent event types since the given time.
func (s *Store) TopEvents(ctx context.Context, since time.Time, limit int) ([]EventCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) AS count FROM chat_events
		 WHERE created_at >= ?
		 GROUP BY event_type
		 ORDER BY count DESC
		 LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top events: %w", err)
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.Type, &ec.Count); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		out = append(out, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top events: %w", err)
	}
	return out, nil
}

// PainPoints extracts visitor messages that contain frustration indicators,
// truncated for display, newest capped at limit.
func (s *Store) PainPoints(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_data FROM chat_events
		 WHERE event_type = ? AND created_at >= ?`,
		EventMessageSent, since)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning message event: %w", err)
		}

		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(raw), &data); err != nil || data.Message == "" {
			continue
		}

		lower := strings.ToLower(data.Message)
		for _, indicator := range painIndicators {
			if strings.Contains(lower, indicator) {
				out = append(out, truncate(data.Message, 100))
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
