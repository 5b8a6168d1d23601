// Package engage decides when the widget should proactively invite a
// visitor to chat, based on page signals like exit intent, scroll depth
// and idle time.
package engage

import (
	"context"
	"sync"
	"time"

	"github.com/websmartco/smartchat/internal/log"
)

// Trigger identifies which signal fired an engagement prompt. The values
// double as analytics event types.
type Trigger string

const (
	TriggerExitIntent Trigger = "exit_intent_triggered"
	TriggerScroll     Trigger = "scroll_depth_triggered"
	TriggerTimeOnPage Trigger = "time_trigger_30s"
	TriggerInactivity Trigger = "inactivity_trigger"
)

// Prompt is a proactive invitation shown to the visitor. It hides itself
// at ExpiresAt if not interacted with.
type Prompt struct {
	Trigger   Trigger
	Message   string
	Data      map[string]any
	ExpiresAt time.Time
}

// Config tunes the engagement triggers. Zero values take the defaults.
type Config struct {
	TimeOnPage      time.Duration // default 30s
	Inactivity      time.Duration // default 2m
	ScrollThreshold float64       // fraction of page height, default 0.75
	PromptTTL       time.Duration // how long a prompt stays visible, default 10s
	PollInterval    time.Duration // Run's evaluation cadence, default 1s
}

func (c Config) withDefaults() Config {
	if c.TimeOnPage <= 0 {
		c.TimeOnPage = 30 * time.Second
	}
	if c.Inactivity <= 0 {
		c.Inactivity = 2 * time.Minute
	}
	if c.ScrollThreshold <= 0 {
		c.ScrollThreshold = 0.75
	}
	if c.PromptTTL <= 0 {
		c.PromptTTL = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Engine turns page signals into at-most-one prompt per trigger per page
// load. No trigger fires while the chat is open.
type Engine struct {
	cfg     Config
	logger  log.Logger
	nowFunc func() time.Time

	mu           sync.Mutex
	pageLoaded   time.Time
	lastActivity time.Time
	scrollDepth  float64
	exitIntent   bool
	chatOpen     bool
	fired        map[Trigger]bool
}

// New creates an engine; now is the page load instant.
func New(cfg Config, logger log.Logger, now time.Time) *Engine {
	return &Engine{
		cfg:          cfg.withDefaults(),
		logger:       logger.With("component", "engage"),
		nowFunc:      time.Now,
		pageLoaded:   now,
		lastActivity: now,
		fired:        make(map[Trigger]bool),
	}
}

// RecordScroll updates the deepest scroll position, as a fraction of page
// height.
func (e *Engine) RecordScroll(depth float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if depth > e.scrollDepth {
		e.scrollDepth = depth
	}
}

// RecordExitIntent notes the cursor leaving the top of the viewport.
func (e *Engine) RecordExitIntent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitIntent = true
}

// RecordActivity resets the inactivity clock.
func (e *Engine) RecordActivity(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivity = now
}

// SetChatOpen suppresses or re-enables all triggers.
func (e *Engine) SetChatOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatOpen = open
}

// Evaluate checks the triggers at the given instant and returns at most
// one prompt. Each trigger fires once per engine; exit intent wins over
// scroll depth, which wins over the timers.
func (e *Engine) Evaluate(now time.Time) (Prompt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chatOpen {
		return Prompt{}, false
	}

	switch {
	case e.exitIntent && !e.fired[TriggerExitIntent]:
		return e.fire(now, TriggerExitIntent,
			"Wait! Before you go, can I help you with anything?", nil)

	case e.scrollDepth >= e.cfg.ScrollThreshold && !e.fired[TriggerScroll]:
		return e.fire(now, TriggerScroll,
			"I see you're exploring our content. Any questions I can answer?",
			map[string]any{"depth": int(e.cfg.ScrollThreshold * 100)})

	case now.Sub(e.pageLoaded) >= e.cfg.TimeOnPage && !e.fired[TriggerTimeOnPage]:
		return e.fire(now, TriggerTimeOnPage,
			"Hi there! I'm here if you need any assistance.", nil)

	case now.Sub(e.lastActivity) >= e.cfg.Inactivity && !e.fired[TriggerInactivity]:
		return e.fire(now, TriggerInactivity,
			"Still browsing? Let me know if you need help finding something specific.",
			map[string]any{"duration": int(e.cfg.Inactivity.Seconds())})
	}
	return Prompt{}, false
}

func (e *Engine) fire(now time.Time, trigger Trigger, message string, data map[string]any) (Prompt, bool) {
	e.fired[trigger] = true
	e.logger.Debug("engagement trigger fired", "trigger", trigger)
	return Prompt{
		Trigger:   trigger,
		Message:   message,
		Data:      data,
		ExpiresAt: now.Add(e.cfg.PromptTTL),
	}, true
}

// Run evaluates the triggers on a ticker and delivers prompts until ctx is
// cancelled, then closes the channel.
func (e *Engine) Run(ctx context.Context) <-chan Prompt {
	out := make(chan Prompt, 4)

	go func() {
		defer close(out)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if p, ok := e.Evaluate(e.nowFunc()); ok {
					select {
					case out <- p:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
