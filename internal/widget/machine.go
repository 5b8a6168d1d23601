package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/validate"
)

var (
	// ErrInvalidStage is returned when an action does not apply to the
	// current conversation stage.
	ErrInvalidStage = errors.New("action not valid in current stage")

	// ErrSendInFlight is returned when a send is attempted while a previous
	// one is still awaiting its reply.
	ErrSendInFlight = errors.New("a message is already being sent")

	// ErrUnknownService is returned for a service key not on the menu.
	ErrUnknownService = errors.New("unknown service")

	// ErrNoRatingPending is returned when a rating arrives without a prompt.
	ErrNoRatingPending = errors.New("no rating prompt pending")
)

// Machine drives the widget conversation flow. All methods are safe for
// concurrent use; the lock is released around backend calls so a slow
// completion never blocks unrelated reads.
type Machine struct {
	store   StateStore
	backend Backend
	vd      *validate.Validator
	logger  log.Logger
	nowFunc func() time.Time

	mu             sync.Mutex
	state          State
	sending        bool
	typing         bool
	transcriptSent bool
}

// NewMachine creates a widget machine, restoring a persisted session when
// one exists and is fresher than the session expiry. Restored sessions skip
// the proactive popup.
func NewMachine(ctx context.Context, st StateStore, backend Backend, logger log.Logger) (*Machine, error) {
	m := &Machine{
		store:   st,
		backend: backend,
		vd:      validate.New(),
		logger:  logger.With("component", "widget"),
		nowFunc: time.Now,
	}

	saved, ok, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("loading widget state: %w", err)
	}

	if ok && saved.ChatActive && m.nowFunc().Sub(saved.LastActivity) <= stateTTL {
		m.restore(ctx, saved)
		return m, nil
	}

	if ok {
		if err := st.Clear(); err != nil {
			m.logger.Warn("clearing stale widget state", "error", err)
		}
	}
	m.state = State{
		SessionID: uuid.NewString(),
		Stage:     StageIdle,
	}
	m.touchAndSave()
	return m, nil
}

// restore resumes a saved session at the furthest stage its data supports.
func (m *Machine) restore(ctx context.Context, saved State) {
	m.state = saved
	m.state.Open = false
	m.state.PopupShown = true
	m.state.RatingPending = false

	switch {
	case saved.Contact.complete() && len(saved.History) > 0:
		m.state.Stage = StageOpenChat
	case saved.Contact.complete():
		m.state.Stage = StageServiceSelection
	default:
		m.state.Stage = StageContactCapture
	}

	m.touchAndSave()
	m.track(ctx, EventChatRestored, map[string]any{"source": "saved_session"})
	m.logger.Info("session restored",
		"session_id", m.state.SessionID,
		"stage", m.state.Stage,
		"messages", len(m.state.History))
}

// Widget-originated analytics event types.
const (
	EventChatOpened        = "chat_opened"
	EventChatRestored      = "chat_restored"
	EventChatEnded         = "chat_ended"
	EventContactSubmitted  = "contact_form_submitted"
	EventServiceSelected   = "service_selected"
	EventSuggestionClicked = "suggestion_clicked"
	EventSatisfactionRated = "satisfaction_rating"
)

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.History = slices.Clone(m.state.History)
	return s
}

// Typing reports whether the assistant typing indicator is showing.
func (m *Machine) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// popupDelay is how long after page load the popup may first appear.
const popupDelay = 3 * time.Second

// PopupDue reports whether the popup delay has elapsed and the popup is
// still eligible. Restored and previously dismissed sessions never qualify.
func (m *Machine) PopupDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Stage == StageIdle &&
		!m.state.PopupShown &&
		now.Sub(m.state.LastActivity) >= popupDelay
}

// OfferPopup shows the proactive popup. It fires at most once per session
// and never while the chat is already active.
func (m *Machine) OfferPopup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Stage != StageIdle || m.state.PopupShown {
		return false
	}
	m.state.Stage = StagePopupOffered
	m.state.PopupShown = true
	m.touchAndSaveLocked()
	return true
}

// DismissPopup closes the popup without opening the chat. The popup is not
// offered again.
func (m *Machine) DismissPopup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Stage == StagePopupOffered {
		m.state.Stage = StageIdle
		m.touchAndSaveLocked()
	}
}

// Open activates and expands the chat panel. From a cold start the visitor
// lands on contact capture; a returning visitor resumes where their data
// allows. Source labels what opened the chat (launcher, popup, restore).
func (m *Machine) Open(ctx context.Context, source string) error {
	m.mu.Lock()
	switch m.state.Stage {
	case StageEnded:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidStage, StageEnded)
	case StageIdle, StagePopupOffered:
		switch {
		case m.state.Contact.complete() && len(m.state.History) > 0:
			m.state.Stage = StageOpenChat
		case m.state.Contact.complete():
			m.state.Stage = StageServiceSelection
		default:
			m.state.Stage = StageContactCapture
		}
	}
	wasActive := m.state.ChatActive
	m.state.ChatActive = true
	m.state.Open = true
	m.state.PopupShown = true
	m.touchAndSaveLocked()
	m.mu.Unlock()

	if !wasActive {
		m.track(ctx, EventChatOpened, map[string]any{"source": source})
	}
	return nil
}

// Minimize collapses the chat panel without losing the conversation.
func (m *Machine) Minimize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Open = false
	m.touchAndSaveLocked()
}

// SubmitContact validates and records the visitor's details, then advances
// to service selection. Website is optional; the other fields are not.
func (m *Machine) SubmitContact(ctx context.Context, info ContactInfo) error {
	m.mu.Lock()
	if m.state.Stage != StageContactCapture {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}

	fields := []struct {
		value  *string
		name   string
		kind   validate.Kind
		maxLen int
	}{
		{&info.FullName, "name", validate.KindName, 100},
		{&info.Email, "email", validate.KindEmail, 100},
		{&info.Phone, "phone", validate.KindPhone, 20},
		{&info.Website, "website", validate.KindURL, 200},
	}
	for _, f := range fields {
		clean, err := m.vd.SanitizeField(*f.value, f.name, f.kind, f.maxLen)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		*f.value = clean
	}

	m.state.Contact = info
	m.state.Stage = StageServiceSelection
	m.touchAndSaveLocked()
	m.mu.Unlock()

	m.track(ctx, EventContactSubmitted, nil)
	return nil
}

// SelectService records the chosen service, seeds the first assistant
// message and opens the chat. It returns the seeded message and the quick
// replies to offer with it.
func (m *Machine) SelectService(ctx context.Context, key string) (string, []string, error) {
	m.mu.Lock()
	if m.state.Stage != StageServiceSelection {
		m.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}
	if !validServiceKey(key) {
		m.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownService, key)
	}

	response := InitialResponse(key)
	m.state.SelectedService = key
	m.state.Stage = StageOpenChat
	m.state.History = append(m.state.History, chat.Message{
		Role:    chat.RoleAssistant,
		Content: response,
	})
	m.touchAndSaveLocked()
	m.mu.Unlock()

	m.track(ctx, EventServiceSelected, map[string]any{"service": key})
	return response, Suggestions(key), nil
}

// Send submits a visitor message and waits for the assistant reply. Sends
// are serialized: a second call while one is in flight fails immediately
// rather than queueing. The visitor turn is appended before the backend
// call; the assistant turn is appended only on success, so a failed call
// never leaves a fabricated reply in the history.
func (m *Machine) Send(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	if m.state.Stage != StageOpenChat {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}
	if m.sending {
		m.mu.Unlock()
		return "", ErrSendInFlight
	}
	m.sending = true
	m.typing = true

	// History as it stood before this message; the pipeline appends the
	// current message itself.
	prior := slices.Clone(m.state.History)
	sessionID := m.state.SessionID
	userName := m.state.Contact.FullName

	m.state.History = append(m.state.History, chat.Message{
		Role:    chat.RoleUser,
		Content: text,
	})
	m.touchAndSaveLocked()
	m.mu.Unlock()

	reply, err := m.backend.SendMessage(ctx, sessionID, text, userName, prior)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sending = false
	m.typing = false

	// The chat may have ended while the reply was in flight; the history
	// was cleared, so the reply is dropped and nothing is re-persisted.
	if m.state.Stage != StageOpenChat {
		return "", fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}
	if err != nil {
		m.touchAndSaveLocked()
		return "", fmt.Errorf("sending message: %w", err)
	}

	m.state.History = append(m.state.History, chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply,
	})
	m.touchAndSaveLocked()
	return reply, nil
}

// SendSuggestion sends a quick-reply exactly like a typed message and
// records which suggestion was clicked.
func (m *Machine) SendSuggestion(ctx context.Context, suggestion string) (string, error) {
	reply, err := m.Send(ctx, suggestion)
	if err != nil {
		return "", err
	}
	m.track(ctx, EventSuggestionClicked, map[string]any{"suggestion": suggestion})
	return reply, nil
}

// RequestHandoff asks for a live agent. When one is available the machine
// enters the handoff sub-state and agent replies can be polled.
func (m *Machine) RequestHandoff(ctx context.Context) (HandoffResult, error) {
	m.mu.Lock()
	if m.state.Stage != StageOpenChat {
		m.mu.Unlock()
		return HandoffResult{}, fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}
	sessionID := m.state.SessionID
	name := m.state.Contact.FullName
	phone := m.state.Contact.Phone
	history := slices.Clone(m.state.History)
	m.mu.Unlock()

	res, err := m.backend.RequestHandoff(ctx, sessionID, name, phone, history)
	if err != nil {
		return HandoffResult{}, fmt.Errorf("requesting handoff: %w", err)
	}

	m.mu.Lock()
	m.state.HandoffRequested = res.Available
	m.state.History = append(m.state.History, chat.Message{
		Role:    chat.RoleAssistant,
		Content: res.Message,
	})
	m.touchAndSaveLocked()
	m.mu.Unlock()
	return res, nil
}

// PollAgentMessages fetches pending agent replies and appends them to the
// conversation. Only meaningful while a handoff is active.
func (m *Machine) PollAgentMessages(ctx context.Context) ([]AgentMessage, error) {
	m.mu.Lock()
	if !m.state.HandoffRequested {
		m.mu.Unlock()
		return nil, nil
	}
	sessionID := m.state.SessionID
	m.mu.Unlock()

	msgs, err := m.backend.PollMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("polling agent messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	for _, msg := range msgs {
		m.state.History = append(m.state.History, chat.Message{
			Role:    chat.RoleAssistant,
			Content: msg.Message,
		})
	}
	m.touchAndSaveLocked()
	m.mu.Unlock()
	return msgs, nil
}

// EndChat closes the conversation. The transcript is dispatched once when
// contact details exist, the persisted session is cleared, and the visitor
// is prompted to rate the conversation.
func (m *Machine) EndChat(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Stage != StageOpenChat && m.state.Stage != StageServiceSelection {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidStage, m.state.Stage)
	}
	sendTranscript := m.state.Contact.complete() && !m.transcriptSent
	sessionID := m.state.SessionID
	contact := m.state.Contact
	history := slices.Clone(m.state.History)
	m.mu.Unlock()

	if sendTranscript {
		if err := m.backend.SubmitContact(ctx, sessionID, contact, history); err != nil {
			return fmt.Errorf("sending transcript: %w", err)
		}
		m.mu.Lock()
		m.transcriptSent = true
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.state.Stage = StageEnded
	m.state.ChatActive = false
	m.state.HandoffRequested = false
	m.state.RatingPending = true
	m.state.History = nil
	m.state.Contact = ContactInfo{}
	m.state.SelectedService = ""
	m.state.LastActivity = m.nowFunc()
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("clearing widget state", "error", err)
	}
	m.mu.Unlock()

	m.track(ctx, EventChatEnded, nil)
	return nil
}

// SubmitRating records the post-chat satisfaction rating (1 to 5).
func (m *Machine) SubmitRating(ctx context.Context, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	m.mu.Lock()
	if !m.state.RatingPending {
		m.mu.Unlock()
		return ErrNoRatingPending
	}
	m.state.RatingPending = false
	sessionID := m.state.SessionID
	m.mu.Unlock()

	if err := m.backend.TrackEvent(ctx, sessionID, EventSatisfactionRated, map[string]any{"rating": rating}); err != nil {
		return fmt.Errorf("recording rating: %w", err)
	}
	return nil
}

// track sends an analytics event, logging failures instead of surfacing
// them. Analytics must never break the conversation.
func (m *Machine) track(ctx context.Context, eventType string, data map[string]any) {
	m.mu.Lock()
	sessionID := m.state.SessionID
	m.mu.Unlock()

	if err := m.backend.TrackEvent(ctx, sessionID, eventType, data); err != nil {
		m.logger.Warn("tracking event", "event_type", eventType, "error", err)
	}
}

// touchAndSaveLocked stamps activity and persists. Callers hold the lock.
func (m *Machine) touchAndSaveLocked() {
	m.state.LastActivity = m.nowFunc()
	s := m.state
	s.History = slices.Clone(m.state.History)
	if err := m.store.Save(s); err != nil {
		m.logger.Warn("persisting widget state", "error", err)
	}
}

func (m *Machine) touchAndSave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchAndSaveLocked()
}
