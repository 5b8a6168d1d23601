// Package widget implements the client-side conversation state machine the
// embedded chat widget drives, including persisted state across page loads
// and the HTTP backend client.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/websmartco/smartchat/internal/chat"
)

// Stage is the widget's conversation stage.
type Stage string

const (
	StageIdle             Stage = "idle"
	StagePopupOffered     Stage = "popup_offered"
	StageContactCapture   Stage = "contact_capture"
	StageServiceSelection Stage = "service_selection"
	StageOpenChat         Stage = "open_chat"
	StageEnded            Stage = "ended"
)

// stateTTL is how long a persisted session survives without activity.
const stateTTL = 30 * time.Minute

// ContactInfo is the visitor details captured before chat.
type ContactInfo struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Website  string `json:"website,omitempty"`
}

// complete reports whether the required fields are present.
func (c ContactInfo) complete() bool {
	return c.FullName != "" && c.Email != "" && c.Phone != ""
}

// State is the widget snapshot persisted on every mutation.
type State struct {
	SessionID        string         `json:"session_id"`
	Stage            Stage          `json:"stage"`
	Open             bool           `json:"chat_open"` // orthogonal to Stage: minimized vs open
	ChatActive       bool           `json:"chat_active"`
	PopupShown       bool           `json:"popup_shown"`
	HandoffRequested bool           `json:"handoff_requested"`
	RatingPending    bool           `json:"rating_pending"`
	SelectedService  string         `json:"selected_service,omitempty"`
	Contact          ContactInfo    `json:"user_info"`
	History          []chat.Message `json:"conversation_history"`
	LastActivity     time.Time      `json:"last_activity"`
}

// StateStore persists widget state across page loads.
type StateStore interface {
	Save(s State) error
	// Load returns the stored state and whether one existed.
	Load() (State, bool, error)
	Clear() error
}

// MemoryStore keeps state in memory. Test and single-page use.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	set   bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, m.set = s, true
	return nil
}

func (m *MemoryStore) Load() (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.set, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, m.set = State{}, false
	return nil
}

// FileStore persists state as JSON on disk, the desktop equivalent of the
// browser's local storage.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding widget state: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("writing widget state: %w", err)
	}
	return nil
}

func (f *FileStore) Load() (State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("reading widget state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		// Corrupt state is equivalent to no state.
		return State{}, false, nil
	}
	return s, true, nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing widget state: %w", err)
	}
	return nil
}
