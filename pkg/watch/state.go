package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "watch_state.json"

// SourceState records the last scheduled import of one source.
type SourceState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastRunSuccess bool      `json:"last_run_success"`
	Accepted       int       `json:"accepted"`
	Stored         bool      `json:"stored"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState is the persisted form of the scheduler state.
type WatchState struct {
	Sources   map[string]SourceState `json:"sources"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateManager persists SourceState per alias in the state directory, so a
// restarted watcher keeps its schedule.
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	now       func() time.Time
	mu        sync.RWMutex
}

// NewStateManager creates a manager for stateDir. Call Load to read existing state.
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     WatchState{Sources: make(map[string]SourceState)},
		now:       time.Now,
	}
}

// Load reads the state file. A missing file is an empty state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.state = WatchState{Sources: make(map[string]SourceState)}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded WatchState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if loaded.Sources == nil {
		loaded.Sources = make(map[string]SourceState)
	}
	m.state = loaded
	return nil
}

// Save writes the state file through a temporary file and a rename.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// GetSourceState returns the recorded state of alias.
func (m *StateManager) GetSourceState(alias string) (SourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sources[alias]
	return state, ok
}

// Record stores the outcome of a run of alias, timestamped now.
func (m *StateManager) Record(alias string, state SourceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.LastRunTime = m.now()
	m.state.Sources[alias] = state
}

// ShouldRun reports whether alias never ran or ran at least interval ago.
func (m *StateManager) ShouldRun(alias string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sources[alias]
	if !ok {
		return true
	}
	return m.now().Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when alias is due; now if it never ran.
func (m *StateManager) GetNextRunTime(alias string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sources[alias]
	if !ok {
		return m.now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSourceStates returns a copy of every recorded state.
func (m *StateManager) GetAllSourceStates() map[string]SourceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SourceState, len(m.state.Sources))
	for k, v := range m.state.Sources {
		result[k] = v
	}
	return result
}
