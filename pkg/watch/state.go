package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const stateFileName = "watch_state.json"

// SiteState contains the last run information for a site
type SiteState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	ProductCount   int       `json:"product_count"`
	ProductHash    string    `json:"product_hash,omitempty"`
	NewProducts    int       `json:"new_products"` // -1 when product history is disabled
	Changed        bool      `json:"changed"`      // product set differs from the previous successful run
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// SiteRun is the outcome of one discovery run, as recorded by UpdateSiteState
type SiteRun struct {
	Success      bool
	ProductCount int
	ProductHash  string
	NewProducts  int
	Error        error
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string { return m.statePath }

// Load loads the state from disk. A missing file starts a fresh state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Sites: make(map[string]SiteState)}
			return nil
		}
		return fmt.Errorf("%w: reading watch state %s: %w", utils.ErrFilesystem, m.statePath, err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("%w: watch state %s: %w", utils.ErrParsing, m.statePath, err)
	}

	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}

	return nil
}

// Save writes the state to disk through a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: creating state directory %s: %w", utils.ErrFilesystem, m.stateDir, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watch state: %w", err)
	}

	tmpPath := m.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: writing watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, m.statePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: replacing watch state: %w", utils.ErrFilesystem, err)
	}

	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// UpdateSiteState records a run and reports whether the product set changed.
// A failed run keeps the previous count and hash so the next comparison is
// made against the last good result.
func (m *StateManager) UpdateSiteState(siteKey string, run SiteRun) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, hadPrev := m.state.Sites[siteKey]
	next := SiteState{
		LastRunTime:    time.Now(),
		LastRunSuccess: run.Success,
		ProductCount:   run.ProductCount,
		ProductHash:    run.ProductHash,
		NewProducts:    run.NewProducts,
	}

	if !run.Success {
		next.ProductCount = prev.ProductCount
		next.ProductHash = prev.ProductHash
		next.NewProducts = prev.NewProducts
		if run.Error != nil {
			next.ErrorMessage = run.Error.Error()
		}
		m.state.Sites[siteKey] = next
		return false
	}

	next.Changed = hadPrev && prev.ProductHash != "" && prev.ProductHash != run.ProductHash
	m.state.Sites[siteKey] = next
	return next.Changed
}

// ShouldRun checks if a site should run based on the interval
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return time.Since(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site should next run
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSiteStates returns a copy of all site states
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SiteState, len(m.state.Sites))
	for k, v := range m.state.Sites {
		result[k] = v
	}
	return result
}
