package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/leadapi"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// ManagerConfig holds the shared dependencies and per-session defaults for
// the session manager.
type ManagerConfig struct {
	CompanyID string
	API       leadapi.API
	Registry  *store.BookingFlowRegistry
	Augmenter *flow.Augmenter
	Timer     flow.Timer

	// Defaults applied to every new session's scheduler.
	DefaultMode         flow.SchedulerMode
	DefaultDelaySeconds int
	SmartDelayMin       time.Duration
	SmartDelayMax       time.Duration
}

// Manager owns the open conversation controllers, keyed by lead ID. A
// session spans from Open to Close; closing cancels the session's
// countdown so no timer outlives its conversation.
type Manager struct {
	mu       sync.Mutex
	cfg      ManagerConfig
	sessions map[string]*Controller
}

// NewManager creates an empty session manager.
func NewManager(cfg ManagerConfig) *Manager {
	slog.Debug("Creating session Manager", "companyID", cfg.CompanyID)
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = flow.ModeManual
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Controller),
	}
}

// Open returns the controller for a lead, creating and loading it on first
// access.
func (m *Manager) Open(ctx context.Context, leadID string) (*Controller, error) {
	m.mu.Lock()
	if ctrl, exists := m.sessions[leadID]; exists {
		m.mu.Unlock()
		return ctrl, nil
	}
	m.mu.Unlock()

	ctrl := NewController(Config{
		CompanyID: m.cfg.CompanyID,
		LeadID:    leadID,
		API:       m.cfg.API,
		Registry:  m.cfg.Registry,
		Augmenter: m.cfg.Augmenter,
		Timer:     m.cfg.Timer,
	})
	if err := ctrl.SetMode(m.cfg.DefaultMode); err != nil {
		return nil, err
	}
	if m.cfg.DefaultDelaySeconds > 0 {
		if err := ctrl.SetDelaySeconds(m.cfg.DefaultDelaySeconds); err != nil {
			return nil, err
		}
	}
	if m.cfg.SmartDelayMin > 0 || m.cfg.SmartDelayMax > 0 {
		ctrl.SetSmartDelayRange(m.cfg.SmartDelayMin, m.cfg.SmartDelayMax)
	}

	if err := ctrl.Open(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, exists := m.sessions[leadID]; exists {
		// Another caller opened the same lead concurrently; keep theirs.
		ctrl.Close()
		return existing, nil
	}
	m.sessions[leadID] = ctrl
	slog.Info("Session opened", "sessionID", ctrl.SessionID(), "leadID", leadID)
	return ctrl, nil
}

// Get returns an already-open controller.
func (m *Manager) Get(leadID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, exists := m.sessions[leadID]
	return ctrl, exists
}

// Close tears down one session, releasing its scheduler.
func (m *Manager) Close(leadID string) {
	m.mu.Lock()
	ctrl, exists := m.sessions[leadID]
	delete(m.sessions, leadID)
	m.mu.Unlock()

	if exists {
		ctrl.Close()
		slog.Info("Session closed", "leadID", leadID)
	}
}

// CloseAll tears down every open session. Called on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for leadID, ctrl := range sessions {
		ctrl.Close()
		slog.Debug("Session closed during shutdown", "leadID", leadID)
	}
}

// OpenLeadIDs lists the leads with open sessions, for the background poller.
func (m *Manager) OpenLeadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sessions))
	for leadID := range m.sessions {
		out = append(out, leadID)
	}
	return out
}
