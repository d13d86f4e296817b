package flow

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// mockTimer captures scheduled functions so tests can fire them synchronously.
type mockTimer struct {
	mu        sync.Mutex
	nextID    int
	scheduled map[string]func()
	delays    map[string]time.Duration
	cancelled []string
}

func newMockTimer() *mockTimer {
	return &mockTimer{
		scheduled: make(map[string]func()),
		delays:    make(map[string]time.Duration),
	}
}

func (m *mockTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mock_%d", m.nextID)
	m.scheduled[id] = fn
	m.delays[id] = delay
	return id, nil
}

func (m *mockTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scheduled, id)
	m.cancelled = append(m.cancelled, id)
	return nil
}

// fire runs a scheduled function the way the real timer would, keeping the
// callback to simulate a stale firing racing a cancel.
func (m *mockTimer) fire(id string) {
	m.mu.Lock()
	fn := m.scheduled[id]
	delete(m.scheduled, id)
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *mockTimer) pendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.scheduled))
	for id := range m.scheduled {
		out = append(out, id)
	}
	return out
}

func TestSchedulerManualModeNeverStarts(t *testing.T) {
	timer := newMockTimer()
	s := NewReplyScheduler(timer, func(uint64) { t.Error("trigger must not fire in manual mode") })

	s.Start()
	if len(timer.pendingIDs()) != 0 {
		t.Error("expected no countdown scheduled in manual mode")
	}
	if _, running := s.Remaining(); running {
		t.Error("expected no running countdown in manual mode")
	}
}

func TestSchedulerStartCancelsPrevious(t *testing.T) {
	timer := newMockTimer()
	fired := 0
	s := NewReplyScheduler(timer, func(uint64) { fired++ })
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	s.Start()
	s.Start()

	pending := timer.pendingIDs()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending countdown, got %d", len(pending))
	}
	timer.fire(pending[0])
	if fired != 1 {
		t.Errorf("expected trigger fired once, got %d", fired)
	}
}

func TestSchedulerCancelPreventsTrigger(t *testing.T) {
	timer := newMockTimer()
	fired := 0
	s := NewReplyScheduler(timer, func(uint64) { fired++ })
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	pending := timer.pendingIDs()
	if len(pending) != 1 {
		t.Fatalf("expected one pending countdown, got %d", len(pending))
	}
	s.Cancel()
	s.Cancel() // idempotent

	// Simulate a firing that raced the cancel: the generation guard drops it.
	timer.fire(pending[0])
	if fired != 0 {
		t.Errorf("expected no trigger after cancel, got %d", fired)
	}
	if _, running := s.Remaining(); running {
		t.Error("expected no running countdown after cancel")
	}
}

func TestSchedulerCancelInvalidatesDeliveredFiring(t *testing.T) {
	timer := newMockTimer()
	var token uint64
	s := NewReplyScheduler(timer, func(gen uint64) { token = gen })
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	pending := timer.pendingIDs()
	if len(pending) != 1 {
		t.Fatalf("expected one pending countdown, got %d", len(pending))
	}
	timer.fire(pending[0])
	if token == 0 {
		t.Fatal("expected the trigger to receive a firing token")
	}
	if !s.FiringValid(token) {
		t.Fatal("expected the token to be valid before cancel")
	}

	// The countdown is gone but the trigger's work has not landed yet; a
	// cancel arriving in that window must invalidate the token so the
	// trigger's re-check drops the reply.
	s.Cancel()
	if s.FiringValid(token) {
		t.Error("expected cancel to invalidate the delivered firing token")
	}
}

func TestSchedulerNewStartInvalidatesOldFiring(t *testing.T) {
	timer := newMockTimer()
	var tokens []uint64
	s := NewReplyScheduler(timer, func(gen uint64) { tokens = append(tokens, gen) })
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	first := timer.pendingIDs()[0]
	timer.fire(first)
	s.Start()

	if len(tokens) != 1 {
		t.Fatalf("expected one delivered firing, got %d", len(tokens))
	}
	if s.FiringValid(tokens[0]) {
		t.Error("expected a newer countdown to invalidate the old firing token")
	}
}

func TestSchedulerSwitchToManualCancels(t *testing.T) {
	timer := newMockTimer()
	s := NewReplyScheduler(timer, func(uint64) {})
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()

	if err := s.SetMode(ModeManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, running := s.Remaining(); running {
		t.Error("expected countdown cancelled on switch to manual")
	}
}

func TestSchedulerRejectsUnknownMode(t *testing.T) {
	s := NewReplyScheduler(newMockTimer(), func(uint64) {})
	if err := s.SetMode("turbo"); err != models.ErrUnknownSchedulerMode {
		t.Errorf("expected ErrUnknownSchedulerMode, got %v", err)
	}
}

func TestSchedulerDelayValidation(t *testing.T) {
	s := NewReplyScheduler(newMockTimer(), func(uint64) {})
	if err := s.SetDelaySeconds(0); err != models.ErrInvalidDelay {
		t.Errorf("expected ErrInvalidDelay for zero, got %v", err)
	}
	if err := s.SetDelaySeconds(-3); err != models.ErrInvalidDelay {
		t.Errorf("expected ErrInvalidDelay for negative, got %v", err)
	}
	if err := s.SetDelaySeconds(10); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSchedulerUsesConfiguredDelay(t *testing.T) {
	timer := newMockTimer()
	s := NewReplyScheduler(timer, func(uint64) {})
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetDelaySeconds(30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()

	pending := timer.pendingIDs()
	if len(pending) != 1 {
		t.Fatalf("expected one pending countdown, got %d", len(pending))
	}
	if d := timer.delays[pending[0]]; d != 30*time.Second {
		t.Errorf("expected 30s delay, got %v", d)
	}
}

func TestSchedulerSmartDelayWithinRange(t *testing.T) {
	timer := newMockTimer()
	s := NewReplyScheduler(timer, func(uint64) {})
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.SetSmartDelayRange(2*time.Second, 4*time.Second)

	for i := 0; i < 20; i++ {
		s.Start()
	}
	for _, d := range timer.delays {
		if d < 2*time.Second || d > 4*time.Second {
			t.Errorf("smart delay %v outside [2s, 4s]", d)
		}
	}
}

func TestSchedulerRemainingWhileRunning(t *testing.T) {
	timer := newMockTimer()
	s := NewReplyScheduler(timer, func(uint64) {})
	if err := s.SetMode(ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetDelaySeconds(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()

	remaining, running := s.Remaining()
	if !running {
		t.Fatal("expected running countdown")
	}
	if remaining < 9 || remaining > 10 {
		t.Errorf("expected roughly 10s remaining, got %d", remaining)
	}
}
