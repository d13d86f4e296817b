package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// SchedulerMode selects how AI replies are triggered for a conversation.
type SchedulerMode string

const (
	// ModeManual never triggers automatically; the user requests replies explicitly.
	ModeManual SchedulerMode = "manual"
	// ModeAutomated triggers an AI reply a configurable delay after the last user message.
	ModeAutomated SchedulerMode = "automated"
)

// IsValidSchedulerMode checks if the given mode is supported.
func IsValidSchedulerMode(m SchedulerMode) bool {
	return m == ModeManual || m == ModeAutomated
}

// DefaultReplyDelay is the automated-mode countdown used when none is configured.
const DefaultReplyDelay = 5 * time.Second

// ReplyScheduler drives the automated-reply countdown for one conversation.
//
// At most one countdown/trigger pair is active at a time: Start implicitly
// cancels the previous one, and Cancel is idempotent. Callers must cancel
// on every new user-initiated action and on conversation teardown, or a
// stale trigger can fire after context has changed.
type ReplyScheduler struct {
	mu         sync.Mutex
	timer      Timer
	trigger    func(gen uint64)
	mode       SchedulerMode
	delay      time.Duration
	smartMin   time.Duration // randomized delay range; both zero disables
	smartMax   time.Duration
	activeID   string
	expiresAt  time.Time
	generation uint64
}

// NewReplyScheduler creates a scheduler in manual mode with the default
// delay. The trigger is invoked at most once per Start, from the timer's
// goroutine, and receives a firing token it must re-check with FiringValid
// under its own serialization before acting: a Cancel can arrive after the
// countdown expired but before the trigger's work is applied, and that
// firing must still be suppressed.
func NewReplyScheduler(timer Timer, trigger func(gen uint64)) *ReplyScheduler {
	slog.Debug("Creating ReplyScheduler")
	return &ReplyScheduler{
		timer:   timer,
		trigger: trigger,
		mode:    ModeManual,
		delay:   DefaultReplyDelay,
	}
}

// SetMode switches between manual and automated triggering. Leaving
// automated mode cancels any in-flight countdown.
func (s *ReplyScheduler) SetMode(mode SchedulerMode) error {
	if !IsValidSchedulerMode(mode) {
		return models.ErrUnknownSchedulerMode
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	if mode == ModeManual {
		s.Cancel()
	}
	slog.Debug("ReplyScheduler mode set", "mode", mode)
	return nil
}

// Mode returns the current triggering mode.
func (s *ReplyScheduler) Mode() SchedulerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetDelaySeconds configures the automated-mode countdown length.
func (s *ReplyScheduler) SetDelaySeconds(n int) error {
	if n <= 0 {
		return models.ErrInvalidDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = time.Duration(n) * time.Second
	slog.Debug("ReplyScheduler delay set", "seconds", n)
	return nil
}

// SetSmartDelayRange enables a randomized delay drawn uniformly from
// [min, max] on each Start, simulating human response variance. Passing
// two zero durations disables randomization and restores the fixed delay.
func (s *ReplyScheduler) SetSmartDelayRange(min, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smartMin = min
	s.smartMax = max
	slog.Debug("ReplyScheduler smart delay range set", "min", min, "max", max)
}

// Start begins a countdown in automated mode; in manual mode it is a
// no-op. Any previous countdown is cancelled first, so only one pending
// trigger exists per conversation.
func (s *ReplyScheduler) Start() {
	s.mu.Lock()

	if s.mode != ModeAutomated {
		s.mu.Unlock()
		return
	}

	s.cancelLocked()

	delay := s.delay
	if s.smartMin > 0 || s.smartMax > 0 {
		delay = util.RandomDelayBetween(s.smartMin, s.smartMax)
	}

	gen := s.generation
	id, err := s.timer.ScheduleAfter(delay, func() { s.fire(gen) })
	if err != nil {
		s.mu.Unlock()
		slog.Error("ReplyScheduler failed to schedule countdown", "error", err)
		return
	}
	s.activeID = id
	s.expiresAt = time.Now().Add(delay)
	s.mu.Unlock()

	slog.Debug("ReplyScheduler countdown started", "id", id, "delay", delay)
}

// fire runs when the countdown expires. The generation check drops stale
// firings that raced with a Cancel or a newer Start; the token travels to
// the trigger so it can re-check validity right before its effect lands.
func (s *ReplyScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		slog.Debug("ReplyScheduler stale firing dropped")
		return
	}
	s.activeID = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	slog.Debug("ReplyScheduler countdown expired, invoking trigger")
	s.trigger(gen)
}

// FiringValid reports whether a firing token delivered to the trigger is
// still current. The trigger re-checks the token under its own
// serialization so a Cancel that arrived after the countdown expired still
// suppresses the pending reply.
func (s *ReplyScheduler) FiringValid(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// Cancel idempotently stops any in-flight countdown and pending trigger.
// It must be called whenever a new user message is sent, when the user
// manually requests an AI reply, and on conversation teardown.
func (s *ReplyScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *ReplyScheduler) cancelLocked() {
	// Bump the generation even when no countdown is armed: an expired
	// firing clears the countdown before its trigger runs, and it carries
	// the old token, which must be dead by the time this returns.
	s.generation++
	if s.activeID == "" {
		return
	}
	if err := s.timer.Cancel(s.activeID); err != nil {
		slog.Warn("ReplyScheduler timer cancel failed", "id", s.activeID, "error", err)
	}
	slog.Debug("ReplyScheduler countdown cancelled", "id", s.activeID)
	s.activeID = ""
	s.expiresAt = time.Time{}
}

// Remaining returns the whole seconds left on the countdown and whether a
// countdown is running. The UI polls this to render the visible count.
func (s *ReplyScheduler) Remaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return 0, false
	}
	remaining := time.Until(s.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining.Round(time.Second) / time.Second), true
}
