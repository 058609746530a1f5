package client

import (
	"errors"
	"sync"
)

// GenerationState tracks one plush generation as seen by a frontend.
// It is presentation state only; nothing here is persisted.
type GenerationState string

const (
	StateIdle       GenerationState = "idle"
	StateAnalyzing  GenerationState = "analyzing"
	StateGenerating GenerationState = "generating"
	StateComplete   GenerationState = "complete"
	StateError      GenerationState = "error"
)

var ErrInvalidTransition = errors.New("client: invalid generation state transition")

const (
	analyzingCeiling  = 30
	analyzingStep     = 5
	generatingStep    = 8
	inFlightCeiling   = 95
	completedProgress = 100
)

// ProgressTracker is a small finite-state machine with a 0-100 progress
// scalar. Progress ticks are cosmetic timer increments; only Complete and
// Fail settle the machine, and an in-flight generation cannot be reset.
type ProgressTracker struct {
	mu       sync.Mutex
	state    GenerationState
	progress int
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{state: StateIdle}
}

func (t *ProgressTracker) State() GenerationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ProgressTracker) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Start moves an idle tracker into the analyzing phase.
func (t *ProgressTracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return ErrInvalidTransition
	}
	t.state = StateAnalyzing
	t.progress = 0
	return nil
}

// Advance applies one timer tick. Analyzing creeps toward its ceiling and
// hands off to generating; generating creeps toward the in-flight ceiling
// and stays there until the request settles. Ticks in settled states are
// no-ops.
func (t *ProgressTracker) Advance() (GenerationState, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateAnalyzing:
		t.progress += analyzingStep
		if t.progress >= analyzingCeiling {
			t.progress = analyzingCeiling
			t.state = StateGenerating
		}
	case StateGenerating:
		t.progress += generatingStep
		if t.progress > inFlightCeiling {
			t.progress = inFlightCeiling
		}
	}
	return t.state, t.progress
}

// SetProgress jumps the progress scalar, clamped to [0,100]. It only
// applies while a generation is in flight.
func (t *ProgressTracker) SetProgress(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateAnalyzing && t.state != StateGenerating {
		return
	}
	if p < 0 {
		p = 0
	}
	if p > completedProgress {
		p = completedProgress
	}
	t.progress = p
}

// Complete settles an in-flight generation successfully.
func (t *ProgressTracker) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateAnalyzing && t.state != StateGenerating {
		return ErrInvalidTransition
	}
	t.state = StateComplete
	t.progress = completedProgress
	return nil
}

// Fail settles an in-flight generation with an error. Progress keeps its
// last value so the UI can freeze the bar where it stopped.
func (t *ProgressTracker) Fail() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateAnalyzing && t.state != StateGenerating {
		return ErrInvalidTransition
	}
	t.state = StateError
	return nil
}

// Reset returns a settled tracker to idle. An in-flight generation cannot
// be reset; there is no cancellation.
func (t *ProgressTracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateComplete, StateError:
		t.state = StateIdle
		t.progress = 0
		return nil
	case StateIdle:
		return nil
	default:
		return ErrInvalidTransition
	}
}
