package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation, calls pass through.
	Open                  // Failing, calls are rejected immediately.
	HalfOpen              // One probe call is allowed through.
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Outcome classifies a call for the breaker.
type Outcome int

const (
	Success Outcome = iota // Resets the failure count and closes a half-open breaker.
	Failure                // Counts toward opening the breaker.
	Ignore                 // Leaves state and failures untouched.
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and lets a single
// probe through once resetTimeout has elapsed.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	onChange     func(State)
	now          func() time.Time
}

// New creates a Breaker. maxFailures below 1 is treated as 1.
func New(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		state:        Closed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// OnStateChange registers fn to be called, under the breaker lock, on every transition.
func (b *Breaker) OnStateChange(fn func(State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Execute runs fn unless the breaker is open. A nil return from fn counts
// as success; anything else as failure.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteOutcome(func() (Outcome, error) {
		if err := fn(); err != nil {
			return Failure, err
		}
		return Success, nil
	})
}

// ExecuteOutcome runs fn unless the breaker is open and records the outcome
// fn reports. An ignored half-open probe frees the probe slot for the next call.
func (b *Breaker) ExecuteOutcome(fn func() (Outcome, error)) error {
	if err := b.admit(); err != nil {
		return err
	}
	outcome, err := fn()
	b.record(outcome)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.transition(HalfOpen)
		b.probing = true
	case HalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == HalfOpen
	b.probing = false

	switch outcome {
	case Ignore:
		return
	case Success:
		b.failures = 0
		b.transition(Closed)
		return
	}

	b.failures++
	if wasProbe || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.transition(Open)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(to)
	}
}

// State returns the current state of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
