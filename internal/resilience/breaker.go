// Package resilience keeps provider calls inside bounds: per-backend circuit
// breakers, ordered failover across backends of one provider kind, and
// bounded retry with backoff.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen admits one probe at a time. Enough successful probes
	// close the breaker; a faulty probe re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log records, usually the provider name.
	Name string

	// Threshold is the number of consecutive faults that opens the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long an open breaker rejects calls before it admits a
	// probe. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of consecutive successful probes that close a
	// half-open breaker. Default: 2.
	Probes int

	// IsFault reports whether err counts against the backend. Errors that
	// are not faults neither open the breaker nor reset its fault count.
	// Default: every error except context cancellation.
	IsFault func(error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 2
	}
	if c.IsFault == nil {
		c.IsFault = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return c
}

// Breaker is a three-state circuit breaker guarding one backend.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	faults   int
	openedAt time.Time
	probing  bool
	probeOK  int
}

// NewBreaker returns a closed [Breaker]. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Do runs fn unless the breaker rejects the call, in which case it returns
// [ErrCircuitOpen] without calling fn. fn's error is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	fault := err != nil && b.cfg.IsFault(err)
	switch {
	case fault && probe:
		b.transition(StateOpen)
	case fault:
		b.faults++
		if b.state == StateClosed && b.faults >= b.cfg.Threshold {
			b.transition(StateOpen)
		}
	case err != nil:
		// Not the backend's fault: leaves the counters alone.
	case probe:
		b.probeOK++
		if b.probeOK >= b.cfg.Probes {
			b.transition(StateClosed)
		}
	case b.state == StateClosed:
		b.faults = 0
	}
}

// transition moves to state and resets the counters of the new state. Must be
// called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.probeOK = 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		slog.Warn("resilience: circuit opened", "name", b.cfg.Name, "from", from, "faults", b.faults)
	case StateClosed:
		b.faults = 0
		slog.Info("resilience: circuit closed", "name", b.cfg.Name, "from", from)
	case StateHalfOpen:
		slog.Info("resilience: circuit half-open, probing", "name", b.cfg.Name)
	}
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}
