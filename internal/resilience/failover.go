package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when no member of a [Failover] produced a result.
// The error also wraps every member's own error.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds a primary backend and ordered fallbacks of the same provider
// kind. Each member sits behind its own [Breaker]; members with an open
// circuit are skipped.
type Failover[T any] struct {
	cfg BreakerConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewFailover returns a group whose first member is primary. cfg is applied
// to every member's breaker with the member name filled in.
func NewFailover[T any](primaryName string, primary T, cfg BreakerConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a fallback, tried after all earlier members.
func (f *Failover[T]) Add(name string, v T) {
	cfg := f.cfg
	cfg.Name = name
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// States returns each member's breaker state keyed by member name.
func (f *Failover[T]) States() map[string]State {
	out := make(map[string]State)
	for _, m := range f.snapshot() {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Check returns an error wrapping [ErrCircuitOpen] when every member's
// circuit is open, so readiness probes can report a dead provider slot.
func (f *Failover[T]) Check(context.Context) error {
	for _, m := range f.snapshot() {
		if m.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: no backend available", ErrCircuitOpen)
}

func (f *Failover[T]) snapshot() []member[T] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.members
}

// Call runs fn against each member in order and returns the first success.
// A context cancellation stops the walk immediately and is returned as is.
func Call[T, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range f.snapshot() {
		var res R
		err := m.breaker.Do(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", m.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
