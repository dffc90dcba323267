// Package registry is the process-wide store of ephemeral session state.
//
// It tracks three bounded maps: active sessions, pending audio and in-flight
// launch sequences. Each map has a hard maximum and a warning threshold
// below it. Admission at the maximum fails with [*CapacityExceededError];
// entries are never evicted to make room. A periodic sweep removes entries
// older than each map's TTL, cancelling launch sequences before they are
// dropped.
//
// All exported methods are safe for concurrent use.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talecast/internal/observe"
)

// MapName identifies one of the registry's maps.
type MapName string

const (
	MapSessions     MapName = "sessions"
	MapPendingAudio MapName = "pending_audio"
	MapLaunches     MapName = "launches"
)

// Default limits.
const (
	DefaultMaxSessions     = 500
	DefaultMaxPendingAudio = 500
	DefaultMaxLaunches     = 200

	DefaultSessionTTL      = 30 * time.Minute
	DefaultPendingAudioTTL = 10 * time.Minute
	DefaultLaunchTTL       = 15 * time.Minute

	DefaultSweepInterval = time.Minute

	// DefaultWarnPercent places the warning threshold relative to max.
	DefaultWarnPercent = 80
)

// Limits bounds one map.
type Limits struct {
	// Max is the hard capacity. Admission at Max fails.
	Max int

	// Warn is the size at which sweeps log a warning. Zero means
	// [DefaultWarnPercent] of Max.
	Warn int

	// TTL is the age after which the sweep removes an entry.
	TTL time.Duration
}

func (l Limits) withDefaults(max int, ttl time.Duration) Limits {
	if l.Max <= 0 {
		l.Max = max
	}
	if l.TTL <= 0 {
		l.TTL = ttl
	}
	if l.Warn <= 0 || l.Warn > l.Max {
		l.Warn = l.Max * DefaultWarnPercent / 100
	}
	return l
}

// Config holds the limits of every map.
type Config struct {
	Sessions      Limits
	PendingAudio  Limits
	Launches      Limits
	SweepInterval time.Duration
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	c.Sessions = c.Sessions.withDefaults(DefaultMaxSessions, DefaultSessionTTL)
	c.PendingAudio = c.PendingAudio.withDefaults(DefaultMaxPendingAudio, DefaultPendingAudioTTL)
	c.Launches = c.Launches.withDefaults(DefaultMaxLaunches, DefaultLaunchTTL)
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// CapacityExceededError is returned when a map is full.
type CapacityExceededError struct {
	Map  MapName
	Size int
	Max  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("registry: %s at capacity (%d/%d)", e.Map, e.Size, e.Max)
}

// Session is an active client session.
type Session struct {
	ID        string
	StartedAt time.Time

	// NarratorVoiceID is the narrator voice chosen for the session.
	NarratorVoiceID string
}

// PendingAudio is synthesized audio waiting to be fetched by a client.
type PendingAudio struct {
	SessionID  string
	Part       string
	Audio      []byte
	SampleRate int
}

// Launch is the part of a launch sequence the registry needs.
type Launch interface {
	SessionID() string
	Cancel()
}

// entry wraps a value with its admission time.
type entry[V any] struct {
	value V
	added time.Time
}

// bounded is a capacity-limited map. Callers hold the registry mutex.
type bounded[V any] struct {
	name    MapName
	limits  Limits
	entries map[string]entry[V]
}

func newBounded[V any](name MapName, limits Limits) *bounded[V] {
	return &bounded[V]{name: name, limits: limits, entries: make(map[string]entry[V])}
}

// admit checks room for key. An existing key is always admitted.
func (b *bounded[V]) admit(key string) error {
	if _, ok := b.entries[key]; ok {
		return nil
	}
	return b.full()
}

func (b *bounded[V]) full() error {
	if n := len(b.entries); n >= b.limits.Max {
		return &CapacityExceededError{Map: b.name, Size: n, Max: b.limits.Max}
	}
	return nil
}

// expired returns the keys older than the TTL at now.
func (b *bounded[V]) expired(now time.Time) []string {
	var keys []string
	for k, e := range b.entries {
		if now.Sub(e.added) >= b.limits.TTL {
			keys = append(keys, k)
		}
	}
	return keys
}

// Option configures a [Registry].
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records gauges and rejections on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry holds the bounded session state maps.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	sessions *bounded[Session]
	audio    *bounded[PendingAudio]
	launches *bounded[Launch]

	now     func() time.Time
	metrics *observe.Metrics

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a registry. Zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Registry {
	cfg.applyDefaults()
	r := &Registry{
		cfg:      cfg,
		sessions: newBounded[Session](MapSessions, cfg.Sessions),
		audio:    newBounded[PendingAudio](MapPendingAudio, cfg.PendingAudio),
		launches: newBounded[Launch](MapLaunches, cfg.Launches),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// CanAdmit reports whether a new entry fits in the named map.
func (r *Registry) CanAdmit(name MapName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case MapSessions:
		return r.sessions.full()
	case MapPendingAudio:
		return r.audio.full()
	case MapLaunches:
		return r.launches.full()
	default:
		return fmt.Errorf("registry: unknown map %q", name)
	}
}

func (r *Registry) reject(err error) error {
	if ce, ok := err.(*CapacityExceededError); ok {
		r.metrics.RecordCapacityRejection(context.Background(), string(ce.Map))
		slog.Warn("registry: admission refused", "map", ce.Map, "size", ce.Size, "max", ce.Max)
	}
	return err
}

// ── Sessions ───────────────────────────────────────────────────────────────

// AddSession admits s. Re-adding an existing ID refreshes it without
// needing capacity.
func (r *Registry) AddSession(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sessions.admit(s.ID); err != nil {
		return r.reject(err)
	}
	if _, ok := r.sessions.entries[s.ID]; !ok {
		r.metrics.RecordRegistryDelta(context.Background(), string(MapSessions), 1)
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = r.now()
	}
	r.sessions.entries[s.ID] = entry[Session]{value: s, added: r.now()}
	return nil
}

// Session returns the session with id.
func (r *Registry) Session(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions.entries[id]
	return e.value, ok
}

// RemoveSession drops a session and cancels its launch sequence. It reports
// whether the session existed.
func (r *Registry) RemoveSession(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions.entries[id]
	if ok {
		delete(r.sessions.entries, id)
		r.metrics.RecordRegistryDelta(context.Background(), string(MapSessions), -1)
	}
	l, hasLaunch := r.launches.entries[id]
	if hasLaunch {
		delete(r.launches.entries, id)
		r.metrics.RecordRegistryDelta(context.Background(), string(MapLaunches), -1)
	}
	r.mu.Unlock()

	if hasLaunch {
		_ = safeCancel(l.value)
	}
	return ok
}

// ── Pending audio ──────────────────────────────────────────────────────────

// PutPendingAudio stores audio under key. Replacing an existing key needs no
// capacity.
func (r *Registry) PutPendingAudio(key string, a PendingAudio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.audio.admit(key); err != nil {
		return r.reject(err)
	}
	if _, ok := r.audio.entries[key]; !ok {
		r.metrics.RecordRegistryDelta(context.Background(), string(MapPendingAudio), 1)
	}
	r.audio.entries[key] = entry[PendingAudio]{value: a, added: r.now()}
	return nil
}

// CanAdmitPendingAudio reports whether every key fits at once. Keys already
// held need no room.
func (r *Registry) CanAdmitPendingAudio(keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioRoomLocked(keys)
}

// PutPendingAudioAll stores every item or none of them. It fails with
// [*CapacityExceededError] when the new keys do not fit together.
func (r *Registry) PutPendingAudioAll(items map[string]PendingAudio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	if err := r.audioRoomLocked(keys); err != nil {
		return r.reject(err)
	}
	now := r.now()
	for k, a := range items {
		if _, ok := r.audio.entries[k]; !ok {
			r.metrics.RecordRegistryDelta(context.Background(), string(MapPendingAudio), 1)
		}
		r.audio.entries[k] = entry[PendingAudio]{value: a, added: now}
	}
	return nil
}

func (r *Registry) audioRoomLocked(keys []string) error {
	fresh := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := r.audio.entries[k]; !ok {
			fresh[k] = true
		}
	}
	n := len(r.audio.entries)
	if limit := r.audio.limits.Max; len(fresh) > 0 && n+len(fresh) > limit {
		return &CapacityExceededError{Map: MapPendingAudio, Size: n, Max: limit}
	}
	return nil
}

// TakePendingAudio removes and returns the audio under key.
func (r *Registry) TakePendingAudio(key string) (PendingAudio, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.audio.entries[key]
	if ok {
		delete(r.audio.entries, key)
		r.metrics.RecordRegistryDelta(context.Background(), string(MapPendingAudio), -1)
	}
	return e.value, ok
}

// ── Launch sequences ───────────────────────────────────────────────────────

// StartLaunch registers l as the active sequence of its session. A previous
// sequence for the same session is cancelled and replaced without needing
// capacity.
func (r *Registry) StartLaunch(l Launch) error {
	id := l.SessionID()
	r.mu.Lock()
	if err := r.launches.admit(id); err != nil {
		r.mu.Unlock()
		return r.reject(err)
	}
	prev, superseded := r.launches.entries[id]
	if !superseded {
		r.metrics.RecordRegistryDelta(context.Background(), string(MapLaunches), 1)
	}
	r.launches.entries[id] = entry[Launch]{value: l, added: r.now()}
	r.mu.Unlock()

	if superseded && prev.value != l {
		slog.Info("registry: superseding launch sequence", "session_id", id)
		_ = safeCancel(prev.value)
	}
	return nil
}

// Launch returns the active sequence of a session.
func (r *Registry) Launch(sessionID string) (Launch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.launches.entries[sessionID]
	return e.value, ok
}

// FinishLaunch removes l if it is still the active sequence of its session.
// A superseded sequence finishing late leaves its replacement in place.
func (r *Registry) FinishLaunch(l Launch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := l.SessionID()
	if e, ok := r.launches.entries[id]; ok && e.value == l {
		delete(r.launches.entries, id)
		r.metrics.RecordRegistryDelta(context.Background(), string(MapLaunches), -1)
	}
}

// CancelLaunches cancels and removes every active sequence. It returns how
// many were removed.
func (r *Registry) CancelLaunches(ctx context.Context) int {
	r.mu.Lock()
	all := make([]Launch, 0, len(r.launches.entries))
	for _, e := range r.launches.entries {
		all = append(all, e.value)
	}
	r.mu.Unlock()

	for _, l := range all {
		if err := safeCancel(l); err != nil {
			slog.Error("registry: cancel launch", "session_id", l.SessionID(), "err", err)
		}
		r.FinishLaunch(l)
	}
	if len(all) > 0 {
		slog.InfoContext(ctx, "registry: cancelled launch sequences", "count", len(all))
	}
	return len(all)
}

// safeCancel calls l.Cancel and converts a panic into an error.
func safeCancel(l Launch) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("registry: cancel launch of session %s: %v", l.SessionID(), p)
		}
	}()
	l.Cancel()
	return nil
}

// ── Sizes and limits ───────────────────────────────────────────────────────

// Usage is the fill level of one map.
type Usage struct {
	Map  MapName
	Size int
	Warn int
	Max  int
}

// Percent is Size as a percentage of Max.
func (u Usage) Percent() int {
	if u.Max == 0 {
		return 0
	}
	return u.Size * 100 / u.Max
}

// Usage returns the fill level of every map.
func (r *Registry) Usage() []Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usageLocked()
}

func (r *Registry) usageLocked() []Usage {
	return []Usage{
		{Map: MapSessions, Size: len(r.sessions.entries), Warn: r.sessions.limits.Warn, Max: r.sessions.limits.Max},
		{Map: MapPendingAudio, Size: len(r.audio.entries), Warn: r.audio.limits.Warn, Max: r.audio.limits.Max},
		{Map: MapLaunches, Size: len(r.launches.entries), Warn: r.launches.limits.Warn, Max: r.launches.limits.Max},
	}
}

// SetWarnThresholds updates the warning thresholds. Maximums and TTLs are
// fixed for the registry's lifetime.
func (r *Registry) SetWarnThresholds(sessions, pendingAudio, launches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := func(l *Limits, warn int) {
		if warn > 0 && warn <= l.Max {
			l.Warn = warn
		}
	}
	set(&r.sessions.limits, sessions)
	set(&r.audio.limits, pendingAudio)
	set(&r.launches.limits, launches)
}

// Ready returns an error when any map is at capacity.
func (r *Registry) Ready(context.Context) error {
	for _, u := range r.Usage() {
		if u.Size >= u.Max {
			return &CapacityExceededError{Map: u.Map, Size: u.Size, Max: u.Max}
		}
	}
	return nil
}
