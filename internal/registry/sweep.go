package registry

import (
	"context"
	"log/slog"
	"time"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions     int
	PendingAudio int
	Launches     int

	// Failed counts launch sequences whose Cancel panicked. They are removed
	// regardless.
	Failed int
}

// Sweep removes every entry older than its map's TTL. Expired launch
// sequences are cancelled before removal. An expired session takes its launch
// sequence and pending audio with it, as [Registry.RemoveSession] does. A
// failure on one entry never stops the sweep.
func (r *Registry) Sweep(ctx context.Context) SweepResult {
	now := r.now()

	r.mu.Lock()
	var res SweepResult
	gone := make(map[string]bool)
	for _, k := range r.sessions.expired(now) {
		delete(r.sessions.entries, k)
		gone[k] = true
		res.Sessions++
	}
	for k, e := range r.audio.entries {
		if gone[e.value.SessionID] || now.Sub(e.added) >= r.audio.limits.TTL {
			delete(r.audio.entries, k)
			res.PendingAudio++
		}
	}
	expired := make(map[string]Launch)
	for _, k := range r.launches.expired(now) {
		expired[k] = r.launches.entries[k].value
	}
	for id := range gone {
		if e, ok := r.launches.entries[id]; ok {
			expired[id] = e.value
		}
	}
	r.mu.Unlock()

	for id, l := range expired {
		if err := safeCancel(l); err != nil {
			res.Failed++
			slog.Error("registry: cancel expired launch", "session_id", id, "err", err)
		}
	}

	r.mu.Lock()
	for id, l := range expired {
		// A replacement started during the sweep stays.
		if e, ok := r.launches.entries[id]; ok && e.value == l {
			delete(r.launches.entries, id)
			res.Launches++
		}
	}
	usage := r.usageLocked()
	r.mu.Unlock()

	r.metrics.RecordRegistryDelta(ctx, string(MapSessions), -int64(res.Sessions))
	r.metrics.RecordRegistryDelta(ctx, string(MapPendingAudio), -int64(res.PendingAudio))
	r.metrics.RecordRegistryDelta(ctx, string(MapLaunches), -int64(res.Launches))

	removed := map[MapName]int{MapSessions: res.Sessions, MapPendingAudio: res.PendingAudio, MapLaunches: res.Launches}
	for _, u := range usage {
		level := slog.LevelInfo
		switch {
		case u.Size >= u.Max:
			level = slog.LevelError
		case u.Size >= u.Warn:
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "registry: sweep",
			"map", u.Map,
			"size", u.Size,
			"max", u.Max,
			"percent", u.Percent(),
			"expired", removed[u.Map],
		)
	}
	return res
}

// Start runs Sweep every SweepInterval until ctx is done or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the sweep loop. Safe to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Registry) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
