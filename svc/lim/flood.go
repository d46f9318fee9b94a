package lim

import (
	"context"
	"sync"
	"time"

	"zerobin/metrics"
	"zerobin/svc/util"
)

// Marker records posts in a shared store, implemented by db.Redis.
type Marker interface {
	MarkPost(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Flood rejects a second post from the same client inside the window.
// Keys are hashed client addresses, never raw IPs.
type Flood struct {
	window time.Duration
	marker Marker
	mu     sync.Mutex
	last   map[string]time.Time
	now    func() time.Time
}

func NewFlood(window time.Duration, marker Marker) *Flood {
	return &Flood{
		window: window,
		marker: marker,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow registers a post from key and reports whether it may proceed.
func (f *Flood) Allow(ctx context.Context, key string) bool {
	if f.window <= 0 {
		return true
	}
	ok := f.allow(ctx, key)
	if !ok {
		metrics.FloodRejected.Inc()
	}
	return ok
}

func (f *Flood) allow(ctx context.Context, key string) bool {
	if f.marker != nil {
		ok, err := f.marker.MarkPost(ctx, key, f.window)
		if err == nil {
			return ok
		}
		util.Warn().Err(err).Msg("shared flood marks unavailable, using local map")
	}
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, seen := f.last[key]; seen && now.Sub(last) < f.window {
		return false
	}
	f.last[key] = now
	return true
}

// Sweep forgets posts older than the window.
func (f *Flood) Sweep() int {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, t := range f.last {
		if now.Sub(t) >= f.window {
			delete(f.last, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (f *Flood) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := f.Sweep(); n > 0 {
					util.Debug().Int("removed", n).Msg("flood map sweep")
				}
			}
		}
	}()
}
