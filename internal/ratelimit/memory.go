package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCleanupInterval bounds how often expired windows are purged.
const DefaultCleanupInterval = 60 * time.Second

type window struct {
	mu        sync.Mutex
	count     int
	resetAtMs int64
	dead      bool
}

// MemoryStore keeps windows in a process-local map with one lock per key.
// Expired windows are purged lazily from within Check, never by a timer.
type MemoryStore struct {
	windows         sync.Map // key -> *window
	cleanupInterval time.Duration
	lastSweepMs     atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cleanupInterval: DefaultCleanupInterval}
}

func (s *MemoryStore) Check(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	s.maybeSweep(nowMs)

	windowMs := p.Window.Milliseconds()
	for {
		v, _ := s.windows.LoadOrStore(key, &window{})
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			// swept between load and lock
			w.mu.Unlock()
			continue
		}
		res := w.admit(nowMs, windowMs, p.MaxRequests)
		w.mu.Unlock()
		return res, nil
	}
}

func (w *window) admit(nowMs, windowMs int64, max int) Result {
	if w.resetAtMs == 0 || nowMs >= w.resetAtMs {
		w.count = 1
		w.resetAtMs = nowMs + windowMs
		return Result{Allowed: true, Limit: max, Remaining: max - 1, ResetAtMs: w.resetAtMs}
	}
	if w.count < max {
		w.count++
		return Result{Allowed: true, Limit: max, Remaining: max - w.count, ResetAtMs: w.resetAtMs}
	}
	return Result{Allowed: false, Limit: max, Remaining: 0, ResetAtMs: w.resetAtMs}
}

func (s *MemoryStore) maybeSweep(nowMs int64) {
	last := s.lastSweepMs.Load()
	if last == 0 {
		s.lastSweepMs.CompareAndSwap(0, nowMs)
		return
	}
	if nowMs-last <= s.cleanupInterval.Milliseconds() {
		return
	}
	if !s.lastSweepMs.CompareAndSwap(last, nowMs) {
		return // another caller is sweeping
	}

	s.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		if w.resetAtMs != 0 && nowMs >= w.resetAtMs {
			w.dead = true
			s.windows.Delete(k)
		}
		w.mu.Unlock()
		return true
	})
}

// Len reports the number of tracked windows.
func (s *MemoryStore) Len() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
