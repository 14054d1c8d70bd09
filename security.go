package http2

import (
	"sync"
	"time"
)

// tokenBucket is a per-frame-type rate limiter: cap tokens are available
// per second, refilled once per second to cap (spec.md §4.6). It is not
// a leaky/continuous bucket — matching the spec's literal "refilled once
// per second" wording rather than a smoother algorithm.
type tokenBucket struct {
	mu        sync.Mutex
	cap       int
	remaining int
	lastRefill time.Time
}

func newTokenBucket(cap int) *tokenBucket {
	return &tokenBucket{cap: cap, remaining: cap, lastRefill: time.Now()}
}

// Take consumes one token, refilling first if a second has elapsed.
// Returns false if no tokens remain.
func (b *tokenBucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.lastRefill) >= time.Second {
		b.remaining = b.cap
		b.lastRefill = now
	}

	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// securityLimits are the per-connection token buckets for the frame
// types spec.md §4.6 names.
type securityLimits struct {
	settings      *tokenBucket
	ping          *tokenBucket
	priority      *tokenBucket
	rstStream     *tokenBucket
	windowUpdate  *tokenBucket
}

func newSecurityLimits() *securityLimits {
	return &securityLimits{
		settings:     newTokenBucket(10),
		ping:         newTokenBucket(10),
		priority:     newTokenBucket(100),
		rstStream:    newTokenBucket(100),
		windowUpdate: newTokenBucket(100),
	}
}

// Allow reports whether a frame of the given type may be processed,
// consuming a token if the type is rate-limited. Frame types not named
// in spec.md §4.6 are always allowed.
func (s *securityLimits) Allow(t FrameType) bool {
	switch t {
	case FrameSettings:
		return s.settings.Take()
	case FramePing:
		return s.ping.Take()
	case FramePriority:
		return s.priority.Take()
	case FrameResetStream:
		return s.rstStream.Take()
	case FrameWindowUpdate:
		return s.windowUpdate.Take()
	default:
		return true
	}
}

// rapidResetTracker implements the CVE-2023-44487 guard: a sliding
// 10-second window counting streams that were opened and then cancelled
// (RST_STREAM in either direction) soon after.
type rapidResetTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	events    []time.Time
}

func newRapidResetTracker(threshold int, window time.Duration) *rapidResetTracker {
	if window <= 0 {
		window = DefaultRapidResetWindow
	}
	return &rapidResetTracker{window: window, threshold: threshold}
}

// RecordReset registers one rapid-cancel event (a stream reset shortly
// after being opened) and reports whether the connection has crossed the
// configured threshold.
func (r *rapidResetTracker) RecordReset() (exceeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.events = append(kept, now)

	return len(r.events) > r.threshold
}

// continuationGuard caps the number and cumulative size of CONTINUATION
// frames belonging to one header block (spec.md §4.6), defending
// against the CONTINUATION-flood class of attacks.
type continuationGuard struct {
	maxFrames int
	maxBytes  int

	frames int
	bytes  int
}

func newContinuationGuard() *continuationGuard {
	return &continuationGuard{maxFrames: 20, maxBytes: 32 << 10}
}

func (g *continuationGuard) reset() {
	g.frames = 0
	g.bytes = 0
}

// Track registers n additional header-block bytes (from a HEADERS or
// CONTINUATION frame) and reports an error once either cap is exceeded.
func (g *continuationGuard) Track(n int) error {
	g.frames++
	g.bytes += n

	if g.frames > g.maxFrames || g.bytes > g.maxBytes {
		return NewConnError(CompressionError, "continuation flood")
	}

	return nil
}
