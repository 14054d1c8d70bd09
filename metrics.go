package http2

import "sync/atomic"

// Counters is a set of lock-free, no-I/O observability counters
// (spec.md §2 row 8). An embedder snapshots them periodically and feeds
// its own metrics exporter; this package never does I/O on their
// behalf.
type Counters struct {
	FramesRead       [10]atomic.Int64
	FramesWritten    [10]atomic.Int64
	StreamsOpened    atomic.Int64
	StreamsRefused   atomic.Int64
	StreamsReset     atomic.Int64
	BytesRead        atomic.Int64
	BytesWritten     atomic.Int64
	HPACKDecodeErrors atomic.Int64
	RateLimitTrips   atomic.Int64
	RapidResetTrips  atomic.Int64
	HandlerPanics    atomic.Int64
}

// CountersSnapshot is a point-in-time copy of Counters safe to read
// without further synchronization.
type CountersSnapshot struct {
	FramesRead        [10]int64
	FramesWritten     [10]int64
	StreamsOpened     int64
	StreamsRefused    int64
	StreamsReset      int64
	BytesRead         int64
	BytesWritten      int64
	HPACKDecodeErrors int64
	RateLimitTrips    int64
	RapidResetTrips   int64
	HandlerPanics     int64
}

// Snapshot returns a consistent-enough (not atomic-as-a-whole) copy of c.
func (c *Counters) Snapshot() CountersSnapshot {
	var s CountersSnapshot
	for i := range c.FramesRead {
		s.FramesRead[i] = c.FramesRead[i].Load()
		s.FramesWritten[i] = c.FramesWritten[i].Load()
	}
	s.StreamsOpened = c.StreamsOpened.Load()
	s.StreamsRefused = c.StreamsRefused.Load()
	s.StreamsReset = c.StreamsReset.Load()
	s.BytesRead = c.BytesRead.Load()
	s.BytesWritten = c.BytesWritten.Load()
	s.HPACKDecodeErrors = c.HPACKDecodeErrors.Load()
	s.RateLimitTrips = c.RateLimitTrips.Load()
	s.RapidResetTrips = c.RapidResetTrips.Load()
	s.HandlerPanics = c.HandlerPanics.Load()
	return s
}

// Hooks are optional callbacks an embedder wires in to observe
// connection/stream lifecycle events without this module depending on
// any particular metrics backend.
type Hooks struct {
	OnStreamOpen    func(streamID uint32)
	OnStreamClose   func(streamID uint32, code ErrorCode)
	OnSecurityEvent func(kind string, detail string)
}

func (h *Hooks) streamOpen(id uint32) {
	if h != nil && h.OnStreamOpen != nil {
		h.OnStreamOpen(id)
	}
}

func (h *Hooks) streamClose(id uint32, code ErrorCode) {
	if h != nil && h.OnStreamClose != nil {
		h.OnStreamClose(id, code)
	}
}

func (h *Hooks) securityEvent(kind, detail string) {
	if h != nil && h.OnSecurityEvent != nil {
		h.OnSecurityEvent(kind, detail)
	}
}
