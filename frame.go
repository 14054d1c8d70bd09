package http2

import "sync"

// FrameType identifies one of the ten HTTP/2 frame types.
//
// https://tools.ietf.org/html/rfc7540#section-11.2
type FrameType uint8

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameResetStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// FrameFlags are the 8 per-frame flag bits. Unrecognized bits MUST be
// ignored by the reader and MUST be zero on send unless set explicitly.
type FrameFlags uint8

// Has reports whether f carries all bits of other.
func (f FrameFlags) Has(other FrameFlags) bool {
	return f&other == other
}

// Add returns f with other's bits set.
func (f FrameFlags) Add(other FrameFlags) FrameFlags {
	return f | other
}

// Del returns f with other's bits cleared.
func (f FrameFlags) Del(other FrameFlags) FrameFlags {
	return f &^ other
}

// Frame is implemented by every frame payload type. A FrameHeader owns
// exactly one Frame body at a time (see frameHeader.go).
type Frame interface {
	Type() FrameType
	// Deserialize populates the frame from fr's already-read payload.
	Deserialize(fr *FrameHeader) error
	// Serialize renders the frame's fields into fr's payload buffer and
	// sets any frame-level flags it implies.
	Serialize(fr *FrameHeader)
}

var (
	dataPool         = sync.Pool{New: func() interface{} { return &Data{} }}
	headersPool      = sync.Pool{New: func() interface{} { return &Headers{} }}
	priorityPool     = sync.Pool{New: func() interface{} { return &Priority{} }}
	rstStreamPool    = sync.Pool{New: func() interface{} { return &RstStream{} }}
	settingsPool     = sync.Pool{New: func() interface{} { return &Settings{} }}
	pushPromisePool  = sync.Pool{New: func() interface{} { return &PushPromise{} }}
	pingPool         = sync.Pool{New: func() interface{} { return &Ping{} }}
	goAwayPool       = sync.Pool{New: func() interface{} { return &GoAway{} }}
	continuationPool = sync.Pool{New: func() interface{} { return &Continuation{} }}
)

type reseter interface {
	Reset()
}

// AcquireFrame returns a pooled, reset Frame body for the given type.
// WindowUpdate has its own Acquire/Release pair (windowupdate.go) because
// it predates this registry; AcquireFrame still dispatches to it so the
// frame reader has one call site for every type.
func AcquireFrame(kind FrameType) Frame {
	var fr Frame

	switch kind {
	case FrameData:
		fr = dataPool.Get().(*Data)
	case FrameHeaders:
		fr = headersPool.Get().(*Headers)
	case FramePriority:
		fr = priorityPool.Get().(*Priority)
	case FrameResetStream:
		fr = rstStreamPool.Get().(*RstStream)
	case FrameSettings:
		fr = settingsPool.Get().(*Settings)
	case FramePushPromise:
		fr = pushPromisePool.Get().(*PushPromise)
	case FramePing:
		fr = pingPool.Get().(*Ping)
	case FrameGoAway:
		fr = goAwayPool.Get().(*GoAway)
	case FrameWindowUpdate:
		fr = AcquireWindowUpdate()
	case FrameContinuation:
		fr = continuationPool.Get().(*Continuation)
	default:
		return nil
	}

	if r, ok := fr.(reseter); ok {
		r.Reset()
	}

	return fr
}

// ReleaseFrame returns fr to its pool. Safe to call with nil.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}

	switch f := fr.(type) {
	case *Data:
		dataPool.Put(f)
	case *Headers:
		headersPool.Put(f)
	case *Priority:
		priorityPool.Put(f)
	case *RstStream:
		rstStreamPool.Put(f)
	case *Settings:
		settingsPool.Put(f)
	case *PushPromise:
		pushPromisePool.Put(f)
	case *Ping:
		pingPool.Put(f)
	case *GoAway:
		goAwayPool.Put(f)
	case *WindowUpdate:
		ReleaseWindowUpdate(f)
	case *Continuation:
		continuationPool.Put(f)
	}
}
