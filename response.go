package http2

import (
	"net/http"
	"sync"
)

// Handler is the request-handler contract (spec.md §6.3). It MUST
// eventually call ResponseWriter.Close (directly or via the connection
// engine's post-handler cleanup) so the stream reaches HALF_CLOSED_LOCAL
// / CLOSED.
type Handler func(*Request, *ResponseWriter)

// frameSink is the subset of the connection engine a ResponseWriter
// needs, kept as an interface so response.go does not depend on
// serverConn's internals.
type frameSink interface {
	writeResponseHeaders(streamID uint32, status int, h http.Header, endStream bool) error
	writeResponseData(streamID uint32, b []byte, endStream bool) error
	writeTrailers(streamID uint32, h http.Header) error
	resetStream(streamID uint32, code ErrorCode)
}

// streamCtx is the per-stream state a ResponseWriter and Request share
// with the connection engine.
type streamCtx struct {
	sink     frameSink
	streamID uint32

	mu          sync.Mutex
	header      http.Header
	status      int
	wroteHeader bool
	closed      bool

	closeNotify chan struct{}
}

// ResponseWriter is the generic, framework-agnostic response sink handed
// to a Handler (spec.md §6.3).
type ResponseWriter struct {
	ctx      *streamCtx
	trailers http.Header
}

func newResponseWriter(sink frameSink, streamID uint32) *ResponseWriter {
	return &ResponseWriter{ctx: &streamCtx{
		sink:        sink,
		streamID:    streamID,
		header:      make(http.Header),
		status:      200,
		closeNotify: make(chan struct{}),
	}}
}

// Header returns the response header map, mutable until WriteHeader.
func (w *ResponseWriter) Header() http.Header {
	return w.ctx.header
}

// WriteHeader sets the response status and flushes the response HEADERS
// frame. It is a no-op if already called.
func (w *ResponseWriter) WriteHeader(status int) {
	w.ctx.mu.Lock()
	defer w.ctx.mu.Unlock()

	if w.ctx.wroteHeader {
		return
	}
	w.ctx.wroteHeader = true
	w.ctx.status = status

	w.ctx.sink.writeResponseHeaders(w.ctx.streamID, status, w.ctx.header, false)
}

// Write sends b as response body bytes, implicitly calling WriteHeader
// with 200 if it hasn't been called yet.
func (w *ResponseWriter) Write(b []byte) (int, error) {
	w.ctx.mu.Lock()
	if !w.ctx.wroteHeader {
		w.ctx.wroteHeader = true
		w.ctx.sink.writeResponseHeaders(w.ctx.streamID, w.ctx.status, w.ctx.header, false)
	}
	w.ctx.mu.Unlock()

	if err := w.ctx.sink.writeResponseData(w.ctx.streamID, b, false); err != nil {
		return 0, err
	}

	return len(b), nil
}

// Flush is a no-op placeholder for handlers written against a streaming
// contract; every Write already submits its frame to the write
// serializer immediately, so there is no client-visible buffering to
// flush.
func (w *ResponseWriter) Flush() {}

// SetTrailer stages trailer fields to be sent as a final HEADERS frame
// when Close is called.
func (w *ResponseWriter) SetTrailer(h http.Header) {
	w.ctx.mu.Lock()
	defer w.ctx.mu.Unlock()
	w.trailers = h
}

// CloseNotify returns the stream's close-notification channel. The
// connection engine does not close it when the peer resets the stream or
// the connection shuts down; only notifyClosed closes it.
func (w *ResponseWriter) CloseNotify() <-chan struct{} {
	return w.ctx.closeNotify
}

// Close finalizes the response: it emits an empty END_STREAM DATA frame
// (or END_STREAM on the HEADERS frame if no body was ever written). When
// trailers are staged, neither of those carries END_STREAM; the final
// trailers HEADERS frame does.
func (w *ResponseWriter) Close() error {
	w.ctx.mu.Lock()
	if w.ctx.closed {
		w.ctx.mu.Unlock()
		return nil
	}
	w.ctx.closed = true

	if !w.ctx.wroteHeader {
		w.ctx.wroteHeader = true
		w.ctx.sink.writeResponseHeaders(w.ctx.streamID, w.ctx.status, w.ctx.header, w.trailers == nil)
		w.ctx.mu.Unlock()
		if w.trailers != nil {
			return w.ctx.sink.writeTrailers(w.ctx.streamID, w.trailers)
		}
		return nil
	}
	w.ctx.mu.Unlock()

	if err := w.ctx.sink.writeResponseData(w.ctx.streamID, nil, w.trailers == nil); err != nil {
		return err
	}
	if w.trailers != nil {
		return w.ctx.sink.writeTrailers(w.ctx.streamID, w.trailers)
	}
	return nil
}

func (w *ResponseWriter) notifyClosed() {
	w.ctx.mu.Lock()
	defer w.ctx.mu.Unlock()
	select {
	case <-w.ctx.closeNotify:
	default:
		close(w.ctx.closeNotify)
	}
}
