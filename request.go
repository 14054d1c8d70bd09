package http2

import (
	"io"
	"net/http"

	"github.com/valyala/bytebufferpool"
)

// Request is the generic, framework-agnostic view of an incoming
// request handed to a Handler (spec.md §6.3). It intentionally does not
// depend on fasthttp or net/http's server types; fasthttpadaptor.go
// bridges it to fasthttp.RequestCtx for embedders that want that.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    http.Header

	Body io.Reader

	trailer      http.Header
	hasTrailer   bool
}

func newRequest() *Request {
	return &Request{Header: make(http.Header)}
}

// Trailer returns the request trailer fields, if any were received.
func (r *Request) Trailer() (http.Header, bool) {
	return r.trailer, r.hasTrailer
}

func (r *Request) setTrailer(h http.Header) {
	r.trailer = h
	r.hasTrailer = true
}

// streamBodyReader adapts a Stream's body queue to io.Reader.
type streamBodyReader struct {
	st  *Stream
	buf []byte
}

func (b *streamBodyReader) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		chunk, err := b.st.waitAndTakeBody()
		if err != nil {
			return 0, err
		}
		b.buf = chunk
	}

	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// ReadAllBody drains r (typically a Request.Body streamBodyReader) into
// a single contiguous slice, using a pooled bytebufferpool.ByteBuffer as
// scratch space instead of io.ReadAll's repeated reallocation — handlers
// that need the whole body at once (e.g. FastHTTPAdaptor) use this
// rather than growing their own buffer by hand.
func ReadAllBody(r io.Reader) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}
