package http2

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectPriorKnowledgeTrueOnFullPreface(t *testing.T) {
	br := bufio.NewReader(newStaticReader(preface))
	ok, err := DetectPriorKnowledge(br)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDetectPriorKnowledgeFalseOnHTTP1RequestLine(t *testing.T) {
	br := bufio.NewReader(newStaticReader([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")))
	ok, err := DetectPriorKnowledge(br)
	require.NoError(t, err)
	require.False(t, ok)
}

// newStaticReader pads b so br.Peek(PrefaceLen) never short-reads in the
// tests above, mirroring a real socket with more bytes already buffered.
func newStaticReader(b []byte) *staticReader {
	padded := make([]byte, len(b), len(b)+PrefaceLen)
	copy(padded, b)
	for len(padded) < PrefaceLen {
		padded = append(padded, 0)
	}
	return &staticReader{data: padded}
}

type staticReader struct {
	data []byte
	pos  int
}

func (r *staticReader) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// TestServeConnRejectsNonH2ALPN exercises the cleartext rejection path
// guarding spec.md §6.2: a negotiated ALPN that isn't "h2" and isn't
// cleartext must not start the connection engine at all.
func TestServeConnRejectsNonH2ALPN(t *testing.T) {
	clientConn, serverConn2 := net.Pipe()
	defer clientConn.Close()

	srv := NewServer(func(req *Request, w *ResponseWriter) { w.WriteHeader(200) })

	err := srv.ServeConn(serverConn2, "http/1.1")
	ce, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, ProtocolError, ce.Code)
}

// TestServePrefacedRunsH2COverClearText exercises the h2c prior-knowledge
// handoff: a caller peeks the preface itself via DetectPriorKnowledge,
// discards it with ConsumePreface, then hands the buffered reader to
// ServePrefaced instead of ServeConn re-reading the preface a second time.
func TestServePrefacedRunsH2COverClearText(t *testing.T) {
	clientConn, serverConn2 := net.Pipe()

	srv := NewServer(func(req *Request, w *ResponseWriter) {
		require.Equal(t, "GET", req.Method)
		w.WriteHeader(200)
	}, WithAllowH2C(true))

	br := bufio.NewReader(serverConn2)
	done := make(chan error, 1)
	go func() {
		ok, err := DetectPriorKnowledge(br)
		if err != nil || !ok {
			done <- err
			return
		}
		if err := ConsumePreface(br); err != nil {
			done <- err
			return
		}
		done <- srv.ServePrefaced(serverConn2, br)
	}()

	cs := newClientSide(clientConn)
	cs.sendPrefaceAndSettings(t)

	srvSettings := cs.readFrame(t)
	require.Equal(t, FrameSettings, srvSettings.Type())
	ReleaseFrameHeader(srvSettings)

	ack := cs.readFrame(t)
	require.True(t, ack.Body().(*Settings).IsAck())
	ReleaseFrameHeader(ack)

	cs.sendRequest(t, 1, "GET", "http", "example.com", "/", nil)

	respHeaders := cs.readFrame(t)
	require.Equal(t, FrameHeaders, respHeaders.Type())
	hdrs := cs.decodeHeaders(t, respHeaders.Body().(*Headers))
	require.Equal(t, "200", hdrs.Get(":status"))
	ReleaseFrameHeader(respHeaders)

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServePrefaced never returned after the client closed")
	}
}
