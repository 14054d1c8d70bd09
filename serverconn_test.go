package http2

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clientSide bundles a net.Conn half of a net.Pipe with bufio plumbing and
// a private HPACK encoder/decoder, standing in for a conformant peer.
type clientSide struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	enc  *HPACK
	dec  *HPACK
}

func newClientSide(conn net.Conn) *clientSide {
	return &clientSide{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
		enc:  NewHPACK(),
		dec:  NewHPACK(),
	}
}

func (c *clientSide) sendPrefaceAndSettings(t *testing.T) {
	t.Helper()
	_, err := c.bw.Write(preface)
	require.NoError(t, err)

	fr := AcquireFrameHeader()
	fr.SetBody(&Settings{})
	_, err = fr.WriteTo(c.bw)
	require.NoError(t, err)
	require.NoError(t, c.bw.Flush())
}

func (c *clientSide) readFrame(t *testing.T) *FrameHeader {
	t.Helper()
	fr, err := ReadFrameFrom(c.br)
	require.NoError(t, err)
	return fr
}

func (c *clientSide) sendRequest(t *testing.T, streamID uint32, method, scheme, authority, path string, body []byte) {
	t.Helper()

	var raw []byte
	add := func(k, v string) {
		hf := AcquireHeaderField()
		hf.SetKey(k)
		hf.SetValue(v)
		raw = c.enc.AppendHeader(raw, hf, false)
		ReleaseHeaderField(hf)
	}
	add(":method", method)
	add(":scheme", scheme)
	add(":authority", authority)
	add(":path", path)

	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetEndHeaders(true)
	h.SetEndStream(len(body) == 0)
	h.SetHeaders(raw)

	fr := AcquireFrameHeader()
	fr.SetStream(streamID)
	fr.SetBody(h)
	_, err := fr.WriteTo(c.bw)
	require.NoError(t, err)
	require.NoError(t, c.bw.Flush())

	if len(body) > 0 {
		d := AcquireFrame(FrameData).(*Data)
		d.SetData(body)
		d.SetEndStream(true)
		dfr := AcquireFrameHeader()
		dfr.SetStream(streamID)
		dfr.SetBody(d)
		_, err := dfr.WriteTo(c.bw)
		require.NoError(t, err)
		require.NoError(t, c.bw.Flush())
	}
}

func (c *clientSide) decodeHeaders(t *testing.T, h *Headers) http.Header {
	t.Helper()
	res, err := c.dec.Decode(h.Headers())
	require.NoError(t, err)

	out := make(http.Header, len(res.Fields))
	for _, f := range res.Fields {
		out.Add(f.Key(), f.Value())
	}
	releaseFields(res.Fields)
	return out
}

func newTestServerConn(t *testing.T, handler Handler, configure ...func(*Config)) (*serverConn, *clientSide, chan error) {
	t.Helper()

	clientConn, serverConn2 := net.Pipe()
	cfg := DefaultConfig()
	for _, f := range configure {
		f(cfg)
	}
	sc := newServerConn(serverConn2, cfg, handler)

	done := make(chan error, 1)
	go func() { done <- sc.Serve() }()

	cs := newClientSide(clientConn)
	cs.sendPrefaceAndSettings(t)

	// initial server SETTINGS
	srvSettings := cs.readFrame(t)
	require.Equal(t, FrameSettings, srvSettings.Type())
	require.False(t, srvSettings.Body().(*Settings).IsAck())
	ReleaseFrameHeader(srvSettings)

	// SETTINGS ack for the client's empty SETTINGS frame
	ack := cs.readFrame(t)
	require.Equal(t, FrameSettings, ack.Type())
	require.True(t, ack.Body().(*Settings).IsAck())
	ReleaseFrameHeader(ack)

	return sc, cs, done
}

func TestServerConnSimpleGetRequest(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) {
		require.Equal(t, "GET", req.Method)
		require.Equal(t, "/greet", req.Path)
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(201)
		w.Write([]byte("hello"))
	}

	_, cs, done := newTestServerConn(t, handler)
	defer func() { cs.conn.Close(); <-done }()

	cs.sendRequest(t, 1, "GET", "http", "example.com", "/greet", nil)

	respHeaders := cs.readFrame(t)
	require.Equal(t, FrameHeaders, respHeaders.Type())
	hdrs := cs.decodeHeaders(t, respHeaders.Body().(*Headers))
	require.Equal(t, "201", hdrs.Get(":status"))
	require.Equal(t, "yes", hdrs.Get("x-test"))
	ReleaseFrameHeader(respHeaders)

	dataFr := cs.readFrame(t)
	require.Equal(t, FrameData, dataFr.Type())
	d := dataFr.Body().(*Data)
	require.Equal(t, "hello", string(d.Data()))
	require.True(t, d.EndStream())
	ReleaseFrameHeader(dataFr)
}

func TestServerConnRequestWithBody(t *testing.T) {
	received := make(chan string, 1)
	handler := func(req *Request, w *ResponseWriter) {
		b, err := ReadAllBody(req.Body)
		require.NoError(t, err)
		received <- string(b)
		w.WriteHeader(200)
	}

	_, cs, done := newTestServerConn(t, handler)
	defer func() { cs.conn.Close(); <-done }()

	cs.sendRequest(t, 1, "POST", "http", "example.com", "/echo", []byte("payload-bytes"))

	select {
	case got := <-received:
		require.Equal(t, "payload-bytes", got)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the request body")
	}

	respHeaders := cs.readFrame(t)
	require.Equal(t, FrameHeaders, respHeaders.Type())
	ReleaseFrameHeader(respHeaders)
}

func TestServerConnPingIntervalSendsKeepalive(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) { w.WriteHeader(200) }

	_, cs, done := newTestServerConn(t, handler, func(c *Config) {
		c.PingInterval = 20 * time.Millisecond
	})
	defer func() { cs.conn.Close(); <-done }()

	fr := cs.readFrame(t)
	require.Equal(t, FramePing, fr.Type())
	p := fr.Body().(*Ping)
	require.False(t, p.ack)
	ReleaseFrameHeader(fr)
}

// TestConnCloseStopsPingTimer guards against the teacher's own "Fix #55":
// a PING timer firing in the same instant the connection is torn down
// must not leak the pingLoop goroutine or block Serve's return. Closing
// the client side races pingLoop's ticks against shutdown; Serve must
// still return promptly either way.
func TestConnCloseStopsPingTimer(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) { w.WriteHeader(200) }

	_, cs, done := newTestServerConn(t, handler, func(c *Config) {
		c.PingInterval = time.Millisecond
	})

	cs.conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the client closed mid-ping, pingLoop likely leaked")
	}
}

func TestServerConnSettingsAckTimeoutClosesConn(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) { w.WriteHeader(200) }

	clientConn, serverConn2 := net.Pipe()
	cfg := DefaultConfig()
	cfg.SettingsAckTimeout = 20 * time.Millisecond
	sc := newServerConn(serverConn2, cfg, handler)

	done := make(chan error, 1)
	go func() { done <- sc.Serve() }()

	// Send the preface but withhold the client SETTINGS frame's ack path
	// entirely by never writing anything further: the server's initial
	// SETTINGS goes unacknowledged until SettingsAckTimeout fires.
	_, err := clientConn.Write(preface)
	require.NoError(t, err)
	defer clientConn.Close()

	select {
	case err := <-done:
		ce, ok := err.(*ConnError)
		require.True(t, ok, "expected a ConnError from the settings-ack timeout, got %v", err)
		require.Equal(t, SettingsTimeout, ce.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed after the settings-ack timeout elapsed")
	}
}

// TestServerConnWriteResponseDataStallsOnFlowControlAndResumes drives
// SPEC_FULL.md's named stalled-sender scenario: the client advertises a
// stream-level SETTINGS_INITIAL_WINDOW_SIZE of 1, so the server can only
// emit the first byte of a 2-byte response body, must stall without
// sending anything further, and may only resume once a WINDOW_UPDATE
// replenishes the stream's send window.
func TestServerConnWriteResponseDataStallsOnFlowControlAndResumes(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) {
		w.WriteHeader(200)
		w.Write([]byte("xy"))
	}

	_, cs, done := newTestServerConn(t, handler)
	defer func() { cs.conn.Close(); <-done }()

	// Shrink the stream-level send window to 1 byte before opening the
	// stream, so the new stream's send window is seeded from it.
	tinyWindow := &Settings{}
	tinyWindow.SetInitialWindowSize(1)
	fr := AcquireFrameHeader()
	fr.SetBody(tinyWindow)
	_, err := fr.WriteTo(cs.bw)
	require.NoError(t, err)
	require.NoError(t, cs.bw.Flush())

	ack := cs.readFrame(t)
	require.True(t, ack.Body().(*Settings).IsAck())
	ReleaseFrameHeader(ack)

	cs.sendRequest(t, 1, "GET", "http", "example.com", "/", nil)

	respHeaders := cs.readFrame(t)
	require.Equal(t, FrameHeaders, respHeaders.Type())
	ReleaseFrameHeader(respHeaders)

	first := cs.readFrame(t)
	require.Equal(t, FrameData, first.Type())
	d := first.Body().(*Data)
	require.Equal(t, "x", string(d.Data()))
	require.False(t, d.EndStream())
	ReleaseFrameHeader(first)

	readDone := make(chan *FrameHeader, 1)
	go func() {
		fr, err := ReadFrameFrom(cs.br)
		if err == nil {
			readDone <- fr
		}
	}()

	select {
	case <-readDone:
		t.Fatal("server sent a second frame before any WINDOW_UPDATE despite an exhausted stream window")
	case <-time.After(100 * time.Millisecond):
	}

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(10)
	wuFr := AcquireFrameHeader()
	wuFr.SetStream(1)
	wuFr.SetBody(wu)
	_, err = wuFr.WriteTo(cs.bw)
	require.NoError(t, err)
	require.NoError(t, cs.bw.Flush())

	select {
	case second := <-readDone:
		d2 := second.Body().(*Data)
		require.Equal(t, "y", string(d2.Data()))
		require.True(t, d2.EndStream())
		ReleaseFrameHeader(second)
	case <-time.After(2 * time.Second):
		t.Fatal("server never resumed sending after the stream-level WINDOW_UPDATE")
	}
}

func TestServerConnRapidResetTripsGoAway(t *testing.T) {
	handler := func(req *Request, w *ResponseWriter) {
		w.WriteHeader(200)
	}

	_, cs, done := newTestServerConn(t, handler, func(c *Config) {
		c.RapidResetThreshold = 2
		c.RapidResetWindow = time.Minute
	})
	defer cs.conn.Close()

	// drain every frame the server sends back so its writeLoop never
	// blocks on an unread response while we're busy sending resets.
	go func() {
		for {
			fr, err := ReadFrameFrom(cs.br)
			if err != nil {
				return
			}
			ReleaseFrameHeader(fr)
		}
	}()

	// threshold is 2: the 3rd reset within the window must cross it and
	// trip the connection closed with EnhanceYourCalm.
	for i := 0; i < 3; i++ {
		streamID := uint32(2*i + 1)
		cs.sendRequest(t, streamID, "GET", "http", "example.com", "/x", nil)

		rst := AcquireFrame(FrameResetStream).(*RstStream)
		rst.SetCode(CancelError)
		fr := AcquireFrameHeader()
		fr.SetStream(streamID)
		fr.SetBody(rst)
		if _, err := fr.WriteTo(cs.bw); err != nil {
			break // the connection may already be closing by the final iteration
		}
		if err := cs.bw.Flush(); err != nil {
			break
		}
	}

	select {
	case err := <-done:
		ce, ok := err.(*ConnError)
		require.True(t, ok, "expected a ConnError from the rapid-reset guard, got %v", err)
		require.Equal(t, EnhanceYourCalm, ce.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never shut down after crossing the rapid-reset threshold")
	}
}
