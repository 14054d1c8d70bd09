package http2

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dgrr/http2/http2utils"
	"github.com/valyala/fastrand"
)

// preface is the fixed 24-byte client connection preface, spec.md §6.1.
var preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// serverConn is the per-connection state machine: the root entity of
// spec.md §3's data model. It owns its Streams by id, never by pointer
// cycle (spec.md §9 "cyclic references").
type serverConn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	cfg     *Config
	handler Handler

	enc *HPACK // encoder: used only from the write goroutine
	dec *HPACK // decoder: used only from the read goroutine

	local *Settings
	peer  *Settings

	streamsMu          sync.Mutex
	streams            Streams
	lastPeerStreamID   uint32
	nextServerStreamID uint32
	totalStreams       int

	connSend *flowWindow
	connRecv *flowWindow

	writeCh chan *FrameHeader
	closer  chan struct{}
	closeOnce sync.Once

	sec        *securityLimits
	rapidReset *rapidResetTracker
	contGuard  *continuationGuard

	// in-progress header block assembly (read-loop-only state)
	hdrStreamID    uint32
	hdrEndStream   bool
	hdrInProgress  bool

	pool      *workerPool
	connWater *watermark

	counters Counters
	hooks    *Hooks

	goAwaySent         bool
	goAwayLastStreamID uint32

	settingsAckPending bool
	settingsAckTimer   *time.Timer

	pingTimer *time.Timer

	closeCauseMu sync.Mutex
	closeCause   error

	wg sync.WaitGroup
}

// forceClose records cause as the reason the connection is going down
// (first writer wins) and closes the transport so a readLoop blocked on
// a socket read unblocks with an error. Serve then reports cause to
// shutdown instead of the generic "use of closed network connection"
// readLoop would otherwise see.
func (sc *serverConn) forceClose(cause error) {
	sc.closeCauseMu.Lock()
	if sc.closeCause == nil {
		sc.closeCause = cause
	}
	sc.closeCauseMu.Unlock()
	sc.c.Close()
}

func newServerConn(c net.Conn, cfg *Config, handler Handler) *serverConn {
	local := defaultSettings()
	local.SetMaxConcurrentStreams(cfg.MaxConcurrentStreams)
	local.SetInitialWindowSize(cfg.InitialWindowSize)
	local.SetMaxFrameSize(cfg.MaxFrameSize)
	local.SetMaxHeaderListSize(cfg.MaxHeaderListSize)
	local.SetHeaderTableSize(cfg.HeaderTableSize)
	local.SetEnablePush(cfg.EnablePush)

	sc := &serverConn{
		c:       c,
		br:      bufio.NewReaderSize(c, 32*1024),
		bw:      bufio.NewWriterSize(c, 32*1024),
		cfg:     cfg,
		handler: handler,

		enc: NewHPACK(),
		dec: NewHPACK(),

		local: local,
		peer:  defaultSettings(),

		connSend: newFlowWindow(DefaultWindowSize),
		connRecv: newFlowWindow(cfg.InitialWindowSize),

		writeCh: make(chan *FrameHeader, 256),
		closer:  make(chan struct{}),

		sec:        newSecurityLimits(),
		rapidReset: newRapidResetTracker(cfg.RapidResetThreshold, cfg.RapidResetWindow),
		contGuard:  newContinuationGuard(),

		pool:      newWorkerPool(cfg.MaxWorkers, cfg.WorkerQueue),
		connWater: newWatermark(cfg.ConnHighWatermark, cfg.ConnLowWatermark),

		hooks: cfg.Hooks,

		nextServerStreamID: 2,
	}

	sc.dec.MaxHeaderListSize = int(cfg.MaxHeaderListSize)

	return sc
}

func (sc *serverConn) logf(format string, args ...interface{}) {
	if sc.cfg.Logger != nil {
		sc.cfg.Logger.Printf(format, args...)
	}
}

// Serve reads the client preface, sends the server's initial SETTINGS,
// and runs the connection to completion. Connections whose preface was
// already consumed by an h2c prior-knowledge detector (h2c.go) go
// through Server.ServePrefaced instead, which shares the rest of this
// logic via run.
func (sc *serverConn) Serve() error {
	if err := sc.handshake(); err != nil {
		sc.c.Close()
		sc.closeCauseMu.Lock()
		if sc.closeCause != nil {
			err = sc.closeCause
		}
		sc.closeCauseMu.Unlock()
		return err
	}

	return sc.run()
}

// run drives the connection once the preface has been consumed and the
// server's initial SETTINGS sent — shared by Serve (which reads the
// preface itself) and Server.ServePrefaced (whose caller already consumed
// it, the h2c prior-knowledge path of h2c.go), so both paths get
// the same writeLoop/pingLoop/shutdown wiring.
func (sc *serverConn) run() error {
	sc.wg.Add(1)
	go sc.writeLoop()

	if sc.cfg.PingInterval > 0 {
		sc.wg.Add(1)
		go sc.pingLoop()
	}

	err := sc.readLoop()

	sc.closeCauseMu.Lock()
	if sc.closeCause != nil {
		err = sc.closeCause
	}
	sc.closeCauseMu.Unlock()

	sc.shutdown(err)
	sc.wg.Wait()
	sc.pool.Close()

	return err
}

// pingLoop sends a keepalive PING on cfg.PingInterval, jittered by up to
// 10% (fastrand) so that many connections opened at once don't all probe
// in lockstep. It must exit via sc.closer like every other connection
// goroutine — Fix #55 in the teacher's history was a pingTimer that fired
// after Serve had already started tearing the connection down, leaking
// the goroutine because nothing selected on sc.closer at the same time.
func (sc *serverConn) pingLoop() {
	defer sc.wg.Done()

	sc.pingTimer = time.NewTimer(jitteredInterval(sc.cfg.PingInterval))
	defer sc.pingTimer.Stop()

	for {
		select {
		case <-sc.closer:
			return
		case <-sc.pingTimer.C:
			p := &Ping{}
			p.SetData(pingPayload())
			sc.enqueueFrame(0, p)
			sc.pingTimer.Reset(jitteredInterval(sc.cfg.PingInterval))
		}
	}
}

// jitteredInterval returns d adjusted by up to +/-10%, so PingInterval
// configured identically across many connections doesn't synchronize
// their probes.
func jitteredInterval(d time.Duration) time.Duration {
	spread := int64(d) / 10
	if spread <= 0 {
		return d
	}
	offset := int64(fastrand.Uint32n(uint32(2*spread))) - spread
	return d + time.Duration(offset)
}

func pingPayload() []byte {
	b := make([]byte, 0, 8)
	b = http2utils.AppendUint32Bytes(b, fastrand.Uint32())
	b = http2utils.AppendUint32Bytes(b, fastrand.Uint32())
	return b
}

func (sc *serverConn) handshake() error {
	buf := make([]byte, len(preface))
	if _, err := readFull(sc.br, buf); err != nil {
		return err
	}
	if string(buf) != string(preface) {
		return ErrBadPreface
	}

	return sc.sendInitialSettings()
}

// sendInitialSettings emits the server's local SETTINGS frame. Split out
// from handshake so the h2c prior-knowledge path (server.go's
// ServePrefaced), which has already consumed the preface itself, can
// call it directly.
func (sc *serverConn) sendInitialSettings() error {
	sc.local.SetAck(false)
	fr := AcquireFrameHeader()
	fr.SetBody(sc.local)
	fr.SetStream(0)
	if _, err := fr.WriteTo(sc.bw); err != nil {
		ReleaseFrameHeader(fr)
		return err
	}
	ReleaseFrameHeader(fr)
	sc.settingsAckPending = true
	sc.settingsAckTimer = time.AfterFunc(sc.cfg.SettingsAckTimeout, func() {
		sc.forceClose(NewConnError(SettingsTimeout, "peer never acknowledged initial SETTINGS"))
	})

	return sc.bw.Flush()
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := br.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// readLoop is the single conceptual reader (spec.md §4.5): it reads one
// frame at a time, dispatches by type, and mutates connection/stream
// state. Besides the socket read, it blocks only in enqueueFrame (for
// SETTINGS/PING acks, RST_STREAM and WINDOW_UPDATE) while writeCh's
// 256-frame buffer is full.
func (sc *serverConn) readLoop() error {
	for {
		select {
		case <-sc.closer:
			return nil
		default:
		}

		fr, err := ReadFrameFromWithSize(sc.br, sc.local_MaxFrameSize())
		if err != nil {
			if err == ErrUnknowFrameType {
				continue
			}
			return err
		}

		sc.counters.BytesRead.Add(int64(fr.Len()) + DefaultFrameSize)
		sc.counters.FramesRead[fr.Type()].Add(1)

		if !sc.sec.Allow(fr.Type()) {
			sc.counters.RateLimitTrips.Add(1)
			ReleaseFrameHeader(fr)
			return NewConnError(EnhanceYourCalm, "rate limit exceeded")
		}

		err = sc.handleFrame(fr)
		ReleaseFrameHeader(fr)
		if err != nil {
			if se, ok := err.(*StreamError); ok {
				sc.writeRstStream(se.Stream, se.Code)
				continue
			}
			return err
		}
	}
}

func (sc *serverConn) local_MaxFrameSize() uint32 {
	v, _ := sc.local.MaxFrameSize()
	return v
}

// peerMaxFrameSize returns the largest DATA payload the peer has told us
// (via SETTINGS_MAX_FRAME_SIZE) it is willing to receive in one frame.
func (sc *serverConn) peerMaxFrameSize() uint32 {
	v, _ := sc.peer.MaxFrameSize()
	return v
}

// reapStream removes st from the Streams collection once its closed-grace
// window (spec.md §3, §9) has elapsed, so CanReceivePriorityWhenClosed
// still works for the grace duration but a finished stream doesn't stay
// in the slice forever (stream.go's closeHook wires this in at insertion).
func (sc *serverConn) reapStream(st *Stream) {
	time.AfterFunc(st.grace, func() {
		sc.streamsMu.Lock()
		if cur := sc.streams.Get(st.id); cur == st {
			sc.streams.Del(st.id)
		}
		sc.streamsMu.Unlock()
	})
}

func (sc *serverConn) handleFrame(fr *FrameHeader) error {
	streamID := fr.Stream()

	if sc.hdrInProgress {
		switch fr.Type() {
		case FrameContinuation, FrameHeaders:
		default:
			return NewConnError(ProtocolError, "frame interleaved within a header block")
		}
		if fr.Type() == FrameContinuation && streamID != sc.hdrStreamID {
			return NewConnError(ProtocolError, "CONTINUATION stream id mismatch")
		}
	}

	switch body := fr.Body().(type) {
	case *Settings:
		return sc.handleSettings(body)
	case *Ping:
		return sc.handlePing(body)
	case *GoAway:
		return sc.handleGoAway(body)
	case *WindowUpdate:
		return sc.handleWindowUpdate(streamID, body)
	case *Priority:
		return sc.handlePriority(streamID, body)
	case *RstStream:
		return sc.handleRstStream(streamID, body)
	case *Headers:
		return sc.handleHeaders(streamID, body)
	case *Continuation:
		return sc.handleContinuation(streamID, body)
	case *Data:
		return sc.handleData(streamID, body)
	case *PushPromise:
		return NewConnError(ProtocolError, "server must not receive PUSH_PROMISE")
	}

	return nil
}

// --- connection-level frames ---

func (sc *serverConn) handleSettings(st *Settings) error {
	if st.IsAck() {
		sc.settingsAckPending = false
		if sc.settingsAckTimer != nil {
			sc.settingsAckTimer.Stop()
		}
		return nil
	}

	if v, ok := st.InitialWindowSize(); ok {
		oldV, _ := sc.peer.InitialWindowSize()
		delta := int32(v) - int32(oldV)
		sc.streamsMu.Lock()
		sc.streams.Each(func(s *Stream) {
			s.send.ApplyInitialWindowDelta(delta)
		})
		sc.streamsMu.Unlock()
	}

	mergeSettings(sc.peer, st)

	if v, ok := st.HeaderTableSize(); ok {
		sc.enc.SetMaxTableSize(int(v))
	}

	ack := &Settings{}
	ack.SetAck(true)
	sc.enqueueFrame(0, ack)

	return nil
}

func mergeSettings(dst, src *Settings) {
	if v, ok := src.HeaderTableSize(); ok {
		dst.SetHeaderTableSize(v)
	}
	if v, ok := src.EnablePush(); ok {
		dst.SetEnablePush(v)
	}
	if v, ok := src.MaxConcurrentStreams(); ok {
		dst.SetMaxConcurrentStreams(v)
	}
	if v, ok := src.InitialWindowSize(); ok {
		dst.SetInitialWindowSize(v)
	}
	if v, ok := src.MaxFrameSize(); ok {
		dst.SetMaxFrameSize(v)
	}
	if v, ok := src.MaxHeaderListSize(); ok {
		dst.SetMaxHeaderListSize(v)
	}
}

func (sc *serverConn) handlePing(p *Ping) error {
	if p.ack {
		return nil
	}
	reply := &Ping{}
	reply.SetData(p.Data())
	reply.ack = true
	sc.enqueueFrame(0, reply)
	return nil
}

func (sc *serverConn) handleGoAway(ga *GoAway) error {
	sc.streamsMu.Lock()
	sc.streams.Each(func(s *Stream) {
		if s.id > ga.Stream() {
			s.onReset()
		}
	})
	sc.streamsMu.Unlock()
	close(sc.closer)
	return nil
}

func (sc *serverConn) handleWindowUpdate(streamID uint32, wu *WindowUpdate) error {
	if wu.Increment() == 0 {
		if streamID == 0 {
			return NewConnError(ProtocolError, "WINDOW_UPDATE increment of 0")
		}
		return NewStreamError(streamID, ProtocolError, "WINDOW_UPDATE increment of 0")
	}

	if streamID == 0 {
		if err := sc.connSend.Increase(int32(wu.Increment())); err != nil {
			return err
		}
		return nil
	}

	st := sc.getStream(streamID)
	if st == nil {
		return nil
	}
	if err := st.send.Increase(int32(wu.Increment())); err != nil {
		return NewStreamError(streamID, FlowControlError, "stream window overflow")
	}
	return nil
}

func (sc *serverConn) handlePriority(streamID uint32, p *Priority) error {
	if streamID == 0 {
		return NewConnError(ProtocolError, "PRIORITY on stream 0")
	}
	if p.Stream() == streamID {
		return NewStreamError(streamID, ProtocolError, "PRIORITY self-dependency")
	}

	st := sc.getStream(streamID)
	if st != nil {
		st.weight = p.Weight()
		st.dependsOn = p.Stream()
		st.exclusive = p.Exclusive()
	}
	return nil
}

func (sc *serverConn) handleRstStream(streamID uint32, rst *RstStream) error {
	if streamID == 0 {
		return NewConnError(ProtocolError, "RST_STREAM on stream 0")
	}

	st := sc.getStream(streamID)
	if st == nil {
		return nil
	}
	st.onReset()
	sc.counters.StreamsReset.Add(1)

	if sc.rapidReset.RecordReset() {
		sc.counters.RapidResetTrips.Add(1)
		sc.hooks.securityEvent("rapid-reset", "threshold exceeded")
		return NewConnError(EnhanceYourCalm, "rapid reset threshold exceeded")
	}

	return nil
}

// --- header-bearing frames ---

func (sc *serverConn) handleHeaders(streamID uint32, h *Headers) error {
	if streamID == 0 {
		return NewConnError(ProtocolError, "HEADERS on stream 0")
	}
	if h.HasPriority() && h.Stream() == streamID {
		return NewStreamError(streamID, ProtocolError, "HEADERS self-dependency")
	}

	st := sc.getStream(streamID)
	trailers := false

	if st == nil {
		if streamID%2 == 0 || streamID <= sc.lastPeerStreamID {
			return NewConnError(ProtocolError, "non-monotonic client stream id")
		}

		if !sc.admitStream(streamID) {
			sc.writeRstStream(streamID, RefusedStreamError)
			sc.counters.StreamsRefused.Add(1)
			return nil
		}

		iw, _ := sc.local.InitialWindowSize()
		piw, _ := sc.peer.InitialWindowSize()
		st = newStream(streamID, piw, iw, sc.cfg.ClosedStreamGrace)
		st.water = newWatermark(sc.cfg.StreamHighWatermark, sc.cfg.StreamLowWatermark)
		st.closeHook = sc.reapStream
		st.setState(StateOpen)

		sc.streamsMu.Lock()
		sc.streams.Insert(st)
		sc.lastPeerStreamID = streamID
		sc.streamsMu.Unlock()

		sc.counters.StreamsOpened.Add(1)
		sc.hooks.streamOpen(streamID)
	} else {
		if err := st.validateReceive(FrameHeaders); err != nil {
			return err
		}
		trailers = st.sawHeaders
	}

	st.sawHeaders = true
	st.hasTrailers = trailers

	sc.contGuard.reset()
	if err := sc.contGuard.Track(len(h.Headers())); err != nil {
		return err
	}

	sc.hdrInProgress = !h.EndHeaders()
	sc.hdrStreamID = streamID
	sc.hdrEndStream = h.EndStream()

	st.headerBlock = append(st.headerBlock[:0], h.Headers()...)

	if h.EndHeaders() {
		return sc.finishHeaderBlock(st, trailers)
	}

	return nil
}

func (sc *serverConn) handleContinuation(streamID uint32, c *Continuation) error {
	st := sc.getStream(streamID)
	if st == nil {
		return NewConnError(ProtocolError, "CONTINUATION on unknown stream")
	}

	if err := sc.contGuard.Track(len(c.Headers())); err != nil {
		return err
	}

	st.headerBlock = append(st.headerBlock, c.Headers()...)

	if c.EndHeaders() {
		sc.hdrInProgress = false
		return sc.finishHeaderBlock(st, st.hasTrailers)
	}

	return nil
}

func (sc *serverConn) finishHeaderBlock(st *Stream, trailers bool) error {
	block := st.headerBlock
	st.headerBlock = nil

	res, err := sc.dec.Decode(block)
	if err != nil {
		// validateHeaderField's PROTOCOL_ERRORs (uppercase or invalid
		// names/values) arise only after the whole block was decoded, so
		// HPACK state is still in step with the peer: reset just st.
		if se, ok := err.(*StreamError); ok && se.Code == ProtocolError {
			releaseFields(res.Fields)
			sc.writeRstStream(st.id, ProtocolError)
			return nil
		}
		return NewConnError(CompressionError, "HPACK decode failure")
	}

	if res.ExceedsLimit {
		sc.counters.HPACKDecodeErrors.Add(1)
		releaseFields(res.Fields)
		sc.writeRstStream(st.id, RefusedStreamError)
		return nil
	}

	if trailers {
		trailer := fieldsToHeader(res.Fields, true)
		releaseFields(res.Fields)
		if req := st.pendingRequest; req != nil {
			req.setTrailer(trailer)
		}
		if sc.hdrEndStream {
			sc.finishStreamRead(st)
		}
		return nil
	}

	req, err := sc.buildRequest(st, res.Fields)
	releaseFields(res.Fields)
	if err != nil {
		sc.writeRstStream(st.id, ProtocolError)
		return nil
	}

	st.pendingRequest = req

	if sc.hdrEndStream {
		sc.finishStreamRead(st)
	}

	sc.dispatch(st, req)

	return nil
}

func releaseFields(fields []*HeaderField) {
	for _, f := range fields {
		ReleaseHeaderField(f)
	}
}

func fieldsToHeader(fields []*HeaderField, skipPseudo bool) http.Header {
	h := make(http.Header, len(fields))
	for _, f := range fields {
		if skipPseudo && f.IsPseudo() {
			continue
		}
		h.Add(f.Key(), f.Value())
	}
	return h
}

func (sc *serverConn) buildRequest(st *Stream, fields []*HeaderField) (*Request, error) {
	req := newRequest()

	for _, f := range fields {
		switch {
		case http2utils.EqualsFold(f.KeyBytes(), StringMethod):
			req.Method = f.Value()
		case http2utils.EqualsFold(f.KeyBytes(), StringScheme):
			req.Scheme = f.Value()
		case http2utils.EqualsFold(f.KeyBytes(), StringAuthority):
			req.Authority = f.Value()
		case http2utils.EqualsFold(f.KeyBytes(), StringPath):
			req.Path = f.Value()
		default:
			if f.IsPseudo() {
				return nil, NewStreamError(st.id, ProtocolError, "unknown pseudo-header")
			}
			req.Header.Add(f.Key(), f.Value())
		}
	}

	if req.Method == "" || req.Path == "" || req.Scheme == "" {
		return nil, NewStreamError(st.id, ProtocolError, "missing mandatory pseudo-header")
	}

	req.Body = &streamBodyReader{st: st}

	return req, nil
}

func (sc *serverConn) finishStreamRead(st *Stream) {
	st.onEndStreamReceived()
	st.closeBody()
}

func (sc *serverConn) handleData(streamID uint32, d *Data) error {
	if streamID == 0 {
		return NewConnError(ProtocolError, "DATA on stream 0")
	}

	n := int32(len(d.Data()))
	sc.connRecv.Consume(n)

	st := sc.getStream(streamID)
	if st == nil {
		return NewStreamError(streamID, StreamClosedError, "DATA on unknown stream")
	}
	if err := st.validateReceive(FrameData); err != nil {
		return err
	}

	st.recv.Consume(n)
	st.pushBody(d.Data())

	if d.EndStream() {
		sc.finishStreamRead(st)
	}

	if inc := sc.connRecv.NextUpdate(float64(n)); inc > 0 {
		sc.sendWindowUpdate(0, inc)
	}
	if inc := st.recv.NextUpdate(float64(n)); inc > 0 {
		sc.sendWindowUpdate(streamID, inc)
	}

	return nil
}

// --- admission & dispatch ---

func (sc *serverConn) admitStream(id uint32) bool {
	sc.streamsMu.Lock()
	defer sc.streamsMu.Unlock()

	maxConc, _ := sc.local.MaxConcurrentStreams()
	if sc.streams.CountOpen() >= int(maxConc) {
		return false
	}
	if sc.totalStreams >= sc.cfg.MaxTotalStreams {
		return false
	}

	sc.totalStreams++
	return true
}

func (sc *serverConn) getStream(id uint32) *Stream {
	sc.streamsMu.Lock()
	defer sc.streamsMu.Unlock()
	return sc.streams.Get(id)
}

func (sc *serverConn) dispatch(st *Stream, req *Request) {
	rw := newResponseWriter(sc, st.id)

	ok := sc.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				sc.counters.HandlerPanics.Add(1)
				sc.resetStream(st.id, InternalError)
			}
			rw.Close()
		}()
		sc.handler(req, rw)
	})

	if !ok {
		sc.writeRstStream(st.id, RefusedStreamError)
		sc.counters.StreamsRefused.Add(1)
	}
}

// --- frameSink implementation (called from handler goroutines) ---

func (sc *serverConn) writeResponseHeaders(streamID uint32, status int, h http.Header, endStream bool) error {
	hdr := &Headers{}
	hdr.SetEndHeaders(true)
	hdr.SetEndStream(endStream)

	statusField := AcquireHeaderField()
	statusField.SetKeyBytes(StringStatus)
	statusField.SetValueBytes(itoaBytes(status))
	hdr.AppendHeaderField(sc.enc, statusField, true)
	ReleaseHeaderField(statusField)

	appendHeaderMap(hdr, sc.enc, h)

	sc.enqueueFrame(streamID, hdr)

	if endStream {
		if st := sc.getStream(streamID); st != nil {
			st.onEndStreamSent()
		}
	}

	return nil
}

// appendHeaderMap HPACK-encodes every (name, value) pair of h into hdr,
// lowercasing names in place: RFC 7540 §8.1.2 requires lowercase field
// names on the wire, but an http.Header built by a handler (or copied
// out of a fasthttp.RequestCtx) carries Go's canonical MIME case.
func appendHeaderMap(hdr *Headers, enc *HPACK, h http.Header) {
	for k, vs := range h {
		name := ToLower([]byte(k))
		for _, v := range vs {
			f := AcquireHeaderField()
			f.SetKeyBytes(name)
			f.SetValue(v)
			hdr.AppendHeaderField(enc, f, false)
			ReleaseHeaderField(f)
		}
	}
}

func itoaBytes(n int) []byte {
	if n == 0 {
		return []byte("0")
	}
	var buf [8]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}

// writeResponseData emits b as one or more DATA frames, each capped at
// the peer's SETTINGS_MAX_FRAME_SIZE and gated on min(conn.send,
// stream.send) (spec.md §4.3 "Send side", §8): a handler producing
// faster than the peer grants credit blocks here instead of overrunning
// the flow-control window.
func (sc *serverConn) writeResponseData(streamID uint32, b []byte, endStream bool) error {
	st := sc.getStream(streamID)
	if st == nil {
		return NewStreamError(streamID, StreamClosedError, "write on unknown or closed stream")
	}

	if len(b) == 0 {
		// A zero-length DATA frame (typically a bare END_STREAM marker)
		// is exempt from flow-control accounting, RFC 7540 §6.9.1.
		if err := sc.emitDataFrame(st, streamID, nil, endStream); err != nil {
			return err
		}
	} else {
		for len(b) > 0 {
			n, err := sc.awaitSendCredit(st, len(b))
			if err != nil {
				return err
			}

			chunk := b[:n]
			b = b[n:]

			if err := sc.emitDataFrame(st, streamID, chunk, endStream && len(b) == 0); err != nil {
				return err
			}
		}
	}

	if endStream {
		st.onEndStreamSent()
	}

	return nil
}

// maxResponsePaddingOverhead bounds the extra bytes http2utils.AddPadding
// may append to a DATA payload (1-byte pad-length prefix + up to 255
// bytes of padding): RFC 7540 §6.9.1 counts padding against flow
// control, so awaitSendCredit must reserve this headroom up front,
// before the random pad length is actually chosen in Data.Serialize.
const maxResponsePaddingOverhead = 256

// awaitSendCredit blocks until up to want bytes of logical DATA payload
// may be sent on st, returning however many payload bytes (excluding any
// padding reserve) were granted from both the connection- and
// stream-level send windows. It wakes via flowWindow's broadcast
// channels rather than polling (the same idiom as watermark.resumeCh),
// and gives up if st is reset or the connection starts shutting down
// while it waits.
func (sc *serverConn) awaitSendCredit(st *Stream, want int) (int, error) {
	overhead := 0
	if sc.cfg.PadResponseData {
		overhead = maxResponsePaddingOverhead
	}

	if mfs := int(sc.peerMaxFrameSize()); mfs > 0 && want+overhead > mfs {
		want = mfs - overhead
	}
	if want <= 0 {
		want = 1
	}
	total := int32(want + overhead)

	for {
		select {
		case <-st.writeDone:
			return 0, NewStreamError(st.id, StreamClosedError, "stream closed while awaiting flow-control credit")
		case <-sc.closer:
			return 0, ErrConnClosed
		default:
		}

		connReady := sc.connSend.Notify()
		n := sc.connSend.TakeUpTo(total)
		if n <= int32(overhead) {
			if n > 0 {
				sc.connSend.Refund(n)
			}
			select {
			case <-connReady:
				continue
			case <-st.writeDone:
				return 0, NewStreamError(st.id, StreamClosedError, "stream closed while awaiting flow-control credit")
			case <-sc.closer:
				return 0, ErrConnClosed
			}
		}

		streamReady := st.send.Notify()
		m := st.send.TakeUpTo(n)
		if m <= int32(overhead) {
			sc.connSend.Refund(n)
			if m > 0 {
				st.send.Refund(m)
			}
			select {
			case <-streamReady:
				continue
			case <-st.writeDone:
				return 0, NewStreamError(st.id, StreamClosedError, "stream closed while awaiting flow-control credit")
			case <-sc.closer:
				return 0, ErrConnClosed
			}
		}
		if m < n {
			sc.connSend.Refund(n - m)
		}

		return int(m) - overhead, nil
	}
}

// emitDataFrame queues one DATA frame and applies the connection- and
// stream-level write watermarks (spec.md §4.7): a handler writing faster
// than writeLoop can drain the socket pauses here until writeLoop's
// Done call (on the other side of the actual write) drops the queue
// back below the low watermark.
func (sc *serverConn) emitDataFrame(st *Stream, streamID uint32, b []byte, endStream bool) error {
	d := &Data{}
	d.SetData(b)
	d.SetEndStream(endStream)
	if len(b) > 0 {
		// A zero-length frame relies on RFC 7540 §6.9.1's flow-control
		// exemption; padding it would turn it into a frame that counts
		// against the window without ever having reserved credit.
		d.SetPadding(sc.cfg.PadResponseData)
	}
	sc.enqueueFrame(streamID, d)

	n := int64(len(b))
	if sc.connWater.Add(n) {
		<-sc.connWater.Wait()
	}
	if st.water.Add(n) {
		<-st.water.Wait()
	}

	return nil
}

func (sc *serverConn) writeTrailers(streamID uint32, h http.Header) error {
	hdr := &Headers{}
	hdr.SetEndHeaders(true)
	hdr.SetEndStream(true)

	appendHeaderMap(hdr, sc.enc, h)

	sc.enqueueFrame(streamID, hdr)

	if st := sc.getStream(streamID); st != nil {
		st.onEndStreamSent()
	}

	return nil
}

func (sc *serverConn) resetStream(streamID uint32, code ErrorCode) {
	sc.writeRstStream(streamID, code)
}

func (sc *serverConn) writeRstStream(streamID uint32, code ErrorCode) {
	rst := &RstStream{}
	rst.SetCode(code)
	sc.enqueueFrame(streamID, rst)

	st := sc.getStream(streamID)
	if st != nil {
		st.onReset()
		sc.hooks.streamClose(streamID, code)
	}
}

func (sc *serverConn) sendWindowUpdate(streamID uint32, inc uint32) {
	wu := AcquireWindowUpdate()
	wu.SetIncrement(inc)
	sc.enqueueFrame(streamID, wu)
}

// --- write serialization ---

func (sc *serverConn) enqueueFrame(streamID uint32, body Frame) {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)
	fr.SetBody(body)

	select {
	case sc.writeCh <- fr:
	case <-sc.closer:
		ReleaseFrameHeader(fr)
	}
}

// writeLoop is the single serializing writer (spec.md §4.5): it drains
// writeCh in FIFO order and flushes once the channel is momentarily
// empty or a batch threshold is hit, coalescing the buffered writer's
// underlying syscalls across several queued frames.
func (sc *serverConn) writeLoop() {
	defer sc.wg.Done()

	const batchFlush = 10
	pending := 0

	for {
		select {
		case fr, ok := <-sc.writeCh:
			if !ok {
				sc.bw.Flush()
				return
			}

			isData := fr.Type() == FrameData
			streamID := fr.Stream()
			var dn int64
			if isData {
				// The unpadded payload length, taken before WriteTo runs
				// Serialize (which appends any padding): it's what
				// emitDataFrame accounted in connWater/st.water's Add.
				dn = int64(len(fr.Body().(*Data).Data()))
			}

			n, err := fr.WriteTo(sc.bw)
			sc.counters.BytesWritten.Add(n)
			sc.counters.FramesWritten[fr.Type()].Add(1)

			if isData {
				sc.connWater.Done(dn)
				st := sc.getStream(streamID)
				if st != nil {
					st.water.Done(dn)
				}
				if fr.Flags().Has(FlagPadded) {
					// awaitSendCredit reserved maxResponsePaddingOverhead
					// for padding; give back what Serialize did not use.
					unused := int32(maxResponsePaddingOverhead - (fr.Len() - int(dn)))
					sc.connSend.Refund(unused)
					if st != nil {
						st.send.Refund(unused)
					}
				}
			}

			ReleaseFrameHeader(fr)
			if err != nil {
				return
			}

			pending++
			if pending >= batchFlush || len(sc.writeCh) == 0 {
				sc.bw.Flush()
				pending = 0
			}

		case <-sc.closer:
			sc.bw.Flush()
			return
		}
	}
}

// --- shutdown ---

func (sc *serverConn) shutdown(cause error) {
	sc.closeOnce.Do(func() {
		code := NoError
		if ce, ok := cause.(*ConnError); ok {
			code = ce.Code
		} else if cause != nil {
			code = InternalError
		}

		// Stop writeLoop first: it and this goroutine must never touch
		// sc.bw concurrently, and the GOAWAY below is written outside
		// the writeCh/writeLoop serialization path.
		select {
		case <-sc.closer:
		default:
			close(sc.closer)
		}
		sc.wg.Wait()

		if sc.settingsAckTimer != nil {
			sc.settingsAckTimer.Stop()
		}

		ga := &GoAway{}
		ga.SetStream(sc.lastPeerStreamID)
		ga.SetCode(code)
		fr := AcquireFrameHeader()
		fr.SetStream(0)
		fr.SetBody(ga)
		fr.WriteTo(sc.bw)
		ReleaseFrameHeader(fr)
		sc.bw.Flush()

		sc.goAwaySent = true
		sc.goAwayLastStreamID = sc.lastPeerStreamID

		sc.streamsMu.Lock()
		sc.streams.Each(func(s *Stream) { s.onReset() })
		sc.streamsMu.Unlock()

		sc.c.Close()
	})
}
