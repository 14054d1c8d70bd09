package http2

import (
	"bufio"
	"net"
)

// Server is the top-level HTTP/2 connection factory (spec.md §6.1,
// §11.1). It owns no listener and does no TLS/ALPN negotiation itself:
// an embedder accepts connections and negotiates ALPN however it likes,
// then hands the result to ServeConn.
type Server struct {
	cfg     *Config
	handler Handler
}

// NewServer builds a Server from handler and opts, starting from
// DefaultConfig and applying opts in order.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Server{cfg: cfg, handler: handler}
}

// ServeConn runs the HTTP/2 connection engine over conn until the
// connection closes or a fatal protocol error occurs. alpn is the
// negotiated protocol id the caller observed during its own TLS
// handshake ("h2", "http/1.1", or "" for cleartext); ServeConn itself
// never touches crypto/tls (spec.md §1, §11.1).
//
// Cleartext (h2c) connections are supported only when cfg.AllowH2C is
// set; detecting prior-knowledge vs an HTTP/1.1 Upgrade request is the
// caller's job via DetectPriorKnowledge (h2c.go). ServeConn reads conn
// through a fresh bufio.Reader, so a connection whose bytes were already
// peeked into the caller's bufio.Reader goes to ServePrefaced instead.
func (s *Server) ServeConn(conn net.Conn, alpn string) error {
	if alpn == "" {
		if !s.cfg.AllowH2C {
			return NewConnError(ProtocolError, "cleartext HTTP/2 is not enabled")
		}
	} else if alpn != H2TLSProto {
		return NewConnError(ProtocolError, "negotiated ALPN protocol is not h2")
	}

	sc := newServerConn(conn, s.cfg, s.handler)
	return sc.Serve()
}

// ServePrefaced runs the connection engine over a connection whose
// 24-byte client preface has already been consumed by the caller (the
// h2c prior-knowledge path, spec.md §4.5). br carries any bytes the
// caller already buffered past the preface.
func (s *Server) ServePrefaced(conn net.Conn, br *bufio.Reader) error {
	sc := newServerConn(conn, s.cfg, s.handler)
	sc.br = br
	if err := sc.sendInitialSettings(); err != nil {
		conn.Close()
		return err
	}

	return sc.run()
}
