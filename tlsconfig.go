package http2

import (
	"crypto/tls"

	"golang.org/x/crypto/acme/autocert"
)

// NewAutocertTLSConfig builds a *tls.Config backed by an ACME autocert
// Manager for the given hostnames, with NextProtos pre-populated for
// HTTP/2 negotiation (spec.md §1: certificate issuance itself, and the
// ALPN handshake, are an external collaborator's job — this only wires
// the config an embedder plugs into net/http or a raw tls.Listener).
func NewAutocertTLSConfig(cacheDir string, hosts ...string) *tls.Config {
	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(hosts...),
	}
	if cacheDir != "" {
		mgr.Cache = autocert.DirCache(cacheDir)
	}

	cfg := mgr.TLSConfig()
	cfg.NextProtos = append([]string{"h2", "http/1.1"}, cfg.NextProtos...)

	return cfg
}
