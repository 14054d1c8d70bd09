package http2

// Pseudo-header name byte constants, used by the connection engine to
// dispatch on :method/:scheme/:authority/:path/:status without an
// allocating string comparison per header field.
var (
	StringPath      = []byte(":path")
	StringStatus    = []byte(":status")
	StringAuthority = []byte(":authority")
	StringScheme    = []byte(":scheme")
	StringMethod    = []byte(":method")
)

func ToLower(b []byte) []byte {
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}

	return b
}

const (
	// H2TLSProto is the string used in ALPN-TLS negotiation.
	H2TLSProto = "h2"
	// H2Clean is the string used in HTTP headers by the client to upgrade the connection.
	H2Clean = "h2c"
)
