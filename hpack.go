package http2

import (
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/dgrr/http2/http2utils"
)

// HeaderField is a single decoded or to-be-encoded (name, value) pair.
//
// https://tools.ietf.org/html/rfc7541#section-4.1
type HeaderField struct {
	key, value []byte
	sensible   bool // never-indexed: authorization, cookie fragments, etc.
}

var headerFieldPool = sync.Pool{
	New: func() interface{} { return &HeaderField{} },
}

// AcquireHeaderField returns a pooled, empty HeaderField.
func AcquireHeaderField() *HeaderField {
	hf := headerFieldPool.Get().(*HeaderField)
	hf.Reset()
	return hf
}

// ReleaseHeaderField returns hf to the pool.
func ReleaseHeaderField(hf *HeaderField) {
	headerFieldPool.Put(hf)
}

func (hf *HeaderField) Reset() {
	hf.key = hf.key[:0]
	hf.value = hf.value[:0]
	hf.sensible = false
}

func (hf *HeaderField) Key() string   { return string(hf.key) }
func (hf *HeaderField) Value() string { return string(hf.value) }

func (hf *HeaderField) KeyBytes() []byte   { return hf.key }
func (hf *HeaderField) ValueBytes() []byte { return hf.value }

func (hf *HeaderField) SetKey(k string)   { hf.key = append(hf.key[:0], k...) }
func (hf *HeaderField) SetValue(v string) { hf.value = append(hf.value[:0], v...) }

func (hf *HeaderField) SetKeyBytes(k []byte)   { hf.key = append(hf.key[:0], k...) }
func (hf *HeaderField) SetValueBytes(v []byte) { hf.value = append(hf.value[:0], v...) }

func (hf *HeaderField) Sensible() bool      { return hf.sensible }
func (hf *HeaderField) SetSensible(v bool)  { hf.sensible = v }

// IsPseudo reports whether the field name begins with ':'.
func (hf *HeaderField) IsPseudo() bool {
	return len(hf.key) > 0 && hf.key[0] == ':'
}

// Size is the RFC 7541 §4.1 accounting size of the field: name length
// plus value length plus 32 bytes of fixed overhead.
func (hf *HeaderField) Size() int {
	return len(hf.key) + len(hf.value) + 32
}

func (hf *HeaderField) equals(o *HeaderField) bool {
	return string(hf.key) == string(o.key) && string(hf.value) == string(o.value)
}

// staticEntry is a pre-built (name, value) pair from RFC 7541 Appendix A.
type staticEntry struct {
	name, value string
}

// staticTable is the fixed 61-entry RFC 7541 Appendix A table, 0-indexed
// here (wire index = i+1).
var staticTable = []staticEntry{
	{":authority", ""},
	{":method", "GET"},
	{":method", "POST"},
	{":path", "/"},
	{":path", "/index.html"},
	{":scheme", "http"},
	{":scheme", "https"},
	{":status", "200"},
	{":status", "204"},
	{":status", "206"},
	{":status", "304"},
	{":status", "400"},
	{":status", "404"},
	{":status", "500"},
	{"accept-charset", ""},
	{"accept-encoding", "gzip, deflate"},
	{"accept-language", ""},
	{"accept-ranges", ""},
	{"accept", ""},
	{"access-control-allow-origin", ""},
	{"age", ""},
	{"allow", ""},
	{"authorization", ""},
	{"cache-control", ""},
	{"content-disposition", ""},
	{"content-encoding", ""},
	{"content-language", ""},
	{"content-length", ""},
	{"content-location", ""},
	{"content-range", ""},
	{"content-type", ""},
	{"cookie", ""},
	{"date", ""},
	{"etag", ""},
	{"expect", ""},
	{"expires", ""},
	{"from", ""},
	{"host", ""},
	{"if-match", ""},
	{"if-modified-since", ""},
	{"if-none-match", ""},
	{"if-range", ""},
	{"if-unmodified-since", ""},
	{"last-modified", ""},
	{"link", ""},
	{"location", ""},
	{"max-forwards", ""},
	{"proxy-authenticate", ""},
	{"proxy-authorization", ""},
	{"range", ""},
	{"referer", ""},
	{"refresh", ""},
	{"retry-after", ""},
	{"server", ""},
	{"set-cookie", ""},
	{"strict-transport-security", ""},
	{"transfer-encoding", ""},
	{"user-agent", ""},
	{"vary", ""},
	{"via", ""},
	{"www-authenticate", ""},
}

// staticNameIndex maps a header name to the first static-table index
// (0-based) carrying that name, for name-only matches.
var staticNameIndex = func() map[string]int {
	m := make(map[string]int, len(staticTable))
	for i, e := range staticTable {
		if _, ok := m[e.name]; !ok {
			m[e.name] = i
		}
	}
	return m
}()

// staticFullIndex maps "name\x00value" to the static-table index for
// exact (name, value) matches.
var staticFullIndex = func() map[string]int {
	m := make(map[string]int, len(staticTable))
	for i, e := range staticTable {
		m[e.name+"\x00"+e.value] = i
	}
	return m
}()

type dynamicEntry struct {
	name, value string
	size        int
}

// HPACK is one direction (encode or decode) of HPACK state: the dynamic
// table plus the size bookkeeping RFC 7541 requires. A connection owns
// two independent instances, per spec.md §3.
type HPACK struct {
	dynamic []dynamicEntry // newest first
	size    int            // Σ(|name|+|value|+32) of dynamic entries

	maxTableSize     int // current negotiated cap (SETTINGS_HEADER_TABLE_SIZE)
	pendingTableSize int // set by SetMaxTableSize: emitted as a leading dynamic-size-update on next encode; a decoder's bound for a peer's size update
	pendingUpdate    bool

	// DisableCompression turns off Huffman coding (useful for debugging).
	DisableCompression bool

	// MaxHeaderListSize bounds cumulative decoded size during Decode;
	// see spec.md §4.2.
	MaxHeaderListSize int
}

// NewHPACK returns an HPACK instance with RFC defaults.
func NewHPACK() *HPACK {
	return &HPACK{
		maxTableSize:      DefaultHeaderTableSize,
		pendingTableSize:  DefaultHeaderTableSize,
		MaxHeaderListSize: DefaultMaxHeaderListSize,
	}
}

// SetMaxTableSize changes the negotiated dynamic table size cap. For an
// encoder this schedules a dynamic-table-size-update opcode to be
// emitted as the first bytes of the next encoded block (RFC 7541 §4.2).
// For a decoder it is the bound a peer's size-update opcode must not
// exceed.
func (hp *HPACK) SetMaxTableSize(n int) {
	hp.pendingTableSize = n
	hp.pendingUpdate = true
	hp.evictTo(n)
}

func (hp *HPACK) evictTo(max int) {
	for hp.size > max && len(hp.dynamic) > 0 {
		last := hp.dynamic[len(hp.dynamic)-1]
		hp.dynamic = hp.dynamic[:len(hp.dynamic)-1]
		hp.size -= last.size
	}
	if max < hp.maxTableSize {
		hp.maxTableSize = max
	}
}

func (hp *HPACK) addDynamic(name, value string) {
	entry := dynamicEntry{name: name, value: value, size: len(name) + len(value) + 32}
	hp.dynamic = append([]dynamicEntry{entry}, hp.dynamic...)
	hp.size += entry.size
	hp.evictTo(hp.maxTableSize)
}

func (hp *HPACK) dynamicLookupFull(name, value string) (int, bool) {
	for i, e := range hp.dynamic {
		if e.name == name && e.value == value {
			return 62 + i, true
		}
	}
	return 0, false
}

func (hp *HPACK) dynamicLookupName(name string) (int, bool) {
	for i, e := range hp.dynamic {
		if e.name == name {
			return 62 + i, true
		}
	}
	return 0, false
}

func (hp *HPACK) byIndex(idx int) (name, value string, ok bool) {
	if idx >= 1 && idx <= len(staticTable) {
		e := staticTable[idx-1]
		return e.name, e.value, true
	}
	di := idx - 62
	if di >= 0 && di < len(hp.dynamic) {
		e := hp.dynamic[di]
		return e.name, e.value, true
	}
	return "", "", false
}

// --- integer coding (RFC 7541 §5.1) ---

func appendInt(dst []byte, prefixBits int, prefixFlags byte, n uint64) []byte {
	max := uint64(1<<uint(prefixBits)) - 1
	if n < max {
		return append(dst, prefixFlags|byte(n))
	}

	dst = append(dst, prefixFlags|byte(max))
	n -= max
	for n >= 128 {
		dst = append(dst, byte(n%128)+128)
		n /= 128
	}
	return append(dst, byte(n))
}

func readInt(src []byte, prefixBits int) (n uint64, consumed int, err error) {
	if len(src) == 0 {
		return 0, 0, ErrMissingBytes
	}

	max := uint64(1<<uint(prefixBits)) - 1
	n = uint64(src[0]) & max
	if n < max {
		return n, 1, nil
	}

	m := uint64(0)
	i := 1
	for {
		if i >= len(src) {
			return 0, 0, ErrMissingBytes
		}
		b := src[i]
		n += uint64(b&0x7f) << m
		i++
		if n > (1<<32 - 1) {
			return 0, 0, NewStreamError(0, CompressionError, "integer overflow")
		}
		if b&0x80 == 0 {
			break
		}
		m += 7
	}

	return n, i, nil
}

// --- string coding (RFC 7541 §5.2) ---

func (hp *HPACK) appendString(dst []byte, s string) []byte {
	if hp.DisableCompression {
		dst = appendInt(dst, 7, 0x00, uint64(len(s)))
		return append(dst, s...)
	}

	hlen := HuffmanEncodedLen(http2utils.FastStringToBytes(s))
	if hlen < len(s) {
		dst = appendInt(dst, 7, 0x80, uint64(hlen))
		return AppendHuffman(dst, http2utils.FastStringToBytes(s))
	}

	dst = appendInt(dst, 7, 0x00, uint64(len(s)))
	return append(dst, s...)
}

func readString(src []byte) (s string, consumed int, err error) {
	if len(src) == 0 {
		return "", 0, ErrMissingBytes
	}

	huff := src[0]&0x80 != 0
	n, c, err := readInt(src, 7)
	if err != nil {
		return "", 0, err
	}
	consumed = c

	if consumed+int(n) > len(src) {
		return "", 0, ErrMissingBytes
	}
	raw := src[consumed : consumed+int(n)]
	consumed += int(n)

	if !huff {
		return string(raw), consumed, nil
	}

	decoded, err := DecodeHuffmanString(raw)
	if err != nil {
		return "", 0, NewStreamError(0, CompressionError, "invalid huffman string")
	}

	return decoded, consumed, nil
}

// AppendHeader appends the wire encoding of hf to dst. When store is
// true and the field is not sensitive, it is also inserted into the
// encoder's dynamic table as literal-with-incremental-indexing (a field
// larger than the table still takes this path and leaves the table
// empty); otherwise it is encoded as literal-without-indexing (or
// literal-never-indexed when hf.Sensible()).
func (hp *HPACK) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	if hp.pendingUpdate {
		dst = appendInt(dst, 5, 0x20, uint64(hp.pendingTableSize))
		hp.maxTableSize = hp.pendingTableSize
		hp.pendingUpdate = false
	}

	name, value := hf.Key(), hf.Value()

	if idx, ok := staticFullIndex[name+"\x00"+value]; ok {
		return appendInt(dst, 7, 0x80, uint64(idx+1))
	}
	if idx, ok := hp.dynamicLookupFull(name, value); ok {
		return appendInt(dst, 7, 0x80, uint64(idx))
	}

	var nameIdx int
	haveNameIdx := false
	if idx, ok := staticNameIndex[name]; ok {
		nameIdx, haveNameIdx = idx+1, true
	} else if idx, ok := hp.dynamicLookupName(name); ok {
		nameIdx, haveNameIdx = idx, true
	}

	switch {
	case hf.Sensible():
		if haveNameIdx {
			dst = appendInt(dst, 4, 0x10, uint64(nameIdx))
		} else {
			dst = append(dst, 0x10)
			dst = hp.appendString(dst, name)
		}
		dst = hp.appendString(dst, value)

	case store:
		if haveNameIdx {
			dst = appendInt(dst, 6, 0x40, uint64(nameIdx))
		} else {
			dst = append(dst, 0x40)
			dst = hp.appendString(dst, name)
		}
		dst = hp.appendString(dst, value)
		hp.addDynamic(name, value)

	default:
		if haveNameIdx {
			dst = appendInt(dst, 4, 0x00, uint64(nameIdx))
		} else {
			dst = append(dst, 0x00)
			dst = hp.appendString(dst, name)
		}
		dst = hp.appendString(dst, value)
	}

	return dst
}

// DecodeResult is the outcome of decoding one header block.
type DecodeResult struct {
	Fields       []*HeaderField
	TotalSize    int
	ExceedsLimit bool
}

// Decode parses src as a complete HPACK header block (the concatenation
// of a HEADERS frame and any CONTINUATION frames up to END_HEADERS) and
// returns the decoded fields.
//
// Decoding never stops early on a header-list-size overflow: the caller
// must consult ExceedsLimit and discard the list itself while the
// dynamic table mutations this call made remain applied, keeping this
// side's HPACK state synchronised with the peer's.
func (hp *HPACK) Decode(src []byte) (*DecodeResult, error) {
	res := &DecodeResult{}
	limit := hp.MaxHeaderListSize
	if limit == 0 {
		limit = DefaultMaxHeaderListSize
	}

	for len(src) > 0 {
		b := src[0]

		switch {
		case b&0x80 != 0: // indexed field
			idx, c, err := readInt(src, 7)
			if err != nil {
				return res, err
			}
			src = src[c:]

			name, value, ok := hp.byIndex(int(idx))
			if !ok || idx == 0 {
				return res, NewStreamError(0, CompressionError, "invalid HPACK index")
			}

			hf := AcquireHeaderField()
			hf.SetKey(name)
			hf.SetValue(value)
			res.Fields = append(res.Fields, hf)
			res.TotalSize += hf.Size()

		case b&0xc0 == 0x40: // literal with incremental indexing
			name, value, c, err := hp.readLiteral(src, 6)
			if err != nil {
				return res, err
			}
			src = src[c:]
			hp.addDynamic(name, value)

			hf := AcquireHeaderField()
			hf.SetKey(name)
			hf.SetValue(value)
			res.Fields = append(res.Fields, hf)
			res.TotalSize += hf.Size()

		case b&0xe0 == 0x20: // dynamic table size update
			n, c, err := readInt(src, 5)
			if err != nil {
				return res, err
			}
			src = src[c:]
			if int(n) > hp.pendingTableSize {
				return res, NewStreamError(0, CompressionError, "dynamic table size update exceeds negotiated maximum")
			}
			hp.evictTo(int(n))
			hp.maxTableSize = int(n)

		case b&0xf0 == 0x10: // literal never indexed
			name, value, c, err := hp.readLiteral(src, 4)
			if err != nil {
				return res, err
			}
			src = src[c:]

			hf := AcquireHeaderField()
			hf.SetKey(name)
			hf.SetValue(value)
			hf.SetSensible(true)
			res.Fields = append(res.Fields, hf)
			res.TotalSize += hf.Size()

		default: // 0x00: literal without indexing
			name, value, c, err := hp.readLiteral(src, 4)
			if err != nil {
				return res, err
			}
			src = src[c:]

			hf := AcquireHeaderField()
			hf.SetKey(name)
			hf.SetValue(value)
			res.Fields = append(res.Fields, hf)
			res.TotalSize += hf.Size()
		}
	}

	if res.TotalSize > limit {
		res.ExceedsLimit = true
	}

	for _, hf := range res.Fields {
		if err := validateHeaderField(hf); err != nil {
			return res, err
		}
	}

	return res, nil
}

func (hp *HPACK) readLiteral(src []byte, prefixBits int) (name, value string, consumed int, err error) {
	idx, c, err := readInt(src, prefixBits)
	if err != nil {
		return "", "", 0, err
	}
	consumed = c

	if idx == 0 {
		name, c, err = readString(src[consumed:])
		if err != nil {
			return "", "", 0, err
		}
		consumed += c
	} else {
		n, _, ok := hp.byIndex(int(idx))
		if !ok {
			return "", "", 0, NewStreamError(0, CompressionError, "invalid HPACK name index")
		}
		name = n
	}

	value, c, err = readString(src[consumed:])
	if err != nil {
		return "", "", 0, err
	}
	consumed += c

	return name, value, consumed, nil
}

// validateHeaderField does not lowercase anything: names must already
// be lowercase on the wire (RFC 7540 §8.1.2); an uppercase letter is a
// stream-level PROTOCOL_ERROR, and names/values must be syntactically
// valid per RFC 7230.
func validateHeaderField(hf *HeaderField) error {
	name := hf.key
	for _, c := range name {
		if c >= 'A' && c <= 'Z' {
			return NewStreamError(0, ProtocolError, "uppercase header field name")
		}
	}

	if !hf.IsPseudo() {
		if !httpguts.ValidHeaderFieldName(hf.Key()) {
			return NewStreamError(0, ProtocolError, "invalid header field name")
		}
		if !httpguts.ValidHeaderFieldValue(hf.Value()) {
			return NewStreamError(0, ProtocolError, "invalid header field value")
		}
	}

	return nil
}
