package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeDecode(t *testing.T, fields []*HeaderField, store bool) []*HeaderField {
	t.Helper()

	enc := NewHPACK()
	var dst []byte
	for _, hf := range fields {
		dst = enc.AppendHeader(dst, hf, store)
	}

	dec := NewHPACK()
	res, err := dec.Decode(dst)
	require.NoError(t, err)
	require.False(t, res.ExceedsLimit)

	return res.Fields
}

func hf(key, value string) *HeaderField {
	h := AcquireHeaderField()
	h.SetKey(key)
	h.SetValue(value)
	return h
}

func TestHPACKStaticTableExactMatch(t *testing.T) {
	got := encodeDecode(t, []*HeaderField{hf(":method", "GET")}, false)
	require.Len(t, got, 1)
	require.Equal(t, ":method", got[0].Key())
	require.Equal(t, "GET", got[0].Value())
}

func TestHPACKLiteralWithIncrementalIndexingPopulatesDynamicTable(t *testing.T) {
	enc := NewHPACK()
	dst := enc.AppendHeader(nil, hf("x-custom", "value-one"), true)

	// second occurrence should now hit the dynamic table as an indexed field
	before := len(dst)
	dst = enc.AppendHeader(dst, hf("x-custom", "value-one"), true)
	added := dst[before:]
	require.Len(t, added, 1, "exact dynamic-table hit should encode as a single indexed byte")

	dec := NewHPACK()
	res, err := dec.Decode(dst)
	require.NoError(t, err)
	require.Len(t, res.Fields, 2)
	require.Equal(t, "value-one", res.Fields[0].Value())
	require.Equal(t, "value-one", res.Fields[1].Value())
}

func TestHPACKNeverIndexedIsNotStored(t *testing.T) {
	enc := NewHPACK()
	sensitive := hf("authorization", "secret-token")
	sensitive.SetSensible(true)

	dst := enc.AppendHeader(nil, sensitive, true)
	require.Zero(t, enc.size, "never-indexed field must not enter the dynamic table")

	dec := NewHPACK()
	res, err := dec.Decode(dst)
	require.NoError(t, err)
	require.Len(t, res.Fields, 1)
	require.True(t, res.Fields[0].Sensible())
	require.Equal(t, "secret-token", res.Fields[0].Value())
}

func TestHPACKDynamicTableEvictsOldestOnOverflow(t *testing.T) {
	enc := NewHPACK()
	enc.SetMaxTableSize(60) // room for roughly one small entry

	enc.AppendHeader(nil, hf("a", "111111111111111111111111"), true)
	require.Len(t, enc.dynamic, 1)

	enc.AppendHeader(nil, hf("b", "222222222222222222222222"), true)
	require.Len(t, enc.dynamic, 1, "adding a second entry should evict the first once size exceeds the cap")
	require.Equal(t, "b", enc.dynamic[0].name)
}

func TestHPACKHeaderListSizeLimitDoesNotStopDecoding(t *testing.T) {
	enc := NewHPACK()
	var dst []byte
	dst = enc.AppendHeader(dst, hf("x-one", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), false)
	dst = enc.AppendHeader(dst, hf("x-two", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), false)

	dec := NewHPACK()
	dec.MaxHeaderListSize = 10 // deliberately tiny

	res, err := dec.Decode(dst)
	require.NoError(t, err)
	require.True(t, res.ExceedsLimit)
	require.Len(t, res.Fields, 2, "decoding must still produce every field to keep HPACK state in sync")
}

func TestHPACKRejectsUppercaseHeaderName(t *testing.T) {
	dec := NewHPACK()
	var dst []byte
	dst = dec.appendString(nil, "Bad-Name")
	// Build a literal-without-indexing field by hand: 0x00 prefix, then name, then value.
	payload := []byte{0x00}
	payload = append(payload, dst...)
	payload = dec.appendString(payload, "v")

	_, err := dec.Decode(payload)
	require.Error(t, err)
	se, ok := err.(*StreamError)
	require.True(t, ok)
	require.Equal(t, ProtocolError, se.Code)
}

func TestHuffmanRoundTrip(t *testing.T) {
	cases := []string{"", "a", "www.example.com", "no-cache", "custom-key: custom-value"}
	for _, s := range cases {
		enc := AppendHuffman(nil, []byte(s))
		dec, err := DecodeHuffmanString(enc)
		require.NoError(t, err)
		require.Equal(t, s, dec)
	}
}
