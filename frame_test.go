package http2

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, body Frame, streamID uint32) *FrameHeader {
	t.Helper()

	fr := AcquireFrameHeader()
	fr.SetStream(streamID)
	fr.SetBody(body)

	buf := bytes.NewBuffer(nil)
	bw := bufio.NewWriter(buf)
	_, err := fr.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(buf)
	out, err := ReadFrameFrom(br)
	require.NoError(t, err)

	return out
}

func TestDataFrameRoundTrip(t *testing.T) {
	d := AcquireFrame(FrameData).(*Data)
	d.SetData([]byte("hello http/2"))
	d.SetEndStream(true)

	out := roundTrip(t, d, 3)
	defer ReleaseFrameHeader(out)

	require.Equal(t, FrameData, out.Type())
	require.EqualValues(t, 3, out.Stream())

	got := out.Body().(*Data)
	require.Equal(t, "hello http/2", string(got.Data()))
	require.True(t, got.EndStream())
}

func TestDataFramePadding(t *testing.T) {
	d := AcquireFrame(FrameData).(*Data)
	d.SetData([]byte("padded"))
	d.SetPadding(true)

	out := roundTrip(t, d, 5)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*Data)
	require.Equal(t, "padded", string(got.Data()))
}

func TestHeadersFrameWithPriority(t *testing.T) {
	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetEndHeaders(true)
	h.SetEndStream(true)
	h.SetHasPriority(true)
	h.SetExclusive(true)
	h.SetStream(1)
	h.SetWeight(200)
	h.SetHeaders([]byte("raw-header-bytes"))

	out := roundTrip(t, h, 7)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*Headers)
	require.True(t, got.EndHeaders())
	require.True(t, got.EndStream())
	require.True(t, got.HasPriority())
	require.True(t, got.Exclusive())
	require.EqualValues(t, 1, got.Stream())
	require.EqualValues(t, 200, got.Weight())
	require.Equal(t, "raw-header-bytes", string(got.Headers()))
}

func TestPriorityFrameExclusiveBit(t *testing.T) {
	p := AcquireFrame(FramePriority).(*Priority)
	p.SetStream(42)
	p.SetExclusive(true)
	p.SetWeight(16)

	out := roundTrip(t, p, 9)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*Priority)
	require.EqualValues(t, 42, got.Stream())
	require.True(t, got.Exclusive())
	require.EqualValues(t, 16, got.Weight())
}

func TestGoAwayFrameCarriesStreamAndCode(t *testing.T) {
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(99)
	ga.SetCode(EnhanceYourCalm)
	ga.SetData([]byte("bye"))

	out := roundTrip(t, ga, 0)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*GoAway)
	require.EqualValues(t, 99, got.Stream())
	require.Equal(t, EnhanceYourCalm, got.Code())
	require.Equal(t, "bye", string(got.Data()))
}

func TestWindowUpdateFrameRoundTrip(t *testing.T) {
	wu := AcquireWindowUpdate()
	wu.SetIncrement(65535)

	out := roundTrip(t, wu, 11)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*WindowUpdate)
	require.EqualValues(t, 65535, got.Increment())
}

func TestPushPromiseFrameRoundTrip(t *testing.T) {
	pp := AcquireFrame(FramePushPromise).(*PushPromise)
	pp.SetStream(4)
	pp.SetEndHeaders(true)
	pp.SetHeader([]byte("promised-headers"))

	out := roundTrip(t, pp, 2)
	defer ReleaseFrameHeader(out)

	got := out.Body().(*PushPromise)
	require.EqualValues(t, 4, got.Stream())
	require.True(t, got.EndHeaders())
	require.Equal(t, "promised-headers", string(got.Header()))
}

func TestSettingsFrameDuplicateParameterLastWins(t *testing.T) {
	st := &Settings{}
	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	payload := make([]byte, 0, 12)
	appendRaw := func(id uint16, v uint32) {
		payload = append(payload, byte(id>>8), byte(id))
		payload = append(payload, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	appendRaw(SettingMaxConcurrentStreams, 10)
	appendRaw(SettingMaxConcurrentStreams, 20)

	fr.setPayload(payload)
	require.NoError(t, st.Deserialize(fr))

	v, ok := st.MaxConcurrentStreams()
	require.True(t, ok)
	require.EqualValues(t, 20, v)
}

func TestSettingsAckMustBeEmpty(t *testing.T) {
	st := &Settings{}
	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)
	fr.SetFlags(FlagAck)
	fr.setPayload([]byte{1, 2, 3})

	err := st.Deserialize(fr)
	require.Error(t, err)

	ce, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, FrameSizeError, ce.Code)
}

func TestUnknownFrameTypeIsIgnoredNotAConnError(t *testing.T) {
	var h [9]byte
	h[3] = 0xff // a frame type past FrameContinuation
	buf := bytes.NewBuffer(h[:])

	br := bufio.NewReader(buf)
	_, err := ReadFrameFrom(br)
	require.Equal(t, ErrUnknowFrameType, err)
}
