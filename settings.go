package http2

import (
	"github.com/dgrr/http2/http2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

// Settings parameter identifiers.
//
// https://tools.ietf.org/html/rfc7540#section-6.5.2
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

// Default and bound values from RFC 7540 §6.5.2 / §11.3, except
// DefaultConcurrentStreams and DefaultMaxHeaderListSize: the RFC leaves
// both unlimited, so these two are this package's own choices.
const (
	DefaultHeaderTableSize      = 4096
	DefaultEnablePush           = 1
	DefaultConcurrentStreams    = 100
	DefaultWindowSize           = (1 << 16) - 1
	DefaultMaxFrameSize         = 1 << 14
	DefaultMaxHeaderListSize    = 1 << 20
	MaxFrameSizeUpperBound      = (1 << 24) - 1
	MaxFrameSizeLowerBound      = 1 << 14
	MaxWindowSize               = (1 << 31) - 1
)

// Settings holds the six SETTINGS parameters for one direction of a
// connection (local or peer). A zero value is not meaningful; use
// defaultSettings() to obtain RFC defaults.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack bool

	headerTableSize      uint32
	hasHeaderTableSize   bool
	enablePush           uint32
	hasEnablePush        bool
	maxConcurrentStreams uint32
	hasMaxConcurrentStreams bool
	initialWindowSize    uint32
	hasInitialWindowSize bool
	maxFrameSize         uint32
	hasMaxFrameSize      bool
	maxHeaderListSize    uint32
	hasMaxHeaderListSize bool
}

func defaultSettings() *Settings {
	return &Settings{
		headerTableSize:      DefaultHeaderTableSize,
		hasHeaderTableSize:   true,
		enablePush:           DefaultEnablePush,
		hasEnablePush:        true,
		maxConcurrentStreams: DefaultConcurrentStreams,
		hasMaxConcurrentStreams: true,
		initialWindowSize:    DefaultWindowSize,
		hasInitialWindowSize: true,
		maxFrameSize:         DefaultMaxFrameSize,
		hasMaxFrameSize:      true,
		maxHeaderListSize:    DefaultMaxHeaderListSize,
		hasMaxHeaderListSize: true,
	}
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

func (st *Settings) Reset() {
	st.ack = false
	st.hasHeaderTableSize = false
	st.hasEnablePush = false
	st.hasMaxConcurrentStreams = false
	st.hasInitialWindowSize = false
	st.hasMaxFrameSize = false
	st.hasMaxHeaderListSize = false
}

func (st *Settings) CopyTo(o *Settings) {
	*o = *st
}

func (st *Settings) IsAck() bool { return st.ack }
func (st *Settings) SetAck(v bool) { st.ack = v }

func (st *Settings) HeaderTableSize() (uint32, bool)      { return st.headerTableSize, st.hasHeaderTableSize }
func (st *Settings) EnablePush() (uint32, bool)           { return st.enablePush, st.hasEnablePush }
func (st *Settings) MaxConcurrentStreams() (uint32, bool) { return st.maxConcurrentStreams, st.hasMaxConcurrentStreams }
func (st *Settings) InitialWindowSize() (uint32, bool)    { return st.initialWindowSize, st.hasInitialWindowSize }
func (st *Settings) MaxFrameSize() (uint32, bool)         { return st.maxFrameSize, st.hasMaxFrameSize }
func (st *Settings) MaxHeaderListSize() (uint32, bool)    { return st.maxHeaderListSize, st.hasMaxHeaderListSize }

func (st *Settings) SetHeaderTableSize(v uint32) {
	st.headerTableSize, st.hasHeaderTableSize = v, true
}
func (st *Settings) SetEnablePush(v uint32) {
	st.enablePush, st.hasEnablePush = v, true
}
func (st *Settings) SetMaxConcurrentStreams(v uint32) {
	st.maxConcurrentStreams, st.hasMaxConcurrentStreams = v, true
}
func (st *Settings) SetInitialWindowSize(v uint32) {
	st.initialWindowSize, st.hasInitialWindowSize = v, true
}
func (st *Settings) SetMaxFrameSize(v uint32) {
	st.maxFrameSize, st.hasMaxFrameSize = v, true
}
func (st *Settings) SetMaxHeaderListSize(v uint32) {
	st.maxHeaderListSize, st.hasMaxHeaderListSize = v, true
}

// Deserialize parses a SETTINGS payload. Per RFC 7540 §6.5.3, entries
// are applied in the order they appear; a later duplicate parameter in
// the same frame overrides an earlier one for the same id, which a
// straight left-to-right loop over Set* calls gives for free.
func (st *Settings) Deserialize(fr *FrameHeader) error {
	if fr.Flags().Has(FlagAck) {
		st.ack = true
		if len(fr.payload) != 0 {
			return NewConnError(FrameSizeError, "SETTINGS ACK must have an empty payload")
		}
		return nil
	}

	if len(fr.payload)%6 != 0 {
		return NewConnError(FrameSizeError, "SETTINGS payload length must be a multiple of 6")
	}

	payload := fr.payload
	for len(payload) > 0 {
		id := uint16(payload[0])<<8 | uint16(payload[1])
		val := http2utils.BytesToUint32(payload[2:6])
		payload = payload[6:]

		switch id {
		case SettingHeaderTableSize:
			st.SetHeaderTableSize(val)
		case SettingEnablePush:
			if val > 1 {
				return NewConnError(ProtocolError, "ENABLE_PUSH must be 0 or 1")
			}
			st.SetEnablePush(val)
		case SettingMaxConcurrentStreams:
			st.SetMaxConcurrentStreams(val)
		case SettingInitialWindowSize:
			if val > MaxWindowSize {
				return NewConnError(FlowControlError, "INITIAL_WINDOW_SIZE exceeds 2^31-1")
			}
			st.SetInitialWindowSize(val)
		case SettingMaxFrameSize:
			if val < MaxFrameSizeLowerBound || val > MaxFrameSizeUpperBound {
				return NewConnError(ProtocolError, "MAX_FRAME_SIZE out of range")
			}
			st.SetMaxFrameSize(val)
		case SettingMaxHeaderListSize:
			st.SetMaxHeaderListSize(val)
		default:
			// unknown parameter: ignore per RFC 7540 §6.5.2
		}
	}

	return nil
}

func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.payload = fr.payload[:0]
		return
	}

	payload := fr.payload[:0]

	appendParam := func(id uint16, v uint32) {
		payload = append(payload, byte(id>>8), byte(id))
		payload = http2utils.AppendUint32Bytes(payload, v)
	}

	if v, ok := st.HeaderTableSize(); ok {
		appendParam(SettingHeaderTableSize, v)
	}
	if v, ok := st.EnablePush(); ok {
		appendParam(SettingEnablePush, v)
	}
	if v, ok := st.MaxConcurrentStreams(); ok {
		appendParam(SettingMaxConcurrentStreams, v)
	}
	if v, ok := st.InitialWindowSize(); ok {
		appendParam(SettingInitialWindowSize, v)
	}
	if v, ok := st.MaxFrameSize(); ok {
		appendParam(SettingMaxFrameSize, v)
	}
	if v, ok := st.MaxHeaderListSize(); ok {
		appendParam(SettingMaxHeaderListSize, v)
	}

	fr.payload = payload
}
