package http2

import "fmt"

// ErrorCode is one of the 32-bit HTTP/2 error codes carried by RST_STREAM
// and GOAWAY frames.
//
// https://tools.ietf.org/html/rfc7540#section-7
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errorCodeNames = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:      "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeout:    "SETTINGS_TIMEOUT",
	StreamClosedError:  "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStreamError: "REFUSED_STREAM",
	CancelError:        "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%d)", uint32(e))
}

// ConnError is a connection-level protocol violation. The read loop
// responds to it by sending GOAWAY with Code and closing the transport.
type ConnError struct {
	Code ErrorCode
	Msg  string
}

func NewConnError(code ErrorCode, msg string) *ConnError {
	return &ConnError{Code: code, Msg: msg}
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection error: %s: %s", e.Code, e.Msg)
}

// StreamError is a stream-scoped protocol violation. The read loop
// responds to it by sending RST_STREAM(Code) for Stream and continuing.
type StreamError struct {
	Stream uint32
	Code   ErrorCode
	Msg    string
}

func NewStreamError(stream uint32, code ErrorCode, msg string) *StreamError {
	return &StreamError{Stream: stream, Code: code, Msg: msg}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error on %d: %s: %s", e.Stream, e.Code, e.Msg)
}

// NewError builds a generic error value carrying code. It is used by
// frame types (e.g. RstStream.Error) that need to expose their code as
// a plain error without committing to Conn/Stream scope.
func NewError(code ErrorCode, msg string) error {
	if msg == "" {
		msg = code.String()
	}
	return &codedError{code: code, msg: msg}
}

type codedError struct {
	code ErrorCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() ErrorCode { return e.code }

var (
	ErrMissingBytes     = NewConnError(FrameSizeError, "frame is missing mandatory bytes")
	ErrPayloadExceeds   = NewConnError(FrameSizeError, "payload exceeds the negotiated max frame size")
	ErrUnknowFrameType  = errUnknownFrameType{}
	ErrBadPreface       = NewConnError(ProtocolError, "invalid connection preface")
	ErrInvalidState     = NewConnError(ProtocolError, "invalid stream state transition")
	ErrConnClosed       = NewError(NoError, "http2: connection closed")
)

// errUnknownFrameType is a sentinel (not a ConnError): per RFC 7540 §4.1
// unknown frame types are ignored, not treated as a connection error. It
// exists so the frame reader can still signal "no frame was decoded" to
// its caller, which simply loops again.
type errUnknownFrameType struct{}

func (errUnknownFrameType) Error() string { return "unknown frame type" }
