package http2

import (
	"log"
	"time"
)

// Default values backing the Config rows of spec.md §6.4 not already
// covered by the SETTINGS defaults in settings.go.
const (
	DefaultMaxTotalStreams     = 10000
	DefaultMaxWorkers          = 200
	DefaultWorkerQueue         = 2000
	DefaultSettingsAckTimeout  = 10 * time.Second
	DefaultClosedStreamGrace   = 2 * time.Second
	DefaultRapidResetThreshold = 100
	DefaultRapidResetWindow    = 10 * time.Second
	DefaultStreamHighWatermark = 1 << 20      // 1 MiB
	DefaultStreamLowWatermark  = 1 << 18      // 256 KiB
	DefaultConnHighWatermark   = 16 << 20     // 16 MiB
	DefaultConnLowWatermark    = 4 << 20      // 4 MiB
)

// Logger is the minimal logging collaborator the core writes
// diagnostics through — a single-method interface so any logger
// (stdlib log.Logger, a custom adapter) can satisfy it, mirroring the
// teacher's fasthttp.Logger usage.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config holds every row of spec.md §6.4, plus the security thresholds
// spec.md §9 says should be configurable rather than hard-coded.
type Config struct {
	Host string
	Port int

	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
	HeaderTableSize      uint32
	EnablePush           uint32

	MaxTotalStreams int

	MaxWorkers  int
	WorkerQueue int

	SettingsAckTimeout time.Duration
	ClosedStreamGrace  time.Duration

	RapidResetThreshold int
	RapidResetWindow    time.Duration

	StreamHighWatermark int64
	StreamLowWatermark  int64
	ConnHighWatermark   int64
	ConnLowWatermark    int64

	// AllowH2C permits cleartext HTTP/2 (prior knowledge or Upgrade:
	// h2c); the h2c upgrade parse itself is an external collaborator
	// (spec.md §1 out-of-scope list).
	AllowH2C bool

	PingInterval time.Duration

	// PadResponseData adds RFC 7540 §6.1 PADDED random padding (9-255
	// bytes of padding plus the 1-byte pad-length prefix, via
	// http2utils.AddPadding) to every non-empty response DATA frame,
	// trading bandwidth for resistance to traffic-analysis of response
	// body sizes.
	PadResponseData bool

	Logger Logger
	Hooks  *Hooks
}

// DefaultConfig returns the RFC/spec defaults for every Config field.
func DefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 8443,

		MaxConcurrentStreams: DefaultConcurrentStreams,
		InitialWindowSize:    DefaultWindowSize,
		MaxFrameSize:         DefaultMaxFrameSize,
		MaxHeaderListSize:    8192,
		HeaderTableSize:      DefaultHeaderTableSize,
		EnablePush:           0,

		MaxTotalStreams: DefaultMaxTotalStreams,

		MaxWorkers:  DefaultMaxWorkers,
		WorkerQueue: DefaultWorkerQueue,

		SettingsAckTimeout: DefaultSettingsAckTimeout,
		ClosedStreamGrace:  DefaultClosedStreamGrace,

		RapidResetThreshold: DefaultRapidResetThreshold,
		RapidResetWindow:    DefaultRapidResetWindow,

		StreamHighWatermark: DefaultStreamHighWatermark,
		StreamLowWatermark:  DefaultStreamLowWatermark,
		ConnHighWatermark:   DefaultConnHighWatermark,
		ConnLowWatermark:    DefaultConnLowWatermark,

		AllowH2C: false,

		PingInterval: 0,

		PadResponseData: false,

		Logger: log.Default(),
	}
}

// ServerOption mutates a Config; applied in order by NewServer.
type ServerOption func(*Config)

func WithHost(host string) ServerOption {
	return func(c *Config) { c.Host = host }
}

func WithPort(port int) ServerOption {
	return func(c *Config) { c.Port = port }
}

func WithMaxConcurrentStreams(n uint32) ServerOption {
	return func(c *Config) { c.MaxConcurrentStreams = n }
}

func WithInitialWindowSize(n uint32) ServerOption {
	return func(c *Config) { c.InitialWindowSize = n }
}

func WithMaxFrameSize(n uint32) ServerOption {
	return func(c *Config) { c.MaxFrameSize = n }
}

func WithMaxHeaderListSize(n uint32) ServerOption {
	return func(c *Config) { c.MaxHeaderListSize = n }
}

func WithHeaderTableSize(n uint32) ServerOption {
	return func(c *Config) { c.HeaderTableSize = n }
}

func WithMaxTotalStreams(n int) ServerOption {
	return func(c *Config) { c.MaxTotalStreams = n }
}

func WithWorkerPool(workers, queue int) ServerOption {
	return func(c *Config) { c.MaxWorkers = workers; c.WorkerQueue = queue }
}

func WithSettingsAckTimeout(d time.Duration) ServerOption {
	return func(c *Config) { c.SettingsAckTimeout = d }
}

func WithClosedStreamGrace(d time.Duration) ServerOption {
	return func(c *Config) { c.ClosedStreamGrace = d }
}

func WithRapidResetThreshold(n int, window time.Duration) ServerOption {
	return func(c *Config) { c.RapidResetThreshold = n; c.RapidResetWindow = window }
}

func WithWatermarks(streamHigh, streamLow, connHigh, connLow int64) ServerOption {
	return func(c *Config) {
		c.StreamHighWatermark, c.StreamLowWatermark = streamHigh, streamLow
		c.ConnHighWatermark, c.ConnLowWatermark = connHigh, connLow
	}
}

func WithAllowH2C(v bool) ServerOption {
	return func(c *Config) { c.AllowH2C = v }
}

// WithPingInterval enables a keepalive PING sent on the given interval;
// zero (the default) disables it.
func WithPingInterval(d time.Duration) ServerOption {
	return func(c *Config) { c.PingInterval = d }
}

// WithResponsePadding enables PADDED response DATA frames.
func WithResponsePadding(v bool) ServerOption {
	return func(c *Config) { c.PadResponseData = v }
}

func WithLogger(l Logger) ServerOption {
	return func(c *Config) { c.Logger = l }
}

func WithHooks(h *Hooks) ServerOption {
	return func(c *Config) { c.Hooks = h }
}
