package audio

// DataFunc receives one block of captured FormatF32 interleaved samples. It
// runs on the host audio thread.
type DataFunc func(in []byte, frameCount uint32)

// Stream is an opened capture stream.
type Stream interface {
	Start() error
	Stop() error
	Uninit()
}

// StreamConfig describes the stream to open.
type StreamConfig struct {
	SampleRate   int
	Channels     int
	PeriodFrames int
}

// Backend is the host audio subsystem: device enumeration and capture
// stream creation. Concrete implementations are selected at compile time.
type Backend interface {
	Name() string
	// Devices lists input devices in enumeration order, unclassified.
	Devices() ([]Device, error)
	// OpenCapture opens (but doesn't start) a capture stream on dev.
	OpenCapture(dev Device, cfg StreamConfig, onData DataFunc) (Stream, error)
	Close() error
}

// ChannelConverter is implemented by backends that can open a device with a
// channel count other than its native one, converting in the stream.
type ChannelConverter interface {
	ConvertsChannels() bool
}

// newBackend is set by the build-specific backend file.
var newBackend func(logf func(string)) (Backend, error)

// NewBackend initializes the audio backend compiled into this binary. logf,
// if non-nil, receives diagnostic messages from the audio subsystem.
func NewBackend(logf func(string)) (Backend, error) {
	return newBackend(logf)
}
