//go:build !cgo || noaudio

// This backend is only used in cgo-less and noaudio builds.

package audio

func init() {
	newBackend = newNullBackend
}

type nullBackend struct{}

func newNullBackend(func(string)) (Backend, error) {
	return nullBackend{}, nil
}

func (nullBackend) Name() string { return "nullaudio" }

func (nullBackend) Devices() ([]Device, error) { return nil, ErrAudioDisabled }

func (nullBackend) OpenCapture(Device, StreamConfig, DataFunc) (Stream, error) {
	return nil, ErrAudioDisabled
}

func (nullBackend) Close() error { return nil }
