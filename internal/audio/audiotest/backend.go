// Package audiotest provides an in-memory audio.Backend for tests.
package audiotest

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"loopmix/internal/audio"
)

// Backend is a scripted audio.Backend. Devices are returned as configured;
// every opened stream is recorded and can be fed samples from the test.
type Backend struct {
	mtx      sync.Mutex
	devices  []audio.Device
	listErr  error
	openErrs map[string]error
	streams  []*Stream
	// Opened receives each stream as it is opened.
	Opened   chan *Stream
	closed   bool
	converts bool
}

// NewBackend returns a backend enumerating devices.
func NewBackend(devices ...audio.Device) *Backend {
	return &Backend{
		devices:  devices,
		openErrs: make(map[string]error),
		Opened:   make(chan *Stream, 16),
	}
}

// SetDevices replaces the enumerated devices.
func (b *Backend) SetDevices(devices ...audio.Device) {
	b.mtx.Lock()
	b.devices = devices
	b.mtx.Unlock()
}

// SetConvertsChannels sets what ConvertsChannels reports.
func (b *Backend) SetConvertsChannels(v bool) {
	b.mtx.Lock()
	b.converts = v
	b.mtx.Unlock()
}

// ConvertsChannels implements audio.ChannelConverter.
func (b *Backend) ConvertsChannels() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.converts
}

// FailList makes Devices fail with err.
func (b *Backend) FailList(err error) {
	b.mtx.Lock()
	b.listErr = err
	b.mtx.Unlock()
}

// FailOpen makes opening the device named name fail with err.
func (b *Backend) FailOpen(name string, err error) {
	b.mtx.Lock()
	b.openErrs[name] = err
	b.mtx.Unlock()
}

// Streams returns every stream opened so far.
func (b *Backend) Streams() []*Stream {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]*Stream(nil), b.streams...)
}

// StreamFor returns the last stream opened on the named device.
func (b *Backend) StreamFor(name string) *Stream {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for i := len(b.streams) - 1; i >= 0; i-- {
		if b.streams[i].Device.Name == name {
			return b.streams[i]
		}
	}
	return nil
}

// IsClosed reports whether Close was called.
func (b *Backend) IsClosed() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.closed
}

func (b *Backend) Name() string { return "testaudio" }

func (b *Backend) Devices() ([]audio.Device, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	res := make([]audio.Device, len(b.devices))
	for i, d := range b.devices {
		d.Index = i
		res[i] = d
	}
	return res, nil
}

func (b *Backend) OpenCapture(dev audio.Device, cfg audio.StreamConfig, onData audio.DataFunc) (audio.Stream, error) {
	b.mtx.Lock()
	err := b.openErrs[dev.Name]
	b.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	s := &Stream{
		Device:   dev,
		Config:   cfg,
		onData:   onData,
		Started:  make(chan struct{}, 1),
		Stopped:  make(chan struct{}, 1),
		Uninited: make(chan struct{}, 1),
	}
	b.mtx.Lock()
	b.streams = append(b.streams, s)
	b.mtx.Unlock()
	select {
	case b.Opened <- s:
	default:
	}
	return s, nil
}

func (b *Backend) Close() error {
	b.mtx.Lock()
	b.closed = true
	b.mtx.Unlock()
	return nil
}

// Stream is a fake capture stream.
type Stream struct {
	Device audio.Device
	Config audio.StreamConfig

	Started  chan struct{}
	Stopped  chan struct{}
	Uninited chan struct{}

	mtx       sync.Mutex
	onData    audio.DataFunc
	running   bool
	startErr  error
	blockStop chan struct{}
}

// FailStart makes Start fail with err.
func (s *Stream) FailStart(err error) {
	s.mtx.Lock()
	s.startErr = err
	s.mtx.Unlock()
}

// HangStop makes Stop block until release is closed.
func (s *Stream) HangStop(release chan struct{}) {
	s.mtx.Lock()
	s.blockStop = release
	s.mtx.Unlock()
}

// ErrNotRunning is returned by Feed when the stream isn't started.
var ErrNotRunning = errors.New("stream not running")

// Feed invokes the data callback with frames frames of the constant value v,
// as the host audio thread would.
func (s *Stream) Feed(frames int, v float32) error {
	buf := make([]float32, frames*s.Config.Channels)
	for i := range buf {
		buf[i] = v
	}
	return s.FeedSamples(buf)
}

// FeedSamples invokes the data callback with interleaved samples.
func (s *Stream) FeedSamples(samples []float32) error {
	s.mtx.Lock()
	running, cb := s.running, s.onData
	s.mtx.Unlock()
	if !running {
		return ErrNotRunning
	}
	raw := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	cb(raw, uint32(len(samples)/s.Config.Channels))
	return nil
}

func (s *Stream) Start() error {
	s.mtx.Lock()
	err := s.startErr
	if err == nil {
		s.running = true
	}
	s.mtx.Unlock()
	if err != nil {
		return err
	}
	s.Started <- struct{}{}
	return nil
}

func (s *Stream) Stop() error {
	s.mtx.Lock()
	release := s.blockStop
	s.mtx.Unlock()
	if release != nil {
		<-release
	}
	s.mtx.Lock()
	s.running = false
	s.mtx.Unlock()
	select {
	case s.Stopped <- struct{}{}:
	default:
	}
	return nil
}

func (s *Stream) Uninit() {
	s.mtx.Lock()
	s.running = false
	s.mtx.Unlock()
	select {
	case s.Uninited <- struct{}{}:
	default:
	}
}
