//go:build cgo && !noaudio

package audio

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/gen2brain/malgo"
)

func init() {
	newBackend = newMalgoBackend
}

// wasapiLoopbackID is the pseudo device ID for the WASAPI loopback of the
// default render device. It is not part of miniaudio's capture list.
const wasapiLoopbackID = "wasapi-loopback"

// wasapiLoopbackName contains "loopback" so the windows default patterns
// classify it as a loopback device.
const wasapiLoopbackName = "WASAPI Loopback (default output)"

// defaultChannelsUnknown is used when a device reports no native formats.
const defaultChannelsUnknown = 2

// MalgoBackend captures through miniaudio.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
}

func newMalgoBackend(logf func(string)) (Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		if logf != nil {
			logf(message)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	return &MalgoBackend{ctx: ctx}, nil
}

func (b *MalgoBackend) Name() string { return "malgo" }

// ConvertsChannels is part of the ChannelConverter interface. miniaudio
// converts between the device layout and the requested channel count.
func (b *MalgoBackend) ConvertsChannels() bool { return true }

func maxChannels(info malgo.DeviceInfo) int {
	n := int(info.FormatCount)
	if n > len(info.Formats) {
		n = len(info.Formats)
	}
	var res int
	for _, f := range info.Formats[:n] {
		if int(f.Channels) > res {
			res = int(f.Channels)
		}
	}
	if res == 0 {
		res = defaultChannelsUnknown
	}
	return res
}

// Devices is part of the Backend interface.
func (b *MalgoBackend) Devices() ([]Device, error) {
	if b.ctx == nil {
		return nil, errors.New("context not initialized")
	}
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	res := make([]Device, 0, len(infos)+1)
	seen := make(map[string]struct{}, len(infos))
	for _, dev := range infos {
		full, err := b.ctx.DeviceInfo(malgo.Capture, dev.ID, malgo.Shared)
		if err != nil {
			// Partial info still lets the device be classified by name.
			full = dev
		}
		id := string(append([]byte(nil), full.ID[:]...))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, Device{
			Index:            len(res),
			ID:               id,
			Name:             full.Name(),
			MaxInputChannels: maxChannels(full),
			IsDefault:        full.IsDefault == 1,
		})
	}

	if runtime.GOOS == "windows" {
		res = append(res, Device{
			Index:            len(res),
			ID:               wasapiLoopbackID,
			Name:             wasapiLoopbackName,
			MaxInputChannels: 2,
		})
	}
	return res, nil
}

// OpenCapture is part of the Backend interface.
func (b *MalgoBackend) OpenCapture(dev Device, cfg StreamConfig, onData DataFunc) (Stream, error) {
	if b.ctx == nil {
		return nil, errors.New("context not initialized")
	}
	if malgo.SampleSizeInBytes(malgo.FormatF32) != rawSampleSize {
		return nil, fmt.Errorf("malgo f32 format has unexpected sample size %d",
			malgo.SampleSizeInBytes(malgo.FormatF32))
	}

	devType := malgo.Capture
	if dev.ID == wasapiLoopbackID {
		devType = malgo.Loopback
	}
	deviceConfig := malgo.DefaultDeviceConfig(devType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	deviceConfig.Alsa.NoMMap = 1

	var id malgo.DeviceID
	if devType == malgo.Capture && dev.ID != "" {
		copy(id[:], dev.ID)
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			onData(in, frameCount)
		},
	}
	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init device: %w", err)
	}
	return device, nil
}

// Close is part of the Backend interface.
func (b *MalgoBackend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}
