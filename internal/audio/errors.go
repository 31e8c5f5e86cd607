package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRecording is returned when a session is started while
	// another one is active.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNoAudioCaptured is returned when a session ends without samples.
	ErrNoAudioCaptured = errors.New("no audio captured")

	// ErrWriteVerificationFailed is returned when the final artifact is
	// missing or empty after writing.
	ErrWriteVerificationFailed = errors.New("write verification failed")

	// ErrInvalidMixRatio is returned for mix ratios outside [0, 1].
	ErrInvalidMixRatio = errors.New("mix ratio must be within [0, 1]")

	// ErrSampleRateMismatch is returned when mixing buffers captured at
	// different sample rates.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")

	// ErrAudioDisabled is returned by the null backend.
	ErrAudioDisabled = errors.New("audio was disabled during compilation")
)

// ResolutionError reports the device classes that could not be found.
type ResolutionError struct {
	Missing []DeviceClass
}

func (e *ResolutionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.String()
	}
	return fmt.Sprintf("device resolution failed: missing %s device", strings.Join(names, " and "))
}

// IsMissing reports whether class is among the missing classes.
func (e *ResolutionError) IsMissing(class DeviceClass) bool {
	for _, c := range e.Missing {
		if c == class {
			return true
		}
	}
	return false
}

// DeviceOpenError reports a device that could not be opened or started.
type DeviceOpenError struct {
	Device Device
	Err    error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("open device %s: %v", e.Device, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// ChannelMismatchError is returned at session start when the two sources of
// a Both session would capture different channel counts.
type ChannelMismatchError struct {
	System int
	Mic    int
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("channel mismatch: system has %d channels, microphone has %d",
		e.System, e.Mic)
}

// WarningKind identifies a recovered, degraded condition.
type WarningKind int

const (
	// PartialSourceDegraded means one source of a Both session was empty.
	PartialSourceDegraded WarningKind = iota
	// EncodeFallback means the uncompressed file was kept.
	EncodeFallback
	// CaptureDegraded means blocks were dropped or a capturer stop timed out.
	CaptureDegraded
)

func (k WarningKind) String() string {
	switch k {
	case PartialSourceDegraded:
		return "PartialSourceDegraded"
	case EncodeFallback:
		return "EncodeFallback"
	case CaptureDegraded:
		return "CaptureDegraded"
	default:
		return "Unknown"
	}
}

// Warning is attached to successful results that were produced in a
// degraded way.
type Warning struct {
	Kind   WarningKind
	Source string
	Reason string
}

func (w Warning) String() string {
	if w.Source != "" {
		return fmt.Sprintf("%s(%s): %s", w.Kind, w.Source, w.Reason)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Reason)
}
