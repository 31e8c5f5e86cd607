package audio

import (
	"fmt"
	"strings"
)

// DeviceClass is the role a capture device plays in a recording.
type DeviceClass int

const (
	// ClassOther is an input that is neither a loopback nor a usable mic.
	ClassOther DeviceClass = iota
	// ClassLoopback is a virtual driver exposing system output as an input.
	ClassLoopback
	// ClassMicrophone is a physical input device.
	ClassMicrophone
)

// String returns the string representation of the class
func (c DeviceClass) String() string {
	switch c {
	case ClassLoopback:
		return "loopback"
	case ClassMicrophone:
		return "microphone"
	default:
		return "other"
	}
}

// Mode selects which sources a session records.
type Mode int

const (
	// MicrophoneOnly records the physical microphone.
	MicrophoneOnly Mode = iota
	// SystemOnly records the loopback device.
	SystemOnly
	// Both records loopback and microphone and mixes them.
	Both
)

// String returns the config/CLI name of the mode.
func (m Mode) String() string {
	switch m {
	case MicrophoneOnly:
		return "microphone"
	case SystemOnly:
		return "system"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as accepted by the config file and CLI.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "microphone", "mic":
		return MicrophoneOnly, nil
	case "system", "loopback":
		return SystemOnly, nil
	case "both", "mix":
		return Both, nil
	}
	return 0, fmt.Errorf("unknown recording mode %q (want microphone, system or both)", s)
}

// NeedsLoopback reports whether the mode records system audio.
func (m Mode) NeedsLoopback() bool { return m == SystemOnly || m == Both }

// NeedsMicrophone reports whether the mode records the microphone.
func (m Mode) NeedsMicrophone() bool { return m == MicrophoneOnly || m == Both }

// maxMicChannels caps the microphone channel count.
const maxMicChannels = 2

// Device is a snapshot of one audio input device taken at enumeration time.
type Device struct {
	Index            int
	ID               string
	Name             string
	MaxInputChannels int
	IsDefault        bool
	Class            DeviceClass
}

func (d Device) String() string {
	return fmt.Sprintf("%d:%q", d.Index, d.Name)
}

// Classifier assigns a DeviceClass to an enumerated device.
type Classifier interface {
	Classify(d Device) DeviceClass
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(d Device) DeviceClass

func (f ClassifierFunc) Classify(d Device) DeviceClass { return f(d) }

// NameClassifier classifies devices by case-insensitive substring matches on
// their display name.
type NameClassifier struct {
	// LoopbackPatterns identify virtual loopback drivers.
	LoopbackPatterns []string
	// SinkPatterns identify virtual sinks that must never be used as a mic.
	SinkPatterns []string
}

// DefaultLoopbackPatterns matches the BlackHole virtual driver.
var DefaultLoopbackPatterns = []string{"blackhole"}

// DefaultSinkPatterns matches aggregate/multi-output devices.
var DefaultSinkPatterns = []string{"multi-output", "speakers"}

// DefaultClassifier returns the name classifier with the default patterns.
func DefaultClassifier() *NameClassifier {
	return &NameClassifier{
		LoopbackPatterns: DefaultLoopbackPatterns,
		SinkPatterns:     DefaultSinkPatterns,
	}
}

func containsAny(name string, patterns []string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Classify is part of the Classifier interface.
func (c *NameClassifier) Classify(d Device) DeviceClass {
	if d.MaxInputChannels < 1 {
		return ClassOther
	}
	if containsAny(d.Name, c.LoopbackPatterns) {
		return ClassLoopback
	}
	if containsAny(d.Name, c.SinkPatterns) {
		return ClassOther
	}
	return ClassMicrophone
}

// Classify returns a copy of devices with Class filled in by c.
func Classify(devices []Device, c Classifier) []Device {
	res := make([]Device, len(devices))
	for i, d := range devices {
		d.Class = c.Classify(d)
		res[i] = d
	}
	return res
}

// Selection is the outcome of resolving devices for a mode.
type Selection struct {
	Loopback   *Device
	Microphone *Device
}

// Resolve selects the devices required by mode. The first loopback and the
// first microphone in enumeration order win. The microphone's channel count
// is capped at two. It fails with a *ResolutionError naming every missing
// class rather than degrading.
func Resolve(devices []Device, mode Mode, c Classifier) (Selection, error) {
	var sel Selection
	for _, d := range Classify(devices, c) {
		switch d.Class {
		case ClassLoopback:
			if sel.Loopback == nil {
				dev := d
				sel.Loopback = &dev
			}
		case ClassMicrophone:
			if sel.Microphone == nil {
				dev := d
				if dev.MaxInputChannels > maxMicChannels {
					dev.MaxInputChannels = maxMicChannels
				}
				sel.Microphone = &dev
			}
		}
	}

	var missing []DeviceClass
	if mode.NeedsLoopback() && sel.Loopback == nil {
		missing = append(missing, ClassLoopback)
	}
	if mode.NeedsMicrophone() && sel.Microphone == nil {
		missing = append(missing, ClassMicrophone)
	}
	if len(missing) > 0 {
		return Selection{}, &ResolutionError{Missing: missing}
	}

	if !mode.NeedsLoopback() {
		sel.Loopback = nil
	}
	if !mode.NeedsMicrophone() {
		sel.Microphone = nil
	}
	return sel, nil
}
