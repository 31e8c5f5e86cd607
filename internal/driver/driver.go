// Package driver checks for and installs the BlackHole loopback driver.
// Everything here is advisory: a missing driver only makes loopback
// resolution fail.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/decred/slog"
)

const (
	// DefaultHALDir is where CoreAudio loads driver plug-ins from.
	DefaultHALDir = "/Library/Audio/Plug-Ins/HAL"

	// HomebrewPackage is the cask installing the two channel driver.
	HomebrewPackage = "blackhole-2ch"

	profilerTimeout = 10 * time.Second
	brewTimeout     = 5 * time.Second
	installTimeout  = 5 * time.Minute
)

// DefaultDrivers are the plug-in bundles of the BlackHole variants.
var DefaultDrivers = []string{"BlackHole2ch.driver", "BlackHole16ch.driver"}

// ErrNoHomebrew is returned by Install when brew is not installed.
var ErrNoHomebrew = errors.New("homebrew is not installed")

// ErrUnsupportedOS is returned by Install outside macOS.
var ErrUnsupportedOS = errors.New("automatic driver install is only supported on macOS")

// Runner runs a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Installer probes for and installs the loopback driver.
type Installer struct {
	HALDir  string
	Drivers []string
	GOOS    string
	Run     Runner
	Log     slog.Logger
}

// NewInstaller returns an installer for the host.
func NewInstaller(log slog.Logger) *Installer {
	if log == nil {
		log = slog.Disabled
	}
	return &Installer{
		HALDir:  DefaultHALDir,
		Drivers: DefaultDrivers,
		GOOS:    runtime.GOOS,
		Run:     execRunner,
		Log:     log,
	}
}

// Probe reports whether a BlackHole driver bundle is present, falling back
// to the system profiler listing on macOS.
func (in *Installer) Probe(ctx context.Context) bool {
	for _, d := range in.Drivers {
		if _, err := os.Stat(filepath.Join(in.HALDir, d)); err == nil {
			in.Log.Debugf("Found loopback driver %s", d)
			return true
		}
	}
	if in.GOOS != "darwin" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, profilerTimeout)
	defer cancel()
	out, err := in.Run(ctx, "system_profiler", "SPAudioDataType")
	if err != nil {
		in.Log.Debugf("system_profiler failed: %v", err)
		return false
	}
	return strings.Contains(string(out), "BlackHole")
}

// HasHomebrew reports whether brew runs.
func (in *Installer) HasHomebrew(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, brewTimeout)
	defer cancel()
	_, err := in.Run(ctx, "brew", "--version")
	return err == nil
}

// Install installs the driver through Homebrew unless it is already present.
// It returns true when an install actually ran.
func (in *Installer) Install(ctx context.Context) (bool, error) {
	if in.Probe(ctx) {
		return false, nil
	}
	if in.GOOS != "darwin" {
		return false, ErrUnsupportedOS
	}
	if !in.HasHomebrew(ctx) {
		return false, ErrNoHomebrew
	}

	in.Log.Infof("Installing %s via Homebrew", HomebrewPackage)
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	out, err := in.Run(ctx, "brew", "install", HomebrewPackage)
	if err != nil {
		return false, fmt.Errorf("brew install %s: %w: %s", HomebrewPackage, err,
			strings.TrimSpace(string(out)))
	}
	in.Log.Infof("Installed %s; CoreAudio may need a restart before the device appears",
		HomebrewPackage)
	return true, nil
}
