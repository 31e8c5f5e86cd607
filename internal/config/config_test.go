package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"loopmix/internal/audio"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config has errors: %v", errs)
	}
	if cfg.RecordingMode() != audio.MicrophoneOnly {
		t.Fatalf("unexpected mode %s", cfg.RecordingMode())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "loopmix.yaml")
	yaml := `
mode: both
mix_ratio: 0.4
sample_rate: 48000
stop_timeout: 3s
loopback_patterns:
  - blackhole
  - soundflower
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOOPMIX_OUT_DIR", "/var/recordings")
	t.Setenv("LOOPMIX_CHANNELS", "1")

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RecordingMode() != audio.Both || cfg.MixRatio != 0.4 || cfg.SampleRate != 48000 {
		t.Fatalf("file values not loaded: %+v", cfg)
	}
	if cfg.StopTimeout != 3*time.Second {
		t.Fatalf("unexpected stop timeout %s", cfg.StopTimeout)
	}
	if !slices.Equal(cfg.LoopbackPatterns, []string{"blackhole", "soundflower"}) {
		t.Fatalf("unexpected patterns %v", cfg.LoopbackPatterns)
	}
	if cfg.OutDir != "/var/recordings" || cfg.Channels != 1 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.BitrateKbps != 128 || cfg.ServerURL != "http://localhost:3030" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "conf", "loopmix.yaml")
	cfg := Default()
	cfg.Mode = "system"
	cfg.MixRatio = 1
	if err := SaveTo(cfg, cfgFile); err != nil {
		t.Fatal(err)
	}
	got, err := Load(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != "system" || got.MixRatio != 1 {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"ratio too high", func(c *Config) { c.MixRatio = 1.5 }, "mix_ratio"},
		{"ratio negative", func(c *Config) { c.MixRatio = -0.1 }, "mix_ratio"},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, "sample_rate"},
		{"three channels", func(c *Config) { c.Channels = 3 }, "channels"},
		{"bad mode", func(c *Config) { c.Mode = "stereo" }, "mode"},
		{"bad compressor", func(c *Config) { c.Compressor = "flac" }, "compressor"},
		{"bad debug level", func(c *Config) { c.DebugLevel = "loud" }, "debug_level"},
		{"bad url", func(c *Config) { c.ServerURL = "ftp://example.com" }, "server_url"},
		{"no loopback patterns", func(c *Config) { c.LoopbackPatterns = nil }, "loopback_patterns"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected one error, got %v", errs)
			}
			if !strings.Contains(errs[0].Error(), tc.want) {
				t.Fatalf("error %q does not mention %s", errs[0], tc.want)
			}
		})
	}
}
