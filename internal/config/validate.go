package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"loopmix/internal/audio"
	"loopmix/internal/execx"
	"loopmix/internal/logging"
)

var knownCompressors = map[string]bool{
	"auto":   true,
	"ffmpeg": true,
	"lame":   true,
	"none":   true,
}

// Validate checks the config and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if err := audio.ValidateMixRatio(c.MixRatio); err != nil {
		errs = append(errs, fmt.Errorf("mix_ratio: %w", err))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", c.Channels))
	}
	if _, err := audio.ParseMode(c.Mode); err != nil {
		errs = append(errs, fmt.Errorf("mode: %w", err))
	}
	if !knownCompressors[strings.ToLower(c.Compressor)] {
		errs = append(errs, fmt.Errorf("unknown compressor %q", c.Compressor))
	}
	if c.BitrateKbps <= 0 {
		errs = append(errs, fmt.Errorf("bitrate_kbps %d must be positive", c.BitrateKbps))
	}
	if c.BlockFrames <= 0 {
		errs = append(errs, fmt.Errorf("block_frames %d must be positive", c.BlockFrames))
	}
	if c.QueueBlocks <= 0 {
		errs = append(errs, fmt.Errorf("queue_blocks %d must be positive", c.QueueBlocks))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout %s must be positive", c.StopTimeout))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("upload_timeout %s must be positive", c.UploadTimeout))
	}
	if len(c.LoopbackPatterns) == 0 {
		errs = append(errs, errors.New("loopback_patterns must not be empty"))
	}
	if _, _, err := logging.ParseDebugLevel(c.DebugLevel); err != nil {
		errs = append(errs, fmt.Errorf("debug_level: %w", err))
	}

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("server_url %q is not a valid URL: %w", c.ServerURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme))
		}
	}
	return errs
}

// RecordingMode returns the parsed mode. Call Validate first.
func (c *Config) RecordingMode() audio.Mode {
	m, _ := audio.ParseMode(c.Mode)
	return m
}

// CaptureConfig returns the per-stream capture settings.
func (c *Config) CaptureConfig() audio.CaptureConfig {
	return audio.CaptureConfig{
		SampleRate:  c.SampleRate,
		Channels:    c.Channels,
		BlockFrames: c.BlockFrames,
		QueueBlocks: c.QueueBlocks,
		StopTimeout: c.StopTimeout,
	}
}

// Classifier returns the device classifier configured by the patterns.
func (c *Config) Classifier() audio.Classifier {
	return &audio.NameClassifier{
		LoopbackPatterns: c.LoopbackPatterns,
		SinkPatterns:     c.SinkPatterns,
	}
}

// DetectCompressor resolves the configured compressor.
func (c *Config) DetectCompressor() (execx.Compressor, error) {
	return execx.Detect(c.Compressor, c.BitrateKbps)
}
