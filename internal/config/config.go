package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	Mode             string        `mapstructure:"mode"`
	MixRatio         float64       `mapstructure:"mix_ratio"`
	OutDir           string        `mapstructure:"out_dir"`
	DatabasePath     string        `mapstructure:"database_path"`
	ServerURL        string        `mapstructure:"server_url"`
	Compressor       string        `mapstructure:"compressor"`
	BitrateKbps      int           `mapstructure:"bitrate_kbps"`
	BlockFrames      int           `mapstructure:"block_frames"`
	QueueBlocks      int           `mapstructure:"queue_blocks"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	LoopbackPatterns []string      `mapstructure:"loopback_patterns"`
	SinkPatterns     []string      `mapstructure:"sink_patterns"`
	LogFile          string        `mapstructure:"log_file"`
	DebugLevel       string        `mapstructure:"debug_level"`
	MaxLogFiles      int           `mapstructure:"max_log_files"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	UploadTimeout    time.Duration `mapstructure:"upload_timeout"`
}

func defaultLoopbackPatterns() []string {
	if runtime.GOOS == "windows" {
		return []string{"blackhole", "loopback"}
	}
	return []string{"blackhole"}
}

func Default() *Config {
	return &Config{
		SampleRate:       44100,
		Channels:         2,
		Mode:             "microphone",
		MixRatio:         0.7,
		OutDir:           "./out",
		DatabasePath:     "./data/loopmix.db",
		ServerURL:        "http://localhost:3030",
		Compressor:       "auto",
		BitrateKbps:      128,
		BlockFrames:      1024,
		QueueBlocks:      64,
		StopTimeout:      2 * time.Second,
		LoopbackPatterns: defaultLoopbackPatterns(),
		SinkPatterns:     []string{"multi-output", "speakers"},
		DebugLevel:       "info",
		MaxLogFiles:      8,
		UploadTimeout:    60 * time.Second,
	}
}

// setDefaults registers every key so env overrides are seen by Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sample_rate", cfg.SampleRate)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("mix_ratio", cfg.MixRatio)
	v.SetDefault("out_dir", cfg.OutDir)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("compressor", cfg.Compressor)
	v.SetDefault("bitrate_kbps", cfg.BitrateKbps)
	v.SetDefault("block_frames", cfg.BlockFrames)
	v.SetDefault("queue_blocks", cfg.QueueBlocks)
	v.SetDefault("stop_timeout", cfg.StopTimeout)
	v.SetDefault("loopback_patterns", cfg.LoopbackPatterns)
	v.SetDefault("sink_patterns", cfg.SinkPatterns)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("debug_level", cfg.DebugLevel)
	v.SetDefault("max_log_files", cfg.MaxLogFiles)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("upload_timeout", cfg.UploadTimeout)
}

// Load reads cfgFile, or loopmix.yaml from the config dir or the working
// directory when cfgFile is empty. A missing default file is not an error.
// LOOPMIX_<KEY> environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("loopmix")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOOPMIX")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes cfg as YAML to cfgFile.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	setDefaults(v, cfg)
	if dir := filepath.Dir(cfgFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return v.WriteConfigAs(cfgFile)
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "loopmix")
	}
	return "."
}
