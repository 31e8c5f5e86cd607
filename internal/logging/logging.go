// Package logging provides subsystem loggers writing to stdout and an
// optional rotating log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags.
const (
	SubsysAudio   = "AUDI"
	SubsysMixer   = "MIXR"
	SubsysEncode  = "ENCD"
	SubsysSession = "SESS"
	SubsysCatalog = "CTLG"
	SubsysUpload  = "UPLD"
	SubsysDriver  = "DRVR"
	SubsysCLI     = "LMIX"
)

// rotateThresholdKB is the size at which the log file is rotated.
const rotateThresholdKB = 1024

// Config configures a Backend.
type Config struct {
	// LogFile is the path of the rotated log file. Empty disables file
	// logging.
	LogFile string
	// DebugLevel is either a level ("info") or a comma separated list
	// mixing a default level with subsys=level pairs
	// ("info,AUDI=debug").
	DebugLevel  string
	MaxLogFiles int
	// Stdout, when non-nil, receives every line as well.
	Stdout io.Writer
}

// Backend creates subsystem loggers that share one output.
type Backend struct {
	logRotator      *rotator.Rotator
	stdout          io.Writer
	bknd            *slog.Backend
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level

	mtx     sync.Mutex
	loggers map[string]slog.Logger
}

// ParseDebugLevel parses a debug level string into the default level and
// per subsystem overrides.
func ParseDebugLevel(s string) (slog.Level, map[string]slog.Level, error) {
	def := slog.LevelInfo
	levels := make(map[string]slog.Level)
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		fields := strings.Split(v, "=")
		switch len(fields) {
		case 1:
			level, ok := slog.LevelFromString(fields[0])
			if !ok {
				return 0, nil, fmt.Errorf("unknown log level %q", fields[0])
			}
			def = level
		case 2:
			level, ok := slog.LevelFromString(fields[1])
			if !ok {
				return 0, nil, fmt.Errorf("unknown log level %q for subsystem %s",
					fields[1], fields[0])
			}
			levels[fields[0]] = level
		default:
			return 0, nil, fmt.Errorf("unable to parse %q as subsys=level "+
				"debuglevel string", v)
		}
	}
	return def, levels, nil
}

// New creates a log backend.
func New(cfg Config) (*Backend, error) {
	def, levels, err := ParseDebugLevel(cfg.DebugLevel)
	if err != nil {
		return nil, err
	}

	var logRotator *rotator.Rotator
	if cfg.LogFile != "" {
		logDir, _ := filepath.Split(cfg.LogFile)
		if logDir != "" {
			if err := os.MkdirAll(logDir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		maxLogFiles := cfg.MaxLogFiles
		if maxLogFiles <= 0 {
			maxLogFiles = 8
		}
		logRotator, err = rotator.New(cfg.LogFile, rotateThresholdKB, false, maxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
	}

	b := &Backend{
		logRotator:      logRotator,
		stdout:          cfg.Stdout,
		defaultLogLevel: def,
		logLevels:       levels,
		loggers:         make(map[string]slog.Logger),
	}
	b.bknd = slog.NewBackend(b)
	return b, nil
}

func (b *Backend) Write(p []byte) (int, error) {
	if b.stdout != nil {
		b.stdout.Write(p)
	}
	if b.logRotator != nil {
		b.logRotator.Write(p)
	}
	return len(p), nil
}

// Logger returns the logger for subsys, creating it on first use.
func (b *Backend) Logger(subsys string) slog.Logger {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if l, ok := b.loggers[subsys]; ok {
		return l
	}
	l := b.bknd.Logger(subsys)
	if level, ok := b.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(b.defaultLogLevel)
	}
	b.loggers[subsys] = l
	return l
}

// MalgoLogf returns a function that forwards audio subsystem diagnostics to
// the AUDI logger at debug level.
func (b *Backend) MalgoLogf() func(string) {
	log := b.Logger(SubsysAudio)
	return func(msg string) {
		log.Debugf("miniaudio: %s", strings.TrimSpace(msg))
	}
}

// Close flushes and closes the log file.
func (b *Backend) Close() error {
	if b.logRotator == nil {
		return nil
	}
	return b.logRotator.Close()
}
