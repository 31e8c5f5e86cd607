package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/decred/slog"
	"github.com/spf13/cobra"

	"loopmix/internal/config"
	"loopmix/internal/logging"
)

var version = "0.3.0"

var (
	cfgFile    string
	debugLevel string
	logFile    string
)

// app is the state shared by every subcommand.
type app struct {
	cfg     *config.Config
	logBknd *logging.Backend
	log     slog.Logger
}

// theApp is set by the root command's pre-run hook.
var theApp *app

var rootCmd = &cobra.Command{
	Use:           "loopmix",
	Short:         "Record system audio and microphone into one file",
	Long:          `loopmix records the loopback device, the microphone or a mix of both, and catalogs the resulting files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		theApp = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if theApp != nil {
			theApp.logBknd.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loopmix v%s\n", version)
	},
}

func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debugLevel != "" {
		cfg.DebugLevel = debugLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	logBknd, err := logging.New(logging.Config{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		Stdout:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logBknd: logBknd,
		log:     logBknd.Logger(logging.SubsysCLI),
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is loopmix.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&debugLevel, "debuglevel", "", "log level, optionally with subsystem overrides (e.g. info,AUDI=debug)")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "rotated log file path")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newRecCmd())
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newRecordingsCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newDriverCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
