package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"loopmix/internal/catalog"
	"loopmix/internal/config"
	"loopmix/internal/driver"
	"loopmix/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog schema",
	}
	open := func(cmd *cobra.Command) (*catalog.DB, error) {
		return catalog.Open(cmd.Context(), theApp.cfg.DatabasePath, catalog.Options{
			SkipMigrations: true,
			Log:            theApp.logBknd.Logger(logging.SubsysCatalog),
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			st, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Database: %s\n", theApp.cfg.DatabasePath)
			fmt.Printf("Applied:  %d of %d %v\n", len(st.Applied), st.Total, st.Applied)
			if len(st.Pending) == 0 {
				fmt.Println("Database is up to date")
			} else {
				fmt.Printf("Pending:  %v\n", st.Pending)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("No pending migrations")
				return nil
			}
			fmt.Printf("Applied migrations %v\n", applied)
			return nil
		},
	})
	return cmd
}

func newDriverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Check for or install the loopback driver",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Report whether the loopback driver is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := driver.NewInstaller(theApp.logBknd.Logger(logging.SubsysDriver))
			if in.Probe(cmd.Context()) {
				fmt.Println("Loopback driver is installed")
			} else {
				fmt.Println("Loopback driver not found")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the loopback driver through Homebrew",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := driver.NewInstaller(theApp.logBknd.Logger(logging.SubsysDriver))
			installed, err := in.Install(cmd.Context())
			if err != nil {
				return err
			}
			if !installed {
				fmt.Println("Loopback driver already installed")
				return nil
			}
			fmt.Println("Loopback driver installed")
			return nil
		},
	})
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [file]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "loopmix.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.SaveTo(theApp.cfg, path); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Printf("Wrote %s\n", abs)
			return nil
		},
	})
	return cmd
}
