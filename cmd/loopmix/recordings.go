package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"loopmix/internal/catalog"
	"loopmix/internal/logging"
	"loopmix/internal/wav"
)

func openCatalog(cmd *cobra.Command, a *app) (*catalog.DB, error) {
	return catalog.Open(cmd.Context(), a.cfg.DatabasePath, catalog.Options{
		Log: a.logBknd.Logger(logging.SubsysCatalog),
	})
}

func newRecordingsCmd() *cobra.Command {
	var (
		limit int
		mode  string
	)
	cmd := &cobra.Command{
		Use:     "recordings",
		Aliases: []string{"ls"},
		Short:   "List cataloged recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openCatalog(cmd, theApp)
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := db.ListRecordings(cmd.Context(), catalog.ListOptions{Limit: limit, Mode: mode})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No recordings")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMODE\tDURATION\tSIZE\tFILE")
			for _, r := range recs {
				dur := "-"
				if r.DurationSeconds != nil {
					dur = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, humanize.Time(r.CreatedAt),
					r.Mode, dur, humanize.Bytes(uint64(r.FileSize)), r.FilePath)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of recordings to list")
	cmd.Flags().StringVar(&mode, "mode", "", "only list recordings made in this mode")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a recording from the catalog (the file is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid recording id %q", args[0])
			}
			db, err := openCatalog(cmd, theApp)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.DeleteRecording(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Removed recording %d\n", id)
			return nil
		},
	})
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		mode   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Register existing WAV files in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := theApp
			if mode == "" {
				mode = a.cfg.Mode
			}
			db, err := openCatalog(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			var imported, skipped, failed int
			err = filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
					return nil
				}
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}

				_, err = db.GetRecordingByPath(cmd.Context(), abs)
				if err == nil {
					skipped++
					return nil
				}
				if !errors.Is(err, catalog.ErrNotFound) {
					return err
				}

				rec, err := importedRecording(abs, mode)
				if err != nil {
					a.log.Warnf("Skipping %s: %v", path, err)
					failed++
					return nil
				}
				if dryRun {
					fmt.Printf("Would import %s (%.1fs)\n", abs, *rec.DurationSeconds)
					imported++
					return nil
				}
				if err := db.AddRecording(cmd.Context(), rec); err != nil {
					return err
				}
				a.log.Debugf("Imported %s as recording %d", abs, rec.ID)
				imported++
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d, skipped %d already cataloged, %d failed\n",
				imported, skipped, failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "recording mode to record for imported files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would be imported")
	return cmd
}

// importedRecording builds a catalog entry from the header of a WAV file.
// The file's modification time is taken as the end of the recording.
func importedRecording(path, mode string) (*catalog.Recording, error) {
	info, err := wav.ReadInfo(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	seconds := info.Duration.Seconds()
	return &catalog.Recording{
		Filename:        filepath.Base(path),
		FilePath:        path,
		Format:          "wav",
		MIME:            "audio/wav",
		FileSize:        fi.Size(),
		DurationSeconds: &seconds,
		SampleRate:      info.SampleRate,
		Channels:        info.Channels,
		Mode:            mode,
		Source:          catalog.SourceImport,
		StartedAt:       fi.ModTime().Add(-info.Duration),
		FinishedAt:      fi.ModTime(),
	}, nil
}
