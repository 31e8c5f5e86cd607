package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"loopmix/internal/catalog"
	"loopmix/internal/upload"
)

func newUploadCmd() *cobra.Command {
	var skipHealth bool
	cmd := &cobra.Command{
		Use:   "upload <file|recording-id>",
		Short: "Upload a recording for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := theApp
			ctx := cmd.Context()
			db, err := openCatalog(cmd, a)
			if err != nil {
				return err
			}
			defer db.Close()

			var rec *catalog.Recording
			if id, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
				rec, err = db.GetRecording(ctx, id)
				if err != nil {
					return err
				}
			} else {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				rec, err = db.GetRecordingByPath(ctx, path)
				if errors.Is(err, catalog.ErrNotFound) {
					rec = &catalog.Recording{FilePath: path, MIME: upload.MIMEFor(path)}
				} else if err != nil {
					return err
				}
			}

			client := newUploadClient(a)
			if !skipHealth {
				if err := client.Health(ctx); err != nil {
					return fmt.Errorf("server at %s is not healthy: %w", a.cfg.ServerURL, err)
				}
			}
			transcript, err := client.Upload(ctx, rec.FilePath, rec.MIME)
			if err != nil {
				return err
			}
			if rec.ID != 0 {
				err := db.SetTranscript(ctx, &catalog.Transcript{
					RecordingID: rec.ID,
					Content:     transcript,
					ServerURL:   a.cfg.ServerURL,
				})
				if err != nil {
					return err
				}
			}
			fmt.Println(transcript)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipHealth, "skip-health", false, "don't check the server's health first")
	return cmd
}
