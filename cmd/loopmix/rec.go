package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"loopmix/internal/audio"
	"loopmix/internal/catalog"
	"loopmix/internal/encode"
	"loopmix/internal/logging"
	"loopmix/internal/metrics"
	"loopmix/internal/session"
	"loopmix/internal/upload"
)

const statusInterval = 10 * time.Second

type recFlags struct {
	mode        string
	ratio       float64
	out         string
	dur         time.Duration
	upload      bool
	metricsAddr string
}

func newRecCmd() *cobra.Command {
	var f recFlags
	cmd := &cobra.Command{
		Use:   "rec",
		Short: "Record a session until ctrl+c or the duration elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRec(cmd, &f)
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "recording mode: system, microphone or both")
	cmd.Flags().Float64Var(&f.ratio, "ratio", 0, "weight of system audio when mixing (0..1)")
	cmd.Flags().StringVar(&f.out, "out", "", "output file (default is a timestamped .mp3 in out_dir)")
	cmd.Flags().DurationVar(&f.dur, "dur", 0, "record duration (e.g. 5s, 2m), 0 for manual stop")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "upload the recording for transcription when done")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func serveMetrics(a *app, addr string, stats *metrics.Stats) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", stats.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("Metrics server: %v", err)
		}
	}()
	a.log.Infof("Serving metrics on http://%s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func runRec(cmd *cobra.Command, f *recFlags) error {
	a := theApp
	cfg := a.cfg

	mode := cfg.RecordingMode()
	if f.mode != "" {
		m, err := audio.ParseMode(f.mode)
		if err != nil {
			return err
		}
		mode = m
	}
	ratio := cfg.MixRatio
	if cmd.Flags().Changed("ratio") {
		ratio = f.ratio
	}
	metricsAddr := cfg.MetricsAddr
	if f.metricsAddr != "" {
		metricsAddr = f.metricsAddr
	}

	ctx := cmd.Context()
	db, err := catalog.Open(ctx, cfg.DatabasePath, catalog.Options{
		Log: a.logBknd.Logger(logging.SubsysCatalog),
	})
	if err != nil {
		return err
	}
	defer db.Close()

	compressor, err := cfg.DetectCompressor()
	if err != nil {
		return err
	}
	backend, err := audio.NewBackend(a.logBknd.MalgoLogf())
	if err != nil {
		return err
	}

	stats := metrics.New()
	if metricsAddr != "" {
		defer serveMetrics(a, metricsAddr, stats)()
	}

	ctrl := session.NewController(session.Config{
		Backend:    backend,
		Classifier: cfg.Classifier(),
		Writer:     encode.NewWriter(compressor, a.logBknd.Logger(logging.SubsysEncode)),
		Capture:    cfg.CaptureConfig(),
		OutDir:     cfg.OutDir,
		Store:      db,
		Stats:      stats,
		Log:        a.logBknd.Logger(logging.SubsysSession),
		AudioLog:   a.logBknd.Logger(logging.SubsysAudio),
		MixLog:     a.logBknd.Logger(logging.SubsysMixer),
	})

	if mode.NeedsLoopback() {
		if ok, err := ctrl.LoopbackPresent(); err == nil && !ok {
			a.log.Warnf("No loopback device found; run 'loopmix driver install' to set one up")
		}
	}

	err = ctrl.StartSession(ctx, session.Options{
		Mode:       mode,
		MixRatio:   ratio,
		OutputPath: f.out,
	})
	if err != nil {
		ctrl.Close(ctx)
		return err
	}
	a.log.Infof("Recording (%s); press ctrl+c to stop", mode)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	var durC <-chan time.Time
	if f.dur > 0 {
		timer := time.NewTimer(f.dur)
		defer timer.Stop()
		durC = timer.C
	}
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-sigCtx.Done():
			break wait
		case <-durC:
			break wait
		case <-ticker.C:
			st := ctrl.Status()
			for _, s := range st.Sources {
				a.log.Infof("%s: %s from %s (%d blocks)", st.Elapsed.Round(time.Second),
					s.Source, s.Device, s.Blocks)
			}
		}
	}

	// The signal context is done; finishing the file must not be canceled.
	art, err := ctrl.Close(context.Background())
	if err != nil {
		return err
	}
	printArtifact(art)

	if f.upload {
		return uploadArtifact(ctx, a, db, art)
	}
	return nil
}

func printArtifact(art session.Artifact) {
	fmt.Printf("Saved %s\n", art.Path)
	fmt.Printf("  format:   %s\n", art.Format)
	fmt.Printf("  size:     %s\n", humanize.Bytes(uint64(art.SizeBytes)))
	fmt.Printf("  duration: %s\n", time.Duration(art.DurationSeconds*float64(time.Second)).Round(100*time.Millisecond))
	for _, w := range art.Warnings {
		fmt.Printf("  warning:  %s\n", w)
	}
}

func uploadArtifact(ctx context.Context, a *app, db *catalog.DB, art session.Artifact) error {
	client := newUploadClient(a)
	transcript, err := client.Upload(ctx, art.Path, art.MIME)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if art.RecordingID != 0 {
		err := db.SetTranscript(ctx, &catalog.Transcript{
			RecordingID: art.RecordingID,
			Content:     transcript,
			ServerURL:   a.cfg.ServerURL,
		})
		if err != nil {
			a.log.Warnf("Unable to store transcript: %v", err)
		}
	}
	fmt.Println(transcript)
	return nil
}

func newUploadClient(a *app) *upload.Client {
	return upload.NewClient(upload.Config{
		BaseURL: a.cfg.ServerURL,
		Timeout: a.cfg.UploadTimeout,
		Log:     a.logBknd.Logger(logging.SubsysUpload),
	})
}
