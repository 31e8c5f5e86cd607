package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"loopmix/internal/audio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List input devices and the selection for each mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := theApp
			backend, err := audio.NewBackend(a.logBknd.MalgoLogf())
			if err != nil {
				return err
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}
			classifier := a.cfg.Classifier()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tCHANNELS\tCLASS\tDEFAULT")
			for _, d := range audio.Classify(devices, classifier) {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%v\n", d.Index, d.Name,
					d.MaxInputChannels, d.Class, d.IsDefault)
			}
			w.Flush()

			fmt.Printf("\nBackend: %s\n", backend.Name())
			for _, mode := range []audio.Mode{audio.SystemOnly, audio.MicrophoneOnly, audio.Both} {
				sel, err := audio.Resolve(devices, mode, classifier)
				if err != nil {
					fmt.Printf("  %-10s unavailable: %v\n", mode, err)
					continue
				}
				fmt.Printf("  %-10s %s\n", mode, describeSelection(sel))
			}
			return nil
		},
	}
}

func describeSelection(sel audio.Selection) string {
	switch {
	case sel.Loopback != nil && sel.Microphone != nil:
		return fmt.Sprintf("system=%s mic=%s", sel.Loopback, sel.Microphone)
	case sel.Loopback != nil:
		return fmt.Sprintf("system=%s", sel.Loopback)
	case sel.Microphone != nil:
		return fmt.Sprintf("mic=%s", sel.Microphone)
	default:
		return "none"
	}
}
