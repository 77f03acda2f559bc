package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/pkg/watcher"
)

var (
	watchArtist   string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest STL and OpenSCAD files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchArtist, "artist", "a", "", "Artist identifier (required)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet time before a file is ingested")
	_ = watchCmd.MarkFlagRequired("artist")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	dw, err := watcher.New(watchDebounce, ".stl", ".scad")
	if err != nil {
		return err
	}
	defer dw.Close()
	if err := dw.Add(args[0]); err != nil {
		return err
	}
	dw.OnError = func(err error) {
		e.log.Warn("Watcher error", "error", err)
	}

	e.log.Info("Watching for uploads", "dir", args[0], "artist_id", watchArtist)
	dw.Run(ctx, func(path string) {
		result, err := e.service.Ingest(ctx, requestFor(cmd, path, watchArtist))
		if err != nil {
			// Ingest already logged the failure
			return
		}
		if err := printJSON(result); err != nil {
			e.log.Warn("Failed to print result", "error", err)
		}
	})
	return nil
}
