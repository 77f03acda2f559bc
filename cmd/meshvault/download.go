package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/internal/cache"
	"github.com/philipparndt/meshvault/internal/pipeline"
)

var (
	downloadName   string
	downloadOutDir string
	downloadStored bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [container]",
	Short: "Convert a GLB container back into a binary STL",
	Long: `Convert a container into a binary STL carrying the provenance header.
The container is a local path, or a storage key with --stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVar(&downloadName, "name", "", "Asset name used for the output filename")
	downloadCmd.Flags().StringVarP(&downloadOutDir, "output", "o", ".", "Output directory")
	downloadCmd.Flags().BoolVar(&downloadStored, "stored", false, "Read the container from configured storage")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var downloader *pipeline.Downloader
	if downloadStored {
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		if downloader, err = e.downloader(); err != nil {
			return err
		}
	} else {
		containers, err := cache.New[*pipeline.Artifact](1, 0)
		if err != nil {
			return err
		}
		defer containers.Close()
		downloader = pipeline.NewDownloader(nil, containers)
	}

	name := downloadName
	if name == "" {
		base := filepath.Base(args[0])
		name = base[:len(base)-len(filepath.Ext(base))]
	}

	download, err := downloader.Download(ctx, args[0], name)
	if err != nil {
		return err
	}

	path := filepath.Join(downloadOutDir, download.Filename)
	if err := os.WriteFile(path, download.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(download.Data))
	return nil
}
