package main

import (
	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/internal/pipeline"
)

var (
	ingestArtist     string
	ingestName       string
	ingestDecimate   float64
	ingestNoCompress bool
	ingestLevel      int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest one or more STL files",
	Long:  "Run the full ingestion pipeline for each file and print the results as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestArtist, "artist", "a", "", "Artist identifier (required)")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Asset name (default: STL name or file stem)")
	ingestCmd.Flags().Float64VarP(&ingestDecimate, "decimate", "d", 0, "Percentage of smallest triangles to drop (0-90)")
	ingestCmd.Flags().BoolVar(&ingestNoCompress, "no-compress", false, "Skip the entropy compression stage")
	ingestCmd.Flags().IntVarP(&ingestLevel, "level", "l", 0, "Compression level (0-10)")
	_ = ingestCmd.MarkFlagRequired("artist")
}

// requestFor applies only the flags the user set
func requestFor(cmd *cobra.Command, path, artist string) pipeline.Request {
	req := pipeline.Request{Path: path, ArtistID: artist, Name: ingestName}
	if cmd.Flags().Changed("decimate") {
		level := ingestDecimate
		req.DecimationLevel = &level
	}
	if ingestNoCompress {
		off := false
		req.EnableCompression = &off
	}
	if cmd.Flags().Changed("level") {
		level := ingestLevel
		req.CompressionLevel = &level
	}
	return req
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if len(args) == 1 {
		result, err := e.service.Ingest(ctx, requestFor(cmd, args[0], ingestArtist))
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	requests := make([]pipeline.Request, len(args))
	for i, path := range args {
		requests[i] = requestFor(cmd, path, ingestArtist)
	}
	return printJSON(e.service.IngestBatch(ctx, requests))
}
