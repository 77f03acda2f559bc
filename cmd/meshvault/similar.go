package main

import (
	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/fingerprint"
	"github.com/philipparndt/meshvault/pkg/stl"
)

var (
	similarMin     float64
	similarLimit   int
	similarExclude string
)

var similarCmd = &cobra.Command{
	Use:   "similar [file]",
	Short: "Find catalog assets similar to an STL file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Float64Var(&similarMin, "min", 0.9, "Minimum cosine similarity")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 0, "Maximum matches (default: pipeline.similarity_limit)")
	similarCmd.Flags().StringVar(&similarExclude, "exclude", "", "Asset id to leave out")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	model, err := stl.Parse(args[0])
	if err != nil {
		return err
	}
	report, err := analysis.Analyze(model)
	if err != nil {
		return err
	}

	candidates, err := e.catalog.Candidates(ctx)
	if err != nil {
		return err
	}

	limit := similarLimit
	if limit <= 0 {
		limit = e.cfg.Pipeline.SimilarityLimit
	}
	matches := fingerprint.FindSimilar(fingerprint.FromReport(report), candidates, fingerprint.SearchOptions{
		MinSimilarity: similarMin,
		Limit:         limit,
		ExcludeID:     similarExclude,
	})
	if matches == nil {
		matches = []fingerprint.Match{}
	}
	return printJSON(matches)
}
