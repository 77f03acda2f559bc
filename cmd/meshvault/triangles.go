package main

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/decimate"
	"github.com/philipparndt/meshvault/pkg/stl"
)

var (
	triCount    int
	triLargest  bool
	triSmallest bool
	triDecimate float64
)

type triangleInfo struct {
	Index     int
	Area      float64
	Perimeter float64
	Vertices  string
}

var trianglesCmd = &cobra.Command{
	Use:   "triangles [file]",
	Short: "Analyze triangles in an STL file",
	Long: `Display information about triangles including area, perimeter, and vertex positions.
With --decimate, list the triangles decimation at that level would drop.`,
	Args: cobra.ExactArgs(1),
	Run:  runTriangles,
}

func init() {
	rootCmd.AddCommand(trianglesCmd)

	trianglesCmd.Flags().IntVarP(&triCount, "count", "n", 10, "Number of triangles to display")
	trianglesCmd.Flags().BoolVarP(&triLargest, "largest", "l", false, "Show largest triangles by area")
	trianglesCmd.Flags().BoolVarP(&triSmallest, "smallest", "s", false, "Show smallest triangles by area")
	trianglesCmd.Flags().Float64VarP(&triDecimate, "decimate", "d", 0, "Show triangles dropped at this decimation level")
}

func runTriangles(cmd *cobra.Command, args []string) {
	filename := args[0]

	model, err := stl.Parse(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing STL file: %v\n", err)
		os.Exit(1)
	}
	if model.TriangleCount() == 0 {
		fmt.Fprintln(os.Stderr, "Error: model has no triangles")
		os.Exit(1)
	}

	// Collect triangle info
	triangles := make([]triangleInfo, 0, len(model.Triangles))
	totalArea := 0.0
	minArea := math.MaxFloat64
	maxArea := 0.0

	for i, tri := range model.Triangles {
		area := tri.Area()

		triangles = append(triangles, triangleInfo{
			Index:     i,
			Area:      area,
			Perimeter: tri.Perimeter(),
			Vertices: fmt.Sprintf("%s, %s, %s",
				analysis.FormatVector(tri.V1),
				analysis.FormatVector(tri.V2),
				analysis.FormatVector(tri.V3)),
		})

		totalArea += area
		minArea = math.Min(minArea, area)
		maxArea = math.Max(maxArea, area)
	}

	var title string
	switch {
	case triDecimate > 0:
		dropped := decimate.Candidates(model, triDecimate)
		selected := make([]triangleInfo, len(dropped))
		for i, index := range dropped {
			selected[i] = triangles[index]
		}
		triangles = selected
		title = fmt.Sprintf("Decimation at %.0f%% drops %d triangles, keeps %d",
			triDecimate, len(dropped), decimate.Survivors(model.TriangleCount(), triDecimate))
	case triLargest:
		sort.SliceStable(triangles, func(i, j int) bool {
			return triangles[i].Area > triangles[j].Area
		})
		title = fmt.Sprintf("Top %d Largest Triangles", triCount)
	case triSmallest:
		sort.SliceStable(triangles, func(i, j int) bool {
			return triangles[i].Area < triangles[j].Area
		})
		title = fmt.Sprintf("Top %d Smallest Triangles", triCount)
	default:
		title = fmt.Sprintf("First %d Triangles", triCount)
	}

	fmt.Println(title)
	fmt.Println("====================")
	fmt.Printf("Total triangles: %d\n", model.TriangleCount())
	fmt.Printf("Total surface area: %.6f mm²\n", totalArea)
	fmt.Printf("Min triangle area: %.6f mm²\n", minArea)
	fmt.Printf("Max triangle area: %.6f mm²\n", maxArea)
	fmt.Printf("Avg triangle area: %.6f mm²\n\n", totalArea/float64(model.TriangleCount()))

	for i := 0; i < triCount && i < len(triangles); i++ {
		tri := triangles[i]
		fmt.Printf("Triangle #%d:\n", tri.Index)
		fmt.Printf("  Area: %.6f mm²\n", tri.Area)
		fmt.Printf("  Perimeter: %.6f mm\n", tri.Perimeter)
		fmt.Printf("  Vertices: %s\n\n", tri.Vertices)
	}
}
