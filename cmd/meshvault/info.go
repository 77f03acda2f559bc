package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/fingerprint"
	"github.com/philipparndt/meshvault/pkg/stl"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Display general information about an STL file",
	Long:  "Show dimensions, footprint, print statistics, edge statistics and the shape fingerprint.",
	Args:  cobra.ExactArgs(1),
	Run:   runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) {
	filename := args[0]

	model, err := stl.Parse(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing STL file: %v\n", err)
		os.Exit(1)
	}

	report, err := analysis.Analyze(model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error analyzing STL file: %v\n", err)
		os.Exit(1)
	}
	vector := fingerprint.FromReport(report)

	format := "binary"
	if !model.Binary {
		format = "ASCII"
	}

	fmt.Println("STL File Information")
	fmt.Println("====================")
	if model.Name != "" {
		fmt.Printf("Name: %s\n", model.Name)
	}
	fmt.Printf("File: %s (%s)\n\n", filename, format)

	fmt.Println("Model Statistics:")
	fmt.Printf("  Triangles: %d\n", report.Stats.TriangleCount)
	fmt.Printf("  Edges: %d\n", report.Edges.EdgeCount)
	fmt.Printf("  Surface Area: %.2f mm²\n", report.Stats.SurfaceArea)
	fmt.Printf("  Volume: %.2f mm³\n\n", report.Stats.Volume)

	fmt.Println("Bounding Box:")
	fmt.Printf("  Min: %s\n", analysis.FormatVector(report.BoundingBox.Min))
	fmt.Printf("  Max: %s\n", analysis.FormatVector(report.BoundingBox.Max))
	fmt.Printf("  Center: %s\n\n", analysis.FormatVector(report.BoundingBox.Center()))

	fmt.Println("Dimensions:")
	fmt.Printf("  Width (X): %s\n", analysis.FormatMeasurement(report.Dimensions.X, "mm"))
	fmt.Printf("  Depth (Y): %s\n", analysis.FormatMeasurement(report.Dimensions.Y, "mm"))
	fmt.Printf("  Height (Z): %s\n", analysis.FormatMeasurement(report.Dimensions.Z, "mm"))
	fmt.Printf("  Diagonal: %s\n", analysis.FormatMeasurement(report.BoundingBox.Diagonal(), "mm"))
	fmt.Printf("  Footprint: %.4f x %.4f x %.4f m\n\n", report.Footprint.Width, report.Footprint.Depth, report.Footprint.Height)

	fmt.Println("Print Estimate (PLA):")
	fmt.Printf("  Weight: %.2f g\n", report.Stats.Weight)
	fmt.Printf("  Print Time: %.1f min\n\n", report.Stats.PrintMinutes)

	fmt.Println("Edge Lengths:")
	fmt.Printf("  Minimum: %s\n", analysis.FormatMeasurement(report.Edges.MinEdgeLength, "mm"))
	fmt.Printf("  Maximum: %s\n", analysis.FormatMeasurement(report.Edges.MaxEdgeLength, "mm"))
	fmt.Printf("  Average: %s\n\n", analysis.FormatMeasurement(report.Edges.AvgEdgeLength, "mm"))

	fmt.Println("Fingerprint:")
	fmt.Printf("  Vector: %v\n", vector)
	fmt.Printf("  Signature: %s\n", fingerprint.DeriveSignature(vector))
}
