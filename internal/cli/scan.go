package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project"
	"github.com/dshills/manifold/internal/project/model"
)

// ScanSummary is the result printed by scan.
type ScanSummary struct {
	Root        string         `json:"root"`
	Files       int            `json:"files"`
	Resources   int            `json:"resources"`
	Edges       int            `json:"edges"`
	Unresolved  int            `json:"unresolvedEdges"`
	Namespaces  []string       `json:"namespaces"`
	Kinds       []string       `json:"kinds"`
	HelmCharts  []ChartSummary `json:"helmCharts"`
	ParseErrors []string       `json:"parseErrors"`
	Diagnostics []string       `json:"diagnostics"`
}

// ChartSummary is the JSON form of a Helm chart.
type ChartSummary struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Path        string   `json:"path"`
	ValuesFiles []string `json:"valuesFiles"`
}

func RunScan(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	snapshotPath, err := OptionalStringFlag(cmd, "snapshot")
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	summary := Summarize(engine)
	if snapshotPath != "" {
		if err := writeSnapshot(engine, snapshotPath); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, summary)
	}

	fmt.Fprintf(out, "%d resources found in %d files\n", summary.Resources, summary.Files)
	fmt.Fprintf(out, "%d edges, %d unresolved\n", summary.Edges, summary.Unresolved)
	for _, chart := range summary.HelmCharts {
		fmt.Fprintf(out, "helm chart %s %s at %s (%d values files)\n",
			chart.Name, chart.Version, chart.Path, len(chart.ValuesFiles))
	}
	for _, msg := range summary.ParseErrors {
		fmt.Fprintf(out, "parse error: %s\n", msg)
	}
	for _, msg := range summary.Diagnostics {
		fmt.Fprintf(out, "warning: %s\n", msg)
	}
	return nil
}

// Summarize collects the counts and problems of the engine's project.
func Summarize(engine *project.Engine) ScanSummary {
	files := engine.Files()
	resources := engine.Resources()
	edges := engine.AllEdges()

	summary := ScanSummary{
		Root:        engine.Root(),
		Resources:   len(resources),
		Edges:       len(edges),
		Namespaces:  resources.Namespaces(),
		Kinds:       resources.Kinds(),
		HelmCharts:  []ChartSummary{},
		ParseErrors: []string{},
		Diagnostics: []string{},
	}
	for _, e := range edges {
		if !e.Valid {
			summary.Unresolved++
		}
	}
	for _, path := range files.Paths() {
		f := files[path]
		if f.IsDir {
			continue
		}
		summary.Files++
		if f.ParseError != "" {
			summary.ParseErrors = append(summary.ParseErrors, model.Diagnostic{Path: path, Message: f.ParseError}.String())
		}
	}
	for _, chart := range engine.HelmCharts() {
		summary.HelmCharts = append(summary.HelmCharts, ChartSummary{
			Name:        chart.Name,
			Version:     chart.Version,
			Path:        chart.ChartPath,
			ValuesFiles: append([]string{}, chart.ValuesFiles...),
		})
	}
	for _, d := range engine.Diagnostics() {
		summary.Diagnostics = append(summary.Diagnostics, d.String())
	}
	for _, r := range resources.Sorted() {
		for _, msg := range r.Diagnostics {
			summary.Diagnostics = append(summary.Diagnostics, model.Diagnostic{Path: r.FilePath, Message: msg}.String())
		}
	}
	if summary.Namespaces == nil {
		summary.Namespaces = []string{}
	}
	if summary.Kinds == nil {
		summary.Kinds = []string{}
	}
	return summary
}

func writeSnapshot(engine *project.Engine, path string) error {
	snap, err := engine.Snapshot()
	if err != nil {
		return err
	}
	data, err := snap.Canonical()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
