package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project/preview"
)

// PreviewResult is the result printed by the preview commands.
type PreviewResult struct {
	Source    string            `json:"source"`
	Context   string            `json:"context"`
	Resources []ResourceSummary `json:"resources"`
	Edges     []EdgeSummary     `json:"edges"`
}

func RunPreviewKustomize(cmd *cobra.Command, args []string) error {
	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	r, err := findResource(engine.Resources(), engine.Files(), args[0])
	if err != nil {
		return err
	}
	if err := engine.PreviewKustomization(commandContext(cmd), r.ID); err != nil {
		return err
	}
	return writePreview(cmd, engine.Preview())
}

func RunPreviewHelm(cmd *cobra.Command, args []string) error {
	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	rel, err := relativeToRoot(engine.Root(), args[0])
	if err != nil {
		return err
	}
	if err := engine.PreviewHelm(commandContext(cmd), rel); err != nil {
		return err
	}
	return writePreview(cmd, engine.Preview())
}

// RunPreviewCluster reads a listing from a file or stdin. It needs no
// scan of the root folder.
func RunPreviewCluster(cmd *cobra.Command, args []string) error {
	contextName, err := OptionalStringFlag(cmd, "context")
	if err != nil {
		return err
	}
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	if err := engine.PreviewCluster(contextName, data); err != nil {
		return err
	}
	return writePreview(cmd, engine.Preview())
}

func writePreview(cmd *cobra.Command, p *preview.Preview) error {
	if p == nil {
		return fmt.Errorf("no preview is active")
	}
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}

	sorted := p.Resources.Sorted()
	edges := p.Edges()
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, PreviewResult{
			Source:    p.Source.String(),
			Context:   p.ContextID,
			Resources: summarizeResources(sorted),
			Edges:     summarizeEdges(edges),
		})
	}

	fmt.Fprintf(out, "%s preview of %s: %d resources, %d edges\n",
		p.Source, p.ContextID, len(sorted), len(edges))
	return writeResourceTable(out, sorted)
}

// relativeToRoot converts a path given on the command line to the
// slash-separated form relative to root. Relative arguments are taken
// relative to root.
func relativeToRoot(root, arg string) (string, error) {
	if !filepath.IsAbs(arg) {
		return filepath.ToSlash(filepath.Clean(arg)), nil
	}
	rel, err := filepath.Rel(root, arg)
	if err != nil {
		return "", fmt.Errorf("values path %s: %w", arg, err)
	}
	return filepath.ToSlash(rel), nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
