package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/model"
)

// EdgeSummary is the JSON form of an edge.
type EdgeSummary struct {
	Kind     string `json:"kind"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Target   string `json:"target"`
	Resolved bool   `json:"resolved"`
}

// RefsResult is the result printed by refs.
type RefsResult struct {
	Resource ResourceSummary `json:"resource"`
	Outgoing []EdgeSummary   `json:"outgoing"`
	Incoming []EdgeSummary   `json:"incoming"`
}

func RunRefs(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	resources := engine.Resources()
	r, err := findResource(resources, engine.Files(), args[0])
	if err != nil {
		return err
	}
	outgoing, incoming, err := engine.Edges(r.ID)
	if err != nil {
		return err
	}

	result := RefsResult{
		Resource: summarizeResource(r),
		Outgoing: summarizeEdges(outgoing),
		Incoming: summarizeEdges(incoming),
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, result)
	}

	fmt.Fprintln(out, describe(r))
	writeEdges(out, "references", outgoing, resources, func(e graph.Edge) string { return e.To })
	writeEdges(out, "referenced by", incoming, resources, func(e graph.Edge) string { return e.From })
	return nil
}

func summarizeEdges(edges []graph.Edge) []EdgeSummary {
	out := make([]EdgeSummary, 0, len(edges))
	for _, e := range edges {
		out = append(out, EdgeSummary{
			Kind:     e.Kind.String(),
			From:     e.From,
			To:       e.To,
			Target:   e.Target,
			Resolved: e.Valid,
		})
	}
	return out
}

func writeEdges(w io.Writer, title string, edges []graph.Edge, resources model.ResourceMap, end func(graph.Edge) string) {
	if len(edges) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, e := range edges {
		other := e.Target
		if r := resources[end(e)]; r != nil {
			other = describe(r)
		}
		if !e.Valid {
			other += " (unresolved)"
		}
		fmt.Fprintf(w, "  %-11s %s\n", e.Kind, other)
	}
}
