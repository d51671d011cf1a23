package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dshills/manifold/internal/project"
	"github.com/dshills/manifold/internal/project/model"
)

// ResourceSummary is the JSON form of a resource.
type ResourceSummary struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Name       string `json:"name"`
	Namespace  string `json:"namespace,omitempty"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Incoming   int    `json:"incomingRefs"`
	Outgoing   int    `json:"outgoingRefs"`
	Unresolved int    `json:"unresolvedRefs"`
}

func summarizeResource(r *model.Resource) ResourceSummary {
	return ResourceSummary{
		ID:         r.ID,
		Kind:       r.Kind,
		APIVersion: r.APIVersion,
		Name:       r.Name,
		Namespace:  r.Namespace,
		File:       r.FilePath,
		Line:       r.LinePos,
		Incoming:   r.IncomingRefs,
		Outgoing:   r.OutgoingRefs,
		Unresolved: r.UnsatisfiedRefs,
	}
}

func summarizeResources(resources []*model.Resource) []ResourceSummary {
	out := make([]ResourceSummary, 0, len(resources))
	for _, r := range resources {
		out = append(out, summarizeResource(r))
	}
	return out
}

// writeJSON writes value as indented JSON.
func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeResourceTable(w io.Writer, resources []*model.Resource) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAMESPACE\tNAME\tFILE")
	for _, r := range resources {
		ns := r.Namespace
		if ns == "" {
			ns = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\n", r.Kind, ns, r.Name, r.FilePath, r.LinePos)
	}
	return tw.Flush()
}

// describe names a resource for humans.
func describe(r *model.Resource) string {
	if r.Namespace != "" {
		return r.Kind + "/" + r.Namespace + "/" + r.Name
	}
	return r.Kind + "/" + r.Name
}

// findResource resolves ref as a resource ID, Kind/name,
// Kind/namespace/name or the path of a file holding one resource. Kinds
// compare case-insensitively.
func findResource(resources model.ResourceMap, files model.FileMap, ref string) (*model.Resource, error) {
	if r := resources[ref]; r != nil {
		return r, nil
	}
	if f := files[strings.TrimPrefix(ref, "./")]; f != nil && !f.IsDir {
		switch len(f.ResourceIDs) {
		case 0:
			return nil, fmt.Errorf("file %s holds no resources: %w", f.RelPath, project.ErrNotFound)
		case 1:
			if r := resources[f.ResourceIDs[0]]; r != nil {
				return r, nil
			}
		default:
			return nil, fmt.Errorf("file %s holds %d resources; name one as Kind/name", f.RelPath, len(f.ResourceIDs))
		}
	}

	parts := strings.Split(ref, "/")
	var kind, namespace, name string
	switch len(parts) {
	case 2:
		kind, name = parts[0], parts[1]
	case 3:
		kind, namespace, name = parts[0], parts[1], parts[2]
	default:
		return nil, fmt.Errorf("resource %q: %w", ref, project.ErrNotFound)
	}

	var found []*model.Resource
	for _, r := range resources.Sorted() {
		if !strings.EqualFold(r.Kind, kind) || r.Name != name {
			continue
		}
		if len(parts) == 3 && r.Namespace != namespace {
			continue
		}
		found = append(found, r)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("resource %q: %w", ref, project.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("resource %q matches %d resources; use Kind/namespace/name or an ID", ref, len(found))
	}
}
