package model

import (
	"fmt"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with Core Deterministic Encoding: sorted map keys and
// shortest integer forms, so equal state always yields equal bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("model: CBOR encoder initialization failed: " + err.Error())
	}
}

// MarshalCanonical encodes v deterministically.
func MarshalCanonical(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Snapshot is a detached, ordered copy of the engine state.
type Snapshot struct {
	Files     []*FileEntry
	Resources []*Resource
	Edges     []graph.Edge
	Charts    []HelmChart
}

// NewSnapshot copies files, resources and edges into a Snapshot.
func NewSnapshot(files FileMap, resources ResourceMap, edges []graph.Edge) Snapshot {
	s := Snapshot{
		Files:     make([]*FileEntry, 0, len(files)),
		Resources: make([]*Resource, 0, len(resources)),
		Edges:     graph.Sort(append([]graph.Edge(nil), edges...)),
		Charts:    HelmCharts(files),
	}
	for _, p := range files.Paths() {
		s.Files = append(s.Files, files[p].Clone())
	}
	for _, id := range resources.IDs() {
		s.Resources = append(s.Resources, resources[id].Clone())
	}
	return s
}

type canonicalFile struct {
	RelPath     string     `cbor:"path"`
	IsDir       bool       `cbor:"dir"`
	Children    []string   `cbor:"children"`
	ResourceIDs []string   `cbor:"resources"`
	ParseError  string     `cbor:"parseError"`
	Helm        HelmRole   `cbor:"helm"`
	Chart       *ChartMeta `cbor:"chart"`
}

type canonicalResource struct {
	ID              string         `cbor:"id"`
	Name            string         `cbor:"name"`
	Kind            string         `cbor:"kind"`
	APIVersion      string         `cbor:"apiVersion"`
	FilePath        string         `cbor:"file"`
	DocIndex        int            `cbor:"doc"`
	LinePos         int            `cbor:"line"`
	Namespace       string         `cbor:"namespace"`
	Content         map[string]any `cbor:"content"`
	IncomingRefs    int            `cbor:"in"`
	OutgoingRefs    int            `cbor:"out"`
	UnsatisfiedRefs int            `cbor:"unsatisfied"`
	Diagnostics     []string       `cbor:"diagnostics"`
}

type canonicalSnapshot struct {
	Files     []canonicalFile     `cbor:"files"`
	Resources []canonicalResource `cbor:"resources"`
	Edges     []graph.Edge        `cbor:"edges"`
	Charts    []HelmChart         `cbor:"charts"`
}

// Canonical encodes the engine-owned part of the snapshot. Consumer flags
// and absolute paths are left out so two snapshots of the same tree compare
// byte for byte.
func (s Snapshot) Canonical() ([]byte, error) {
	c := canonicalSnapshot{Edges: s.Edges, Charts: s.Charts}
	for _, f := range s.Files {
		c.Files = append(c.Files, canonicalFile{
			RelPath:     f.RelPath,
			IsDir:       f.IsDir,
			Children:    nilIfEmpty(f.Children),
			ResourceIDs: nilIfEmpty(f.ResourceIDs),
			ParseError:  f.ParseError,
			Helm:        f.Helm,
			Chart:       f.Chart,
		})
	}
	for _, r := range s.Resources {
		c.Resources = append(c.Resources, canonicalResource{
			ID:              r.ID,
			Name:            r.Name,
			Kind:            r.Kind,
			APIVersion:      r.APIVersion,
			FilePath:        r.FilePath,
			DocIndex:        r.DocIndex,
			LinePos:         r.LinePos,
			Namespace:       r.Namespace,
			Content:         r.Content,
			IncomingRefs:    r.IncomingRefs,
			OutgoingRefs:    r.OutgoingRefs,
			UnsatisfiedRefs: r.UnsatisfiedRefs,
			Diagnostics:     nilIfEmpty(r.Diagnostics),
		})
	}
	data, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
