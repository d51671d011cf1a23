// Package manifest turns raw file bytes into resource records.
//
// YAML files are decoded document by document; JSON files are first
// normalized with jsonc so comments and trailing commas are tolerated.
// A structural failure anywhere in a file yields zero resources and one
// *ParseError, never a panic or a partial result.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dshills/manifold/internal/project/model"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Kustomization defaults applied to kustomization files that omit them.
const (
	KustomizationKind       = "Kustomization"
	KustomizationAPIVersion = "kustomize.config.k8s.io/v1beta1"
)

// Result is the outcome of parsing one file.
type Result struct {
	Resources []*model.Resource
	// Err is a *ParseError when the file could not be parsed.
	Err error
}

// IsManifestFile reports whether name is parsed for resources.
func IsManifestFile(name string) bool {
	if IsKustomizationFile(name) {
		return true
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// IsKustomizationFile reports whether name is a kustomization file.
func IsKustomizationFile(name string) bool {
	switch name {
	case "kustomization.yaml", "kustomization.yml", "Kustomization":
		return true
	}
	return false
}

// IsKustomization reports whether r is an aggregator.
func IsKustomization(r *model.Resource) bool {
	return r.Kind == KustomizationKind
}

// Parse decodes data as the file at relPath. Files that are not manifests
// yield an empty result.
func Parse(relPath string, data []byte) Result {
	name := path.Base(relPath)
	if !IsManifestFile(name) {
		return Result{}
	}
	data, ok := manifestText(data)
	if !ok {
		return Result{Err: &ParseError{Path: relPath, DocIndex: -1, Err: ErrBinary}}
	}
	if strings.EqualFold(path.Ext(name), ".json") {
		data = jsonc.ToJSON(data)
	}

	resources, err := decodeDocuments(relPath, data, IsKustomizationFile(name))
	if err != nil {
		return Result{Err: err}
	}
	return Result{Resources: resources}
}

func decodeDocuments(relPath string, data []byte, kustomization bool) ([]*model.Resource, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var resources []*model.Resource
	for docIndex := 0; ; docIndex++ {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Path: relPath, DocIndex: docIndex, Err: err}
		}
		if len(doc.Content) == 0 {
			continue
		}

		body := doc.Content[0]
		if body.Kind != yaml.MappingNode {
			continue
		}
		var raw any
		if err := body.Decode(&raw); err != nil {
			return nil, &ParseError{Path: relPath, DocIndex: docIndex, Err: err}
		}
		content, _ := normalize(raw).(map[string]any)

		r, ok, err := newResource(relPath, docIndex, body.Line, content, kustomization)
		if err != nil {
			return nil, &ParseError{Path: relPath, DocIndex: docIndex, Err: err}
		}
		if ok {
			resources = append(resources, r)
		}
	}
	return resources, nil
}

// NewResource builds a resource from already decoded content, such as an
// item of a cluster listing. It reports false when content has no kind or
// apiVersion.
func NewResource(relPath string, docIndex int, content map[string]any) (*model.Resource, bool, error) {
	content, _ = normalize(content).(map[string]any)
	return newResource(relPath, docIndex, 0, content, false)
}

func newResource(relPath string, docIndex, line int, content map[string]any, kustomization bool) (*model.Resource, bool, error) {
	kind := model.LookupString(content, "kind")
	apiVersion := model.LookupString(content, "apiVersion")
	name := model.LookupString(content, "metadata", "name")

	if kustomization {
		if kind == "" {
			kind = KustomizationKind
		}
		if apiVersion == "" {
			apiVersion = KustomizationAPIVersion
		}
		if name == "" {
			name = kustomizationName(relPath)
		}
	}
	if kind == "" || apiVersion == "" {
		return nil, false, nil
	}

	id, err := ResourceID(relPath, docIndex, content)
	if err != nil {
		return nil, false, err
	}
	return &model.Resource{
		ID:         id,
		Name:       name,
		Kind:       kind,
		APIVersion: apiVersion,
		FilePath:   relPath,
		DocIndex:   docIndex,
		LinePos:    line,
		Namespace:  model.LookupString(content, "metadata", "namespace"),
		Content:    content,
	}, true, nil
}

// kustomizationName names a kustomization after its directory.
func kustomizationName(relPath string) string {
	if dir := model.DirOf(relPath); dir != "" {
		return path.Base(dir)
	}
	return "kustomization"
}

// normalize converts decoded YAML into string-keyed maps all the way down.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}
