package manifest

import (
	"fmt"
	"path"

	"github.com/dshills/manifold/internal/project/model"
	"gopkg.in/yaml.v3"
)

// HelmRole classifies relPath given a predicate telling whether a
// directory holds a Chart.yaml. The nearest enclosing chart wins.
func HelmRole(relPath string, isChartDir func(dir string) bool) model.HelmRole {
	name := path.Base(relPath)
	if model.IsChartFile(name) {
		return model.HelmChartFile
	}

	fileDir := model.DirOf(relPath)
	for dir := fileDir; ; dir = model.DirOf(dir) {
		if isChartDir(dir) {
			switch {
			case dir == fileDir && model.IsValuesFile(name):
				return model.HelmValues
			case model.IsUnder(relPath, path.Join(dir, "templates")):
				return model.HelmTemplate
			}
			return model.HelmNone
		}
		if dir == "" {
			return model.HelmNone
		}
	}
}

// ParseChart reads the metadata of a Chart.yaml.
func ParseChart(relPath string, data []byte) (*model.ChartMeta, error) {
	var chart struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return nil, &ParseError{Path: relPath, DocIndex: 0, Err: fmt.Errorf("chart metadata: %w", err)}
	}
	return &model.ChartMeta{Name: chart.Name, Version: chart.Version}, nil
}
