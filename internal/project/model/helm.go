package model

import (
	"path"
	"slices"
	"strings"
)

// HelmChart summarizes one chart found under the root.
type HelmChart struct {
	// ChartPath is the relative path of the Chart.yaml.
	ChartPath string `cbor:"chartPath"`
	// Dir is the chart directory, "" for a chart at the root.
	Dir         string   `cbor:"dir"`
	Name        string   `cbor:"name"`
	Version     string   `cbor:"version"`
	ValuesFiles []string `cbor:"valuesFiles"`
}

// IsChartFile reports whether name is a chart definition file.
func IsChartFile(name string) bool {
	return name == "Chart.yaml" || name == "Chart.yml"
}

// IsValuesFile reports whether name follows the values file convention.
func IsValuesFile(name string) bool {
	ext := path.Ext(name)
	return strings.HasPrefix(name, "values") && (ext == ".yaml" || ext == ".yml")
}

// HelmCharts derives the chart index from the file map, ordered by
// chart path.
func HelmCharts(files FileMap) []HelmChart {
	var charts []HelmChart
	for rel, entry := range files {
		if entry.Helm != HelmChartFile {
			continue
		}
		chart := HelmChart{ChartPath: rel, Dir: DirOf(rel)}
		if entry.Chart != nil {
			chart.Name = entry.Chart.Name
			chart.Version = entry.Chart.Version
		}
		parent := files[ParentOf(rel)]
		if parent != nil {
			for _, child := range parent.Children {
				if c := files[child]; c != nil && c.Helm == HelmValues {
					chart.ValuesFiles = append(chart.ValuesFiles, child)
				}
			}
		}
		charts = append(charts, chart)
	}
	slices.SortFunc(charts, func(a, b HelmChart) int {
		return strings.Compare(a.ChartPath, b.ChartPath)
	})
	return charts
}

// ChartFor returns the chart whose directory contains rel.
func ChartFor(charts []HelmChart, rel string) (HelmChart, bool) {
	best := -1
	for i, c := range charts {
		if c.Dir != "" && !IsUnder(rel, c.Dir) {
			continue
		}
		if best < 0 || len(c.Dir) > len(charts[best].Dir) {
			best = i
		}
	}
	if best < 0 {
		return HelmChart{}, false
	}
	return charts[best], true
}
