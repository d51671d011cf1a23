package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/manifold/internal/config/layer"
)

// listSyntax describes how a plain (non-JSON) env value splits into a list.
type listSyntax int

const (
	// commaList splits on commas: MANIFOLD_SCAN_EXCLUDES=dist/,*.bak
	commaList listSyntax = iota + 1
	// fieldList splits on whitespace: MANIFOLD_HELM="helm3 template"
	fieldList
)

// listSettings are the settings whose values are string lists.
var listSettings = map[string]listSyntax{
	"scan.excludes":            commaList,
	"preview.kustomizeCommand": fieldList,
	"preview.helmCommand":      fieldList,
}

// EnvLoader reads settings from prefixed environment variables.
// MANIFOLD_WATCH_MAX_WAIT sets watch.maxWait; a few short aliases such as
// MANIFOLD_IDLE name common settings directly.
type EnvLoader struct {
	prefix  string
	aliases map[string]string
	skip    map[string]bool
}

// NewEnvLoader creates a loader for variables starting with prefix, which
// includes the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix: prefix,
		aliases: map[string]string{
			prefix + "LOG_LEVEL":  "log.level",
			prefix + "LOG_FORMAT": "log.format",
			prefix + "IDLE":       "watch.idleDelay",
			prefix + "MAX_WAIT":   "watch.maxWait",
			prefix + "WORKERS":    "scan.workers",
			prefix + "EXCLUDES":   "scan.excludes",
			prefix + "KUSTOMIZE":  "preview.kustomizeCommand",
			prefix + "HELM":       "preview.helmCommand",
		},
		skip: map[string]bool{prefix + "CONFIG": true},
	}
}

// Load returns the settings found in the environment. An empty value is a
// value, not an unset variable. A long name wins over its alias.
func (l *EnvLoader) Load() (map[string]any, error) {
	tables := make(map[string]any)
	for env, path := range l.aliases {
		if val, ok := os.LookupEnv(env); ok {
			layer.SetByPath(tables, path, parseSetting(path, val))
		}
	}
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) || l.skip[name] {
			continue
		}
		if _, alias := l.aliases[name]; alias {
			continue
		}
		path := l.envToPath(name)
		layer.SetByPath(tables, path, parseSetting(path, value))
	}
	return tables, nil
}

// envToPath converts MANIFOLD_WATCH_MAX_WAIT to watch.maxWait.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")
	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}
	var b strings.Builder
	b.WriteString(section)
	b.WriteByte('.')
	b.WriteString(strings.ToLower(parts[1]))
	for _, part := range parts[2:] {
		if part != "" {
			b.WriteString(strings.ToUpper(part[:1]))
			b.WriteString(strings.ToLower(part[1:]))
		}
	}
	return b.String()
}

// parseSetting converts the raw value of the setting at path.
func parseSetting(path, s string) any {
	syntax, ok := listSettings[path]
	if !ok {
		return parseValue(s)
	}
	if list, ok := parseJSONList(s); ok {
		return list
	}
	var fields []string
	if syntax == commaList {
		for _, f := range strings.Split(s, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	} else {
		fields = strings.Fields(s)
	}
	list := make([]any, len(fields))
	for i, f := range fields {
		list[i] = f
	}
	return list
}

func parseJSONList(s string) ([]any, bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return nil, false
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, false
	}
	return list, true
}

// parseValue guesses the type of a scalar value. Durations stay strings
// for the config decoder.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.HasPrefix(s, "{") {
		var table map[string]any
		if err := json.Unmarshal([]byte(s), &table); err == nil {
			return table
		}
	}
	if list, ok := parseJSONList(s); ok {
		return list
	}
	return s
}
