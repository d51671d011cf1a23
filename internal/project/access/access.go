// Package access evaluates a pre-computed cluster permission set.
//
// The set is acquired outside the engine, typically from the output of
// "kubectl auth can-i --list", and only consulted here.
package access

import (
	"regexp"
	"slices"
	"strings"
)

// Permission lists the verbs allowed on one resource name.
type Permission struct {
	ResourceName string   `json:"resourceName"`
	Verbs        []string `json:"verbs"`
}

// PermissionSet is the permissions of one context and namespace.
type PermissionSet struct {
	Permissions []Permission `json:"permissions"`
	FullAccess  bool         `json:"fullAccess"`
	Context     string       `json:"context,omitempty"`
	Namespace   string       `json:"namespace,omitempty"`
}

var columnSep = regexp.MustCompile(`\s{2,}`)

// ParseCanI parses the table printed by "kubectl auth can-i --list".
// The header line is skipped; each row holds the resource name, non
// resource URLs, resource names and the bracketed verb list.
func ParseCanI(output string) PermissionSet {
	var set PermissionSet
	if output == "" {
		return set
	}
	for i, line := range strings.Split(output, "\n") {
		if i == 0 {
			continue
		}
		cols := columnSep.Split(strings.TrimRight(line, " \t\r"), -1)
		name := cols[0]
		if name == "" {
			continue
		}
		var raw string
		if len(cols) >= 4 {
			raw = cols[3]
		}
		raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "["), "]")
		if name == "*.*" && raw == "*" {
			set.FullAccess = true
		}
		set.Permissions = append(set.Permissions, Permission{
			ResourceName: name,
			Verbs:        strings.Fields(raw),
		})
	}
	return set
}

// Allowed reports whether verb is permitted on resourceName. Names are
// compared in lower case; full access allows everything.
func (s *PermissionSet) Allowed(resourceName, verb string) bool {
	if s == nil {
		return false
	}
	if s.FullAccess {
		return true
	}
	name := strings.ToLower(resourceName)
	for _, p := range s.Permissions {
		if p.ResourceName == name && slices.Contains(p.Verbs, verb) {
			return true
		}
	}
	return false
}

// ResourceName derives the can-i resource name of a kind: its lower-case
// plural, qualified with the API group when there is one.
func ResourceName(kind, apiVersion string) string {
	plural := Plural(kind)
	if group, _, ok := strings.Cut(apiVersion, "/"); ok && group != "" {
		return plural + "." + group
	}
	return plural
}

// Plural returns the lower-case plural of kind using the rules the API
// server applies to built-in kinds.
func Plural(kind string) string {
	k := strings.ToLower(kind)
	switch {
	case k == "":
		return ""
	case k == "endpoints":
		return k
	case strings.HasSuffix(k, "y") && !strings.HasSuffix(k, "ay") && !strings.HasSuffix(k, "ey"):
		return strings.TrimSuffix(k, "y") + "ies"
	case strings.HasSuffix(k, "s"), strings.HasSuffix(k, "x"), strings.HasSuffix(k, "ch"), strings.HasSuffix(k, "sh"):
		return k + "es"
	default:
		return k + "s"
	}
}
