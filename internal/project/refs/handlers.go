package refs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/manifold/internal/project/model"
)

// DefaultNamespace is assumed for namespaced resources without one.
const DefaultNamespace = "default"

// anyKind marks a handler whose name rules can point at any kind.
const anyKind = "*"

// workloadKinds carry a pod template.
var workloadKinds = []string{"CronJob", "DaemonSet", "Deployment", "Job", "Pod", "ReplicaSet", "StatefulSet"}

var clusterScoped = map[string]bool{
	"ClusterRole":              true,
	"ClusterRoleBinding":       true,
	"CustomResourceDefinition": true,
	"IngressClass":             true,
	"Namespace":                true,
	"Node":                     true,
	"PersistentVolume":         true,
	"PriorityClass":            true,
	"StorageClass":             true,
}

// IsClusterScoped reports whether resources of kind ignore namespaces.
func IsClusterScoped(kind string) bool {
	return clusterScoped[kind]
}

// Ref names a resource by kind, namespace and name.
type Ref struct {
	Kind      string
	Namespace string
	Name      string
}

// String renders Kind/namespace/name, or Kind/name when cluster scoped.
func (r Ref) String() string {
	if r.Namespace == "" {
		return r.Kind + "/" + r.Name
	}
	return r.Kind + "/" + r.Namespace + "/" + r.Name
}

// RefOf returns the reference naming res.
func RefOf(res *model.Resource) Ref {
	return Ref{Kind: res.Kind, Namespace: namespaceOf(res.Kind, res.Namespace), Name: res.Name}
}

func namespaceOf(kind, ns string) string {
	if IsClusterScoped(kind) {
		return ""
	}
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// handler describes the outgoing reference rules of one source kind.
type handler struct {
	// targets are the kinds the rules can point at.
	targets []string
	// selector returns the label selector matched against pod labels.
	selector func(*model.Resource) map[string]string
	// names returns the explicitly named targets.
	names func(*model.Resource) []Ref
}

var handlers = map[string]handler{
	"Service": {
		targets: workloadKinds,
		selector: func(r *model.Resource) map[string]string {
			return stringMap(model.LookupMap(r.Content, "spec", "selector"))
		},
	},
	"NetworkPolicy": {
		targets: workloadKinds,
		selector: func(r *model.Resource) map[string]string {
			return stringMap(model.LookupMap(r.Content, "spec", "podSelector", "matchLabels"))
		},
	},
	"PodDisruptionBudget": {
		targets: workloadKinds,
		selector: func(r *model.Resource) map[string]string {
			return stringMap(model.LookupMap(r.Content, "spec", "selector", "matchLabels"))
		},
	},
	"Ingress": {
		targets: []string{"Secret", "Service"},
		names:   ingressRefs,
	},
	"RoleBinding": {
		targets: []string{"ClusterRole", "Role", "ServiceAccount"},
		names:   bindingRefs,
	},
	"ClusterRoleBinding": {
		targets: []string{"ClusterRole", "ServiceAccount"},
		names:   bindingRefs,
	},
	"HorizontalPodAutoscaler": {
		targets: []string{anyKind},
		names: func(r *model.Resource) []Ref {
			kind := model.LookupString(r.Content, "spec", "scaleTargetRef", "kind")
			name := model.LookupString(r.Content, "spec", "scaleTargetRef", "name")
			if kind == "" || name == "" {
				return nil
			}
			return []Ref{{Kind: kind, Namespace: namespaceOf(kind, r.Namespace), Name: name}}
		},
	},
	"PersistentVolumeClaim": {
		targets: []string{"StorageClass"},
		names: func(r *model.Resource) []Ref {
			return storageClassRefs(model.LookupString(r.Content, "spec", "storageClassName"))
		},
	},
	"PersistentVolume": {
		targets: []string{"StorageClass"},
		names: func(r *model.Resource) []Ref {
			return storageClassRefs(model.LookupString(r.Content, "spec", "storageClassName"))
		},
	},
}

func init() {
	podTargets := []string{"ConfigMap", "PersistentVolumeClaim", "Secret", "ServiceAccount", "StorageClass"}
	for _, kind := range workloadKinds {
		handlers[kind] = handler{targets: podTargets, names: podRefs}
	}
}

// KnownKinds returns every kind the resolver has rules for or targets,
// in lexical order.
func KnownKinds() []string {
	seen := make(map[string]bool)
	for kind, h := range handlers {
		seen[kind] = true
		for _, t := range h.targets {
			if t != anyKind {
				seen[t] = true
			}
		}
	}
	for kind := range clusterScoped {
		seen[kind] = true
	}
	kinds := make([]string, 0, len(seen))
	for kind := range seen {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// handlerFor returns the rules of kind, if any.
func handlerFor(kind string) (handler, bool) {
	h, ok := handlers[kind]
	return h, ok
}

// canTarget reports whether the rules of h may point at any of kinds.
func (h handler) canTarget(kinds map[string]bool) bool {
	for _, t := range h.targets {
		if t == anyKind || kinds[t] {
			return true
		}
	}
	return false
}

// podSpec returns the pod spec of a workload.
func podSpec(r *model.Resource) map[string]any {
	switch r.Kind {
	case "Pod":
		return model.LookupMap(r.Content, "spec")
	case "CronJob":
		return model.LookupMap(r.Content, "spec", "jobTemplate", "spec", "template", "spec")
	default:
		return model.LookupMap(r.Content, "spec", "template", "spec")
	}
}

// PodLabels returns the labels a workload stamps on its pods.
func PodLabels(r *model.Resource) map[string]string {
	switch r.Kind {
	case "Pod":
		return stringMap(model.LookupMap(r.Content, "metadata", "labels"))
	case "CronJob":
		return stringMap(model.LookupMap(r.Content, "spec", "jobTemplate", "spec", "template", "metadata", "labels"))
	default:
		if !slices.Contains(workloadKinds, r.Kind) {
			return nil
		}
		return stringMap(model.LookupMap(r.Content, "spec", "template", "metadata", "labels"))
	}
}

func podRefs(r *model.Resource) []Ref {
	spec := podSpec(r)
	if spec == nil {
		return nil
	}
	ns := namespaceOf(r.Kind, r.Namespace)
	var refs []Ref
	add := func(kind, name string) {
		if name != "" {
			refs = append(refs, Ref{Kind: kind, Namespace: ns, Name: name})
		}
	}

	add("ServiceAccount", model.LookupString(spec, "serviceAccountName"))
	for _, s := range maps(model.LookupList(spec, "imagePullSecrets")) {
		add("Secret", model.LookupString(s, "name"))
	}
	for _, v := range maps(model.LookupList(spec, "volumes")) {
		add("ConfigMap", model.LookupString(v, "configMap", "name"))
		add("Secret", model.LookupString(v, "secret", "secretName"))
		add("PersistentVolumeClaim", model.LookupString(v, "persistentVolumeClaim", "claimName"))
		for _, src := range maps(model.LookupList(v, "projected", "sources")) {
			add("ConfigMap", model.LookupString(src, "configMap", "name"))
			add("Secret", model.LookupString(src, "secret", "name"))
		}
	}

	containers := append(maps(model.LookupList(spec, "containers")), maps(model.LookupList(spec, "initContainers"))...)
	for _, c := range containers {
		for _, env := range maps(model.LookupList(c, "env")) {
			add("ConfigMap", model.LookupString(env, "valueFrom", "configMapKeyRef", "name"))
			add("Secret", model.LookupString(env, "valueFrom", "secretKeyRef", "name"))
		}
		for _, from := range maps(model.LookupList(c, "envFrom")) {
			add("ConfigMap", model.LookupString(from, "configMapRef", "name"))
			add("Secret", model.LookupString(from, "secretRef", "name"))
		}
	}

	if r.Kind == "StatefulSet" {
		for _, t := range maps(model.LookupList(r.Content, "spec", "volumeClaimTemplates")) {
			refs = append(refs, storageClassRefs(model.LookupString(t, "spec", "storageClassName"))...)
		}
	}
	return refs
}

func ingressRefs(r *model.Resource) []Ref {
	ns := namespaceOf(r.Kind, r.Namespace)
	var refs []Ref
	backend := func(b map[string]any) {
		name := model.LookupString(b, "service", "name")
		if name == "" {
			name = model.LookupString(b, "serviceName")
		}
		if name != "" {
			refs = append(refs, Ref{Kind: "Service", Namespace: ns, Name: name})
		}
	}

	backend(model.LookupMap(r.Content, "spec", "defaultBackend"))
	backend(model.LookupMap(r.Content, "spec", "backend"))
	for _, rule := range maps(model.LookupList(r.Content, "spec", "rules")) {
		for _, p := range maps(model.LookupList(rule, "http", "paths")) {
			backend(model.LookupMap(p, "backend"))
		}
	}
	for _, tls := range maps(model.LookupList(r.Content, "spec", "tls")) {
		if name := model.LookupString(tls, "secretName"); name != "" {
			refs = append(refs, Ref{Kind: "Secret", Namespace: ns, Name: name})
		}
	}
	return refs
}

func bindingRefs(r *model.Resource) []Ref {
	var refs []Ref
	if kind, name := model.LookupString(r.Content, "roleRef", "kind"), model.LookupString(r.Content, "roleRef", "name"); kind != "" && name != "" {
		refs = append(refs, Ref{Kind: kind, Namespace: namespaceOf(kind, r.Namespace), Name: name})
	}
	for _, s := range maps(model.LookupList(r.Content, "subjects")) {
		if model.LookupString(s, "kind") != "ServiceAccount" {
			continue
		}
		name := model.LookupString(s, "name")
		if name == "" {
			continue
		}
		ns := model.LookupString(s, "namespace")
		if ns == "" {
			ns = r.Namespace
		}
		refs = append(refs, Ref{Kind: "ServiceAccount", Namespace: namespaceOf("ServiceAccount", ns), Name: name})
	}
	return refs
}

func storageClassRefs(name string) []Ref {
	if name == "" {
		return nil
	}
	return []Ref{{Kind: "StorageClass", Name: name}}
}

// SelectorString renders a selector as sorted key=value pairs.
func SelectorString(selector map[string]string) string {
	keys := make([]string, 0, len(selector))
	for k := range selector {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + selector[k]
	}
	return strings.Join(parts, ",")
}

// Matches reports whether every selector pair is present in labels. An
// empty selector matches nothing.
func Matches(selector, labels map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if got, ok := labels[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string:
			out[k] = v
		case nil, map[string]any, []any:
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func maps(list []any) []map[string]any {
	var out []map[string]any
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
