package access

import "testing"

const canIOutput = `Resources                                       Non-Resource URLs   Resource Names   Verbs
selfsubjectaccessreviews.authorization.k8s.io   []                  []               [create]
pods                                            []                  []               [get list watch]
deployments.apps                                []                  []               [get list]
                                                [/api/*]            []               [get]
`

func TestParseCanI(t *testing.T) {
	set := ParseCanI(canIOutput)
	if set.FullAccess {
		t.Error("FullAccess should be false")
	}
	if len(set.Permissions) != 3 {
		t.Fatalf("Permissions = %+v, want 3", set.Permissions)
	}
	pods := set.Permissions[1]
	if pods.ResourceName != "pods" || len(pods.Verbs) != 3 || pods.Verbs[2] != "watch" {
		t.Errorf("pods = %+v", pods)
	}
}

func TestParseCanI_FullAccess(t *testing.T) {
	out := "Resources   Non-Resource URLs   Resource Names   Verbs\n*.*         []                  []               [*]\n"
	set := ParseCanI(out)
	if !set.FullAccess {
		t.Error("FullAccess should be true")
	}
	if !set.Allowed("Anything", "delete") {
		t.Error("full access should allow every verb")
	}
	if ParseCanI("").FullAccess {
		t.Error("empty output grants nothing")
	}
}

func TestPermissionSet_Allowed(t *testing.T) {
	set := ParseCanI(canIOutput)
	tests := []struct {
		name, verb string
		want       bool
	}{
		{"pods", "list", true},
		{"Pods", "watch", true},
		{"pods", "delete", false},
		{"deployments.apps", "get", true},
		{"secrets", "get", false},
	}
	for _, tt := range tests {
		if got := set.Allowed(tt.name, tt.verb); got != tt.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tt.name, tt.verb, got, tt.want)
		}
	}

	var none *PermissionSet
	if none.Allowed("pods", "get") {
		t.Error("nil set should allow nothing")
	}
}

func TestResourceName(t *testing.T) {
	tests := []struct {
		kind, apiVersion, want string
	}{
		{"Deployment", "apps/v1", "deployments.apps"},
		{"Pod", "v1", "pods"},
		{"Ingress", "networking.k8s.io/v1", "ingresses.networking.k8s.io"},
		{"NetworkPolicy", "networking.k8s.io/v1", "networkpolicies.networking.k8s.io"},
		{"Endpoints", "v1", "endpoints"},
		{"Gateway", "gateway.networking.k8s.io/v1", "gateways.gateway.networking.k8s.io"},
	}
	for _, tt := range tests {
		if got := ResourceName(tt.kind, tt.apiVersion); got != tt.want {
			t.Errorf("ResourceName(%q, %q) = %q, want %q", tt.kind, tt.apiVersion, got, tt.want)
		}
	}
}
