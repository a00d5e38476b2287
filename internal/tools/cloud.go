package tools

import (
	"context"
	"strings"
)

// Simulated cloud inventory the read-only query tools run against. The
// fixtures stand in for a real provider API; the records are shaped like the
// answers an auditor actually needs (who holds which role, what is public,
// what is open to the internet).

// IAMBinding is one principal-to-role grant.
type IAMBinding struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
	MFA       bool   `json:"mfa_enabled"`
}

// Bucket is one storage bucket and its exposure.
type Bucket struct {
	Name       string `json:"name"`
	Public     bool   `json:"public"`
	Versioning bool   `json:"versioning"`
	Encrypted  bool   `json:"encrypted"`
}

// FirewallRule is one ingress/egress rule.
type FirewallRule struct {
	Name      string `json:"name"`
	Direction string `json:"direction"` // ingress or egress
	Source    string `json:"source"`
	Port      string `json:"port"`
	Allowed   bool   `json:"allowed"`
}

// Inventory is the environment under audit.
type Inventory struct {
	IAMBindings   []IAMBinding
	Buckets       []Bucket
	FirewallRules []FirewallRule
}

// DefaultInventory returns a small environment with deliberate findings: an
// admin without MFA, a public bucket, and 0.0.0.0/0 ingress on SSH.
func DefaultInventory() *Inventory {
	return &Inventory{
		IAMBindings: []IAMBinding{
			{Principal: "alice@corp.example", Role: "roles/owner", MFA: true},
			{Principal: "bob@corp.example", Role: "roles/editor", MFA: false},
			{Principal: "carol@corp.example", Role: "roles/viewer", MFA: true},
			{Principal: "svc-deploy@corp.example", Role: "roles/editor", MFA: false},
			{Principal: "dan@corp.example", Role: "roles/admin", MFA: false},
		},
		Buckets: []Bucket{
			{Name: "corp-invoices", Public: false, Versioning: true, Encrypted: true},
			{Name: "corp-static-assets", Public: true, Versioning: false, Encrypted: true},
			{Name: "corp-backups", Public: false, Versioning: true, Encrypted: false},
		},
		FirewallRules: []FirewallRule{
			{Name: "allow-internal", Direction: "ingress", Source: "10.0.0.0/8", Port: "443", Allowed: true},
			{Name: "allow-ssh-any", Direction: "ingress", Source: "0.0.0.0/0", Port: "22", Allowed: true},
			{Name: "deny-egress-smtp", Direction: "egress", Source: "10.0.0.0/8", Port: "25", Allowed: false},
		},
	}
}

// NewQueryIAMTool lists IAM bindings, optionally filtered by role substring.
func NewQueryIAMTool(inv *Inventory) Tool {
	return &funcTool{
		name: "query_iam",
		desc: "List IAM role bindings in the environment under audit. Optional role filter.",
		schema: ParamSchema{
			"role": {Type: "string", Description: "Substring filter on the role name."},
		},
		effect: ReadOnly,
		run: func(_ context.Context, params map[string]any) (any, error) {
			filter := StringParam(params, "role")
			var out []IAMBinding
			for _, b := range inv.IAMBindings {
				if filter == "" || strings.Contains(b.Role, filter) {
					out = append(out, b)
				}
			}
			return out, nil
		},
	}
}

// NewQueryStorageTool lists storage buckets, optionally only public ones.
func NewQueryStorageTool(inv *Inventory) Tool {
	return &funcTool{
		name: "query_storage",
		desc: "List storage buckets and their exposure. Set public_only to restrict to public buckets.",
		schema: ParamSchema{
			"public_only": {Type: "bool", Description: "Return only publicly readable buckets."},
		},
		effect: ReadOnly,
		run: func(_ context.Context, params map[string]any) (any, error) {
			publicOnly := BoolParam(params, "public_only")
			var out []Bucket
			for _, b := range inv.Buckets {
				if !publicOnly || b.Public {
					out = append(out, b)
				}
			}
			return out, nil
		},
	}
}

// NewQueryNetworkTool lists firewall rules, optionally by direction.
func NewQueryNetworkTool(inv *Inventory) Tool {
	return &funcTool{
		name: "query_network",
		desc: "List firewall rules. Optional direction filter: ingress or egress.",
		schema: ParamSchema{
			"direction": {Type: "string", Description: "Filter by rule direction."},
		},
		effect: ReadOnly,
		run: func(_ context.Context, params map[string]any) (any, error) {
			direction := StringParam(params, "direction")
			var out []FirewallRule
			for _, r := range inv.FirewallRules {
				if direction == "" || r.Direction == direction {
					out = append(out, r)
				}
			}
			return out, nil
		},
	}
}
