package catalog

import (
	"strings"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// Cost and data sensitivity levels, lowest to highest.
const (
	CostLow    = "low"
	CostMedium = "medium"
	CostHigh   = "high"

	SensitivityPublic      = "public"
	SensitivityProprietary = "proprietary"
	SensitivitySensitive   = "sensitive"
)

// Annotations are the MCP tool hints consulted for derivation. Absent
// hints stay nil.
type Annotations struct {
	ReadOnlyHint    *bool
	DestructiveHint *bool
}

// highRiskKeywords escalate a tool to HITL when found in its name or
// description, whatever the annotations claim.
var highRiskKeywords = []string{
	"delete", "remove", "destroy", "drop",
	"execute", "exec", "run_command",
	"write", "create", "update", "modify",
	"payment", "transfer", "purchase",
}

func hasHighRiskKeyword(name, description string) bool {
	haystack := strings.ToLower(name + " " + description)
	for _, kw := range highRiskKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// DeriveGovernance computes the policy for one discovered MCP tool.
//
// Annotations give the baseline: destructive tools are high cost and
// sensitive, read-only tools are low cost and public, and anything
// unannotated is treated as medium-cost proprietary requiring approval.
// A keyword scan then raises the HITL floor, the server's trust level
// is applied on top, and finally any per-tool override replaces fields
// one by one.
func DeriveGovernance(name, description string, ann Annotations, trust config.TrustLevel, override *config.GovernanceOverride) config.Governance {
	var g config.Governance
	switch {
	case ann.DestructiveHint != nil && *ann.DestructiveHint:
		g = config.Governance{RequiresHitl: true, Cost: CostHigh, DataSensitivity: SensitivitySensitive}
	case ann.ReadOnlyHint != nil && *ann.ReadOnlyHint:
		g = config.Governance{RequiresHitl: false, Cost: CostLow, DataSensitivity: SensitivityPublic}
	default:
		g = config.Governance{RequiresHitl: true, Cost: CostMedium, DataSensitivity: SensitivityProprietary}
	}

	escalated := hasHighRiskKeyword(name, description)
	if escalated {
		g.RequiresHitl = true
	}

	switch trust {
	case config.TrustTrusted:
		// Annotation-derived value stands, but the keyword floor holds.
	case config.TrustSandboxed, config.TrustUntrusted:
		g.RequiresHitl = true
	default:
		g.RequiresHitl = true
	}

	if override != nil {
		if override.RequiresHitl != nil {
			relaxing := !*override.RequiresHitl && g.RequiresHitl
			switch {
			case !relaxing:
				g.RequiresHitl = *override.RequiresHitl
			case trust == config.TrustSandboxed || trust == config.TrustTrusted:
				// Explicit overrides may relax sandboxed and trusted
				// servers; untrusted servers always require approval.
				g.RequiresHitl = false
			}
		}
		if override.Cost != nil {
			g.Cost = *override.Cost
		}
		if override.DataSensitivity != nil {
			g.DataSensitivity = *override.DataSensitivity
		}
	}

	return g
}
