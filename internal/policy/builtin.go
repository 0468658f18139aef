package policy

// BuiltInRules returns the default admission rule set. They are
// evaluated before any configured rules, so a configured rule cannot
// soften a built-in deny.
func BuiltInRules() []Rule {
	return []Rule{
		{
			Category:  "destructive-data",
			Keywords:  []string{"drop table", "truncate table", "delete database", "rm -rf"},
			Patterns:  []string{`drop\s+(database|schema)\b`, `delete\s+from\s+\w+\s*;?\s*$`},
			Action:    ActionDeny,
			RiskLevel: RiskCritical,
		},
		{
			Category:  "credential-access",
			Keywords:  []string{"dump credentials", "export secrets", "read private key"},
			Patterns:  []string{`(print|cat|dump)\s+.*(secret|credential|private[_-]?key)`},
			Action:    ActionDeny,
			RiskLevel: RiskCritical,
		},
		{
			Category:  "production-change",
			Keywords:  []string{"deploy to production", "prod rollout", "production migration"},
			Patterns:  []string{`(deploy|release|migrate)\b.*\bprod(uction)?\b`},
			Action:    ActionRequireHuman,
			RiskLevel: RiskHigh,
		},
		{
			Category:  "user-data",
			Keywords:  []string{"delete user", "purge account", "anonymize"},
			Action:    ActionRequireHuman,
			RiskLevel: RiskHigh,
		},
		{
			Category:  "bulk-notification",
			Keywords:  []string{"email all", "notify all users", "broadcast"},
			Action:    ActionRequireHuman,
			RiskLevel: RiskMedium,
		},
		{
			Category:  "read-only",
			Keywords:  []string{"fetch", "summarize", "report", "list", "status"},
			Action:    ActionAllow,
			RiskLevel: RiskLow,
		},
	}
}
