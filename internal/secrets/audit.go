package secrets

// AuditLog records what Redact replaced. It never stores secret values.
type AuditLog struct {
	Redactions []Redaction    `json:"redactions"`
	RuleCounts map[string]int `json:"rule_counts"`
}

// Redaction is one replaced secret.
type Redaction struct {
	RuleID      string `json:"rule_id"`
	LineNumber  int    `json:"line_number"`
	OriginalLen int    `json:"original_len"`
	Preview     string `json:"preview"`
}

// HasRedactions returns true if any secrets were redacted.
func (a AuditLog) HasRedactions() bool {
	return len(a.Redactions) > 0
}

func buildAuditLog(findings []Finding) AuditLog {
	audit := AuditLog{
		Redactions: make([]Redaction, 0, len(findings)),
		RuleCounts: make(map[string]int),
	}
	for _, f := range findings {
		audit.Redactions = append(audit.Redactions, Redaction{
			RuleID:      f.RuleID,
			LineNumber:  f.Line,
			OriginalLen: len(f.Match),
			Preview:     f.Preview(),
		})
		audit.RuleCounts[f.RuleID]++
	}
	return audit
}
