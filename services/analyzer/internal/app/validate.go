package app

import (
	"fmt"

	"contractlens/pkg/domain"
)

// validateAnalysis checks the parsed model output against the closed enum
// sets and numeric ranges before anything reaches the database, and
// normalizes clause numbering to 1..M in the order returned. The model is
// an untrusted producer; a single out-of-range field rejects the whole
// result.
func validateAnalysis(result *domain.AnalysisResult) error {
	if !domain.ValidContractType(result.ContractType) {
		return fmt.Errorf("invalid contract_type %q", result.ContractType)
	}
	if !domain.ValidRiskLevel(result.RiskLevel) {
		return fmt.Errorf("invalid risk_level %q", result.RiskLevel)
	}
	if result.CompositeRiskScore < 0 || result.CompositeRiskScore > 100 {
		return fmt.Errorf("composite_risk_score %d out of range 0-100", result.CompositeRiskScore)
	}
	if result.ExecutiveSummary == "" {
		return fmt.Errorf("executive_summary missing")
	}
	if result.Parties == nil {
		result.Parties = []domain.Party{}
	}
	if len(result.Clauses) == 0 {
		return fmt.Errorf("no clauses in analysis")
	}
	for i := range result.Clauses {
		clause := &result.Clauses[i]
		clause.ClauseNumber = i + 1
		if clause.OriginalText == "" {
			return fmt.Errorf("clause %d: original_text missing", clause.ClauseNumber)
		}
		if clause.RiskScore < 0 || clause.RiskScore > 100 {
			return fmt.Errorf("clause %d: risk_score %d out of range 0-100", clause.ClauseNumber, clause.RiskScore)
		}
		if !domain.ValidRiskLevel(clause.RiskLevel) {
			return fmt.Errorf("clause %d: invalid risk_level %q", clause.ClauseNumber, clause.RiskLevel)
		}
		if !domain.ValidClauseCategory(clause.Category) {
			return fmt.Errorf("clause %d: invalid category %q", clause.ClauseNumber, clause.Category)
		}
		if clause.ComplianceFlags == nil {
			clause.ComplianceFlags = []domain.ComplianceFlag{}
		}
		for j, flag := range clause.ComplianceFlags {
			if flag.Issue == "" {
				return fmt.Errorf("clause %d: compliance flag %d missing issue", clause.ClauseNumber, j+1)
			}
			if !domain.ValidRiskLevel(flag.Severity) {
				return fmt.Errorf("clause %d: compliance flag %d invalid severity %q", clause.ClauseNumber, j+1, flag.Severity)
			}
		}
	}
	return nil
}
