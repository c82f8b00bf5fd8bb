package domain

import "time"

// AnalysisStatus tracks a contract through the upload -> analysis lifecycle.
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// RiskLevel is the 4-band categorical risk derived from a 0-100 score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type ContractType string

const (
	TypeEmploymentAgreement ContractType = "employment_agreement"
	TypeVendorContract      ContractType = "vendor_contract"
	TypeLeaseAgreement      ContractType = "lease_agreement"
	TypePartnershipDeed     ContractType = "partnership_deed"
	TypeServiceContract     ContractType = "service_contract"
	TypeOther               ContractType = "other"
)

type ClauseCategory string

const (
	CategoryObligations       ClauseCategory = "obligations"
	CategoryRights            ClauseCategory = "rights"
	CategoryProhibitions      ClauseCategory = "prohibitions"
	CategoryTermination       ClauseCategory = "termination"
	CategoryIndemnity         ClauseCategory = "indemnity"
	CategoryLiability         ClauseCategory = "liability"
	CategoryConfidentiality   ClauseCategory = "confidentiality"
	CategoryIPTransfer        ClauseCategory = "ip_transfer"
	CategoryNonCompete        ClauseCategory = "non_compete"
	CategoryAutoRenewal       ClauseCategory = "auto_renewal"
	CategoryPayment           ClauseCategory = "payment"
	CategoryDisputeResolution ClauseCategory = "dispute_resolution"
	CategoryOther             ClauseCategory = "other"
)

type AuditAction string

const (
	ActionUpload            AuditAction = "upload"
	ActionAnalyze           AuditAction = "analyze"
	ActionExport            AuditAction = "export"
	ActionTemplateGenerated AuditAction = "template_generated"
	ActionClauseEdited      AuditAction = "clause_edited"
	ActionVersionCreated    AuditAction = "version_created"
)

// Session carries the authenticated caller through every data-access call.
// There is deliberately no ambient/global session state.
type Session struct {
	UserID string
	Token  string
}

// Party is one contracting party extracted by analysis.
type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Contract is a user-uploaded legal document tracked through its
// upload -> analysis -> completed/failed lifecycle.
type Contract struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"userId"`
	FileName           string         `json:"fileName"`
	FilePath           string         `json:"-"`
	FileSize           int64          `json:"fileSize"`
	Language           string         `json:"language"`
	ContractType       ContractType   `json:"contractType"`
	Parties            []Party        `json:"parties"`
	EffectiveDate      string         `json:"effectiveDate,omitempty"`
	ExpiryDate         string         `json:"expiryDate,omitempty"`
	Jurisdiction       string         `json:"jurisdiction,omitempty"`
	CompositeRiskScore int            `json:"compositeRiskScore"`
	RiskLevel          RiskLevel      `json:"riskLevel"`
	ExecutiveSummary   string         `json:"executiveSummary,omitempty"`
	AnalysisStatus     AnalysisStatus `json:"analysisStatus"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	AnalyzedAt         *time.Time     `json:"analyzedAt,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// ComplianceFlag cites a potential legal-compliance issue on a clause.
type ComplianceFlag struct {
	Issue        string    `json:"issue"`
	LawReference string    `json:"law_reference,omitempty"`
	Severity     RiskLevel `json:"severity"`
}

// Clause is one analyzed unit of a contract's text. The full clause set of
// a contract is replaced atomically on each re-analysis.
type Clause struct {
	ID                   string           `json:"id"`
	ContractID           string           `json:"contractId"`
	ClauseNumber         int              `json:"clauseNumber"`
	OriginalText         string           `json:"originalText"`
	PlainExplanation     string           `json:"plainExplanation,omitempty"`
	RiskRationale        string           `json:"riskRationale,omitempty"`
	RiskScore            int              `json:"riskScore"`
	RiskLevel            RiskLevel        `json:"riskLevel"`
	Category             ClauseCategory   `json:"category"`
	SuggestedAlternative string           `json:"suggestedAlternative,omitempty"`
	NegotiationScript    string           `json:"negotiationScript,omitempty"`
	ComplianceFlags      []ComplianceFlag `json:"complianceFlags"`
	SimilarityScore      float64          `json:"similarityScore"`
	IsFlagged            bool             `json:"isFlagged"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// TemplateVariable describes one fill-in slot of a contract template.
type TemplateVariable struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"` // text, textarea, number, date
}

// ContractTemplate is reusable boilerplate with {{variable}} placeholders.
// Templates are read-only through the API.
type ContractTemplate struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	ContractType ContractType       `json:"contractType"`
	Content      string             `json:"content"`
	Variables    []TemplateVariable `json:"variables"`
	RiskPosture  string             `json:"riskPosture"`
	IsPublic     bool               `json:"isPublic"`
	CreatedBy    string             `json:"createdBy,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// UserTemplate is a user's filled instantiation of a contract template.
type UserTemplate struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	TemplateID      string            `json:"templateId,omitempty"`
	Name            string            `json:"name"`
	Content         string            `json:"content"`
	VariablesFilled map[string]string `json:"variablesFilled"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// GlossaryTerm is a bilingual reference definition.
type GlossaryTerm struct {
	ID           string    `json:"id"`
	Term         string    `json:"term"`
	DefinitionEN string    `json:"definitionEn"`
	DefinitionHI string    `json:"definitionHi,omitempty"`
	ExampleUsage string    `json:"exampleUsage,omitempty"`
	Category     string    `json:"category,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuditEntry is an immutable record of a user-initiated action.
type AuditEntry struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	ContractID    string         `json:"contractId,omitempty"`
	Action        AuditAction    `json:"action"`
	ActionDetails map[string]any `json:"actionDetails"`
	IPAddress     string         `json:"ipAddress,omitempty"`
	UserAgent     string         `json:"userAgent,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// AnalysisResult is the structured payload the language model must return.
// Field names mirror the JSON schema embedded in the system prompt.
type AnalysisResult struct {
	ContractType       ContractType     `json:"contract_type"`
	Parties            []Party          `json:"parties"`
	Jurisdiction       string           `json:"jurisdiction"`
	EffectiveDate      string           `json:"effective_date,omitempty"`
	ExpiryDate         string           `json:"expiry_date,omitempty"`
	CompositeRiskScore int              `json:"composite_risk_score"`
	RiskLevel          RiskLevel        `json:"risk_level"`
	ExecutiveSummary   string           `json:"executive_summary"`
	Clauses            []ClauseAnalysis `json:"clauses"`
}

// ClauseAnalysis is one clause entry inside an AnalysisResult.
type ClauseAnalysis struct {
	ClauseNumber         int              `json:"clause_number"`
	OriginalText         string           `json:"original_text"`
	PlainExplanation     string           `json:"plain_explanation"`
	RiskRationale        string           `json:"risk_rationale"`
	RiskScore            int              `json:"risk_score"`
	RiskLevel            RiskLevel        `json:"risk_level"`
	Category             ClauseCategory   `json:"category"`
	SuggestedAlternative string           `json:"suggested_alternative,omitempty"`
	NegotiationScript    string           `json:"negotiation_script,omitempty"`
	ComplianceFlags      []ComplianceFlag `json:"compliance_flags"`
}

// ValidContractType reports membership in the closed contract-type set.
func ValidContractType(t ContractType) bool {
	switch t {
	case TypeEmploymentAgreement, TypeVendorContract, TypeLeaseAgreement,
		TypePartnershipDeed, TypeServiceContract, TypeOther:
		return true
	}
	return false
}

// ValidRiskLevel reports membership in the closed risk-level set.
func ValidRiskLevel(l RiskLevel) bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ValidClauseCategory reports membership in the closed category set.
func ValidClauseCategory(c ClauseCategory) bool {
	switch c {
	case CategoryObligations, CategoryRights, CategoryProhibitions,
		CategoryTermination, CategoryIndemnity, CategoryLiability,
		CategoryConfidentiality, CategoryIPTransfer, CategoryNonCompete,
		CategoryAutoRenewal, CategoryPayment, CategoryDisputeResolution,
		CategoryOther:
		return true
	}
	return false
}

// ValidAuditAction reports membership in the closed audit-action set.
func ValidAuditAction(a AuditAction) bool {
	switch a {
	case ActionUpload, ActionAnalyze, ActionExport,
		ActionTemplateGenerated, ActionClauseEdited, ActionVersionCreated:
		return true
	}
	return false
}
