package store

import (
	"errors"

	"contractlens/pkg/domain"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned when a row does not exist or is not owned by
	// the requesting user. Callers cannot distinguish the two cases.
	ErrNotFound = errors.New("not found")
	// ErrAnalysisInFlight is returned by ClaimAnalysis when the contract is
	// already in analyzing status.
	ErrAnalysisInFlight = errors.New("analysis already in progress")
)

// Store defines persistence operations for contracts, clauses, templates,
// glossary terms, and the audit trail. Every user-owned operation takes the
// owning user's ID and scopes its query by it; a non-owner observes
// ErrNotFound, never another user's rows.
type Store interface {
	// contracts
	CreateContract(c domain.Contract) error
	GetContract(id, userID string) (domain.Contract, error)
	ListContracts(userID string) ([]domain.Contract, error)
	DeleteContract(id, userID string) error
	// ClaimAnalysis transitions the contract to analyzing via a
	// status-guarded conditional update. Concurrent claims on the same
	// contract are serialized at the database: exactly one wins, the rest
	// get ErrAnalysisInFlight.
	ClaimAnalysis(id, userID string) error
	SetAnalysisStatus(id string, status domain.AnalysisStatus, errMsg string) error
	// CompleteAnalysis writes the contract's derived metadata and replaces
	// its entire clause set in a single transaction.
	CompleteAnalysis(id string, result domain.AnalysisResult, clauses []domain.Clause) error

	// clauses
	ListClauses(contractID, userID string) ([]domain.Clause, error)
	GetClause(id, userID string) (domain.Clause, error)
	UpdateClause(id, userID string, update ClauseUpdate) error

	// templates
	ListTemplates() ([]domain.ContractTemplate, error)
	GetTemplate(id string) (domain.ContractTemplate, error)
	CreateUserTemplate(t domain.UserTemplate) error
	ListUserTemplates(userID string) ([]domain.UserTemplate, error)

	// glossary
	SearchGlossary(term string) ([]domain.GlossaryTerm, error)

	// audit trail (append-only: no update or delete exists)
	AppendAuditEntry(e domain.AuditEntry) error
	ListAuditEntries(userID, contractID string) ([]domain.AuditEntry, error)
}

// ClauseUpdate carries the editable clause fields. Nil pointers mean
// "leave unchanged"; concurrent edits apply last-write-wins.
type ClauseUpdate struct {
	PlainExplanation     *string
	RiskRationale        *string
	RiskScore            *int
	RiskLevel            *domain.RiskLevel
	Category             *domain.ClauseCategory
	SuggestedAlternative *string
	NegotiationScript    *string
	IsFlagged            *bool
}

// Validate checks updated enum and range fields against the closed sets.
func (u ClauseUpdate) Validate() error {
	if u.RiskScore != nil && (*u.RiskScore < 0 || *u.RiskScore > 100) {
		return errors.New("risk score must be within 0-100")
	}
	if u.RiskLevel != nil && !domain.ValidRiskLevel(*u.RiskLevel) {
		return errors.New("invalid risk level")
	}
	if u.Category != nil && !domain.ValidClauseCategory(*u.Category) {
		return errors.New("invalid clause category")
	}
	return nil
}
