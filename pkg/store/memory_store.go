package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"contractlens/pkg/domain"
)

// MemoryStore keeps all rows in-process. It backs tests and local runs
// without Postgres, and mirrors the GormStore's ownership and lease
// semantics exactly.
type MemoryStore struct {
	mu            sync.RWMutex
	contracts     map[string]domain.Contract
	clauses       map[string]domain.Clause // key: clause ID
	templates     map[string]domain.ContractTemplate
	userTemplates map[string]domain.UserTemplate
	glossary      []domain.GlossaryTerm
	audit         []domain.AuditEntry
	order         []string // contract insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts:     make(map[string]domain.Contract),
		clauses:       make(map[string]domain.Clause),
		templates:     make(map[string]domain.ContractTemplate),
		userTemplates: make(map[string]domain.UserTemplate),
	}
}

// SeedTemplate inserts a contract template (administrative path; the API
// itself never writes templates).
func (m *MemoryStore) SeedTemplate(t domain.ContractTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

// SeedGlossaryTerm inserts a glossary row.
func (m *MemoryStore) SeedGlossaryTerm(t domain.GlossaryTerm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.glossary = append(m.glossary, t)
}

func (m *MemoryStore) CreateContract(c domain.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contracts[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.contracts[c.ID] = c
	return nil
}

func (m *MemoryStore) GetContract(id, userID string) (domain.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok || c.UserID != userID {
		return domain.Contract{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListContracts(userID string) ([]domain.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Contract, 0)
	for _, id := range m.order {
		if c, ok := m.contracts[id]; ok && c.UserID == userID {
			res = append(res, c)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) DeleteContract(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(m.contracts, id)
	for clauseID, clause := range m.clauses {
		if clause.ContractID == id {
			delete(m.clauses, clauseID)
		}
	}
	return nil
}

func (m *MemoryStore) ClaimAnalysis(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	if c.AnalysisStatus == domain.StatusAnalyzing {
		return ErrAnalysisInFlight
	}
	c.AnalysisStatus = domain.StatusAnalyzing
	c.ErrorMessage = ""
	c.UpdatedAt = time.Now().UTC()
	m.contracts[id] = c
	return nil
}

func (m *MemoryStore) SetAnalysisStatus(id string, status domain.AnalysisStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil
	}
	c.AnalysisStatus = status
	c.ErrorMessage = errMsg
	c.UpdatedAt = time.Now().UTC()
	m.contracts[id] = c
	return nil
}

func (m *MemoryStore) CompleteAnalysis(id string, result domain.AnalysisResult, clauses []domain.Clause) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.ContractType = result.ContractType
	c.Parties = result.Parties
	c.Jurisdiction = result.Jurisdiction
	c.EffectiveDate = result.EffectiveDate
	c.ExpiryDate = result.ExpiryDate
	c.CompositeRiskScore = result.CompositeRiskScore
	c.RiskLevel = result.RiskLevel
	c.ExecutiveSummary = result.ExecutiveSummary
	c.AnalysisStatus = domain.StatusCompleted
	c.ErrorMessage = ""
	c.AnalyzedAt = &now
	c.UpdatedAt = now
	m.contracts[id] = c
	for clauseID, clause := range m.clauses {
		if clause.ContractID == id {
			delete(m.clauses, clauseID)
		}
	}
	for _, clause := range clauses {
		clause.ContractID = id
		m.clauses[clause.ID] = clause
	}
	return nil
}

func (m *MemoryStore) ListClauses(contractID, userID string) ([]domain.Clause, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[contractID]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	res := make([]domain.Clause, 0)
	for _, clause := range m.clauses {
		if clause.ContractID == contractID {
			res = append(res, clause)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ClauseNumber < res[j].ClauseNumber
	})
	return res, nil
}

func (m *MemoryStore) GetClause(id, userID string) (domain.Clause, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clause, ok := m.clauses[id]
	if !ok {
		return domain.Clause{}, ErrNotFound
	}
	owner, ok := m.contracts[clause.ContractID]
	if !ok || owner.UserID != userID {
		return domain.Clause{}, ErrNotFound
	}
	return clause, nil
}

func (m *MemoryStore) UpdateClause(id, userID string, update ClauseUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	clause, err := m.GetClause(id, userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if update.PlainExplanation != nil {
		clause.PlainExplanation = *update.PlainExplanation
	}
	if update.RiskRationale != nil {
		clause.RiskRationale = *update.RiskRationale
	}
	if update.RiskScore != nil {
		clause.RiskScore = *update.RiskScore
	}
	if update.RiskLevel != nil {
		clause.RiskLevel = *update.RiskLevel
	}
	if update.Category != nil {
		clause.Category = *update.Category
	}
	if update.SuggestedAlternative != nil {
		clause.SuggestedAlternative = *update.SuggestedAlternative
	}
	if update.NegotiationScript != nil {
		clause.NegotiationScript = *update.NegotiationScript
	}
	if update.IsFlagged != nil {
		clause.IsFlagged = *update.IsFlagged
	}
	clause.UpdatedAt = time.Now().UTC()
	m.clauses[id] = clause
	return nil
}

func (m *MemoryStore) ListTemplates() ([]domain.ContractTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContractTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		if t.IsPublic {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) GetTemplate(id string) (domain.ContractTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return domain.ContractTemplate{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) CreateUserTemplate(t domain.UserTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userTemplates[t.ID] = t
	return nil
}

func (m *MemoryStore) ListUserTemplates(userID string) ([]domain.UserTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.UserTemplate, 0)
	for _, t := range m.userTemplates {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) SearchGlossary(term string) ([]domain.GlossaryTerm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	term = strings.ToLower(strings.TrimSpace(term))
	res := make([]domain.GlossaryTerm, 0)
	for _, t := range m.glossary {
		if term == "" ||
			strings.Contains(strings.ToLower(t.Term), term) ||
			strings.Contains(strings.ToLower(t.DefinitionEN), term) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Term < res[j].Term })
	return res, nil
}

func (m *MemoryStore) AppendAuditEntry(e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) ListAuditEntries(userID, contractID string) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.AuditEntry, 0)
	for _, e := range m.audit {
		if e.UserID != userID {
			continue
		}
		if contractID != "" && e.ContractID != contractID {
			continue
		}
		res = append(res, e)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}
