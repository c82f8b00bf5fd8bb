package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"contractlens/pkg/domain"
)

const migrateLockID int64 = 52415241

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrently starting services do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ContractModel{}, &ClauseModel{},
			&ContractTemplateModel{}, &UserTemplateModel{},
			&GlossaryTermModel{}, &AuditEntryModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM clauses c
				WHERE NOT EXISTS (SELECT 1 FROM contracts k WHERE k.id = c.contract_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'clauses'
					AND constraint_name = 'clauses_contract_id_fkey'
				) THEN
					ALTER TABLE clauses
					ADD CONSTRAINT clauses_contract_id_fkey
					FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure clause foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateContract inserts a new contract row.
func (s *GormStore) CreateContract(c domain.Contract) error {
	model := contractToModel(c)
	return s.db.Create(&model).Error
}

// GetContract retrieves a contract scoped to its owner.
func (s *GormStore) GetContract(id, userID string) (domain.Contract, error) {
	var model ContractModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Contract{}, ErrNotFound
		}
		return domain.Contract{}, err
	}
	return contractFromModel(model), nil
}

// ListContracts returns the user's contracts, newest first.
func (s *GormStore) ListContracts(userID string) ([]domain.Contract, error) {
	var models []ContractModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Contract, 0, len(models))
	for _, m := range models {
		res = append(res, contractFromModel(m))
	}
	return res, nil
}

// DeleteContract removes the contract row; clauses go with it via FK cascade.
func (s *GormStore) DeleteContract(id, userID string) error {
	tx := s.db.Delete(&ContractModel{}, "id = ? AND user_id = ?", id, userID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimAnalysis performs the status-guarded transition to analyzing.
// The WHERE clause is the lease: only one of several racing callers can
// move the row out of a non-analyzing status.
func (s *GormStore) ClaimAnalysis(id, userID string) error {
	tx := s.db.Model(&ContractModel{}).
		Where("id = ? AND user_id = ? AND analysis_status <> ?", id, userID, string(domain.StatusAnalyzing)).
		Updates(map[string]any{
			"analysis_status": string(domain.StatusAnalyzing),
			"error_message":   "",
			"updated_at":      time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		// Either the row does not exist for this user or another analysis
		// holds the lease; look once more to tell the caller which.
		var count int64
		if err := s.db.Model(&ContractModel{}).
			Where("id = ? AND user_id = ?", id, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrAnalysisInFlight
	}
	return nil
}

// SetAnalysisStatus updates contract status and error message.
func (s *GormStore) SetAnalysisStatus(id string, status domain.AnalysisStatus, errMsg string) error {
	return s.db.Model(&ContractModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"analysis_status": string(status),
			"error_message":   errMsg,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// CompleteAnalysis writes derived contract metadata and replaces the clause
// set in one transaction. A reader never sees a completed contract with a
// partially written clause list.
func (s *GormStore) CompleteAnalysis(id string, result domain.AnalysisResult, clauses []domain.Clause) error {
	parties, _ := json.Marshal(result.Parties)
	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ContractModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"contract_type":        string(result.ContractType),
				"parties":              parties,
				"jurisdiction":         result.Jurisdiction,
				"effective_date":       result.EffectiveDate,
				"expiry_date":          result.ExpiryDate,
				"composite_risk_score": result.CompositeRiskScore,
				"risk_level":           string(result.RiskLevel),
				"executive_summary":    result.ExecutiveSummary,
				"analysis_status":      string(domain.StatusCompleted),
				"error_message":        "",
				"analyzed_at":          now,
				"updated_at":           now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&ClauseModel{}, "contract_id = ?", id).Error; err != nil {
			return err
		}
		if len(clauses) == 0 {
			return nil
		}
		models := make([]ClauseModel, 0, len(clauses))
		for _, clause := range clauses {
			model := clauseToModel(clause)
			model.ContractID = id
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListClauses returns the clause set of an owned contract in clause order.
func (s *GormStore) ListClauses(contractID, userID string) ([]domain.Clause, error) {
	if _, err := s.GetContract(contractID, userID); err != nil {
		return nil, err
	}
	var models []ClauseModel
	if err := s.db.Where("contract_id = ?", contractID).
		Order("clause_number ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Clause, 0, len(models))
	for _, m := range models {
		res = append(res, clauseFromModel(m))
	}
	return res, nil
}

// GetClause returns a single clause after checking contract ownership.
func (s *GormStore) GetClause(id, userID string) (domain.Clause, error) {
	var model ClauseModel
	err := s.db.
		Joins("JOIN contracts ON contracts.id = clauses.contract_id").
		Where("clauses.id = ? AND contracts.user_id = ?", id, userID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Clause{}, ErrNotFound
		}
		return domain.Clause{}, err
	}
	return clauseFromModel(model), nil
}

// UpdateClause applies a partial edit to an owned clause (last-write-wins).
func (s *GormStore) UpdateClause(id, userID string, update ClauseUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	clause, err := s.GetClause(id, userID)
	if err != nil {
		return err
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if update.PlainExplanation != nil {
		updates["plain_explanation"] = *update.PlainExplanation
	}
	if update.RiskRationale != nil {
		updates["risk_rationale"] = *update.RiskRationale
	}
	if update.RiskScore != nil {
		updates["risk_score"] = *update.RiskScore
	}
	if update.RiskLevel != nil {
		updates["risk_level"] = string(*update.RiskLevel)
	}
	if update.Category != nil {
		updates["category"] = string(*update.Category)
	}
	if update.SuggestedAlternative != nil {
		updates["suggested_alternative"] = *update.SuggestedAlternative
	}
	if update.NegotiationScript != nil {
		updates["negotiation_script"] = *update.NegotiationScript
	}
	if update.IsFlagged != nil {
		updates["is_flagged"] = *update.IsFlagged
	}
	return s.db.Model(&ClauseModel{}).Where("id = ?", clause.ID).Updates(updates).Error
}

// ListTemplates returns public templates ordered by name.
func (s *GormStore) ListTemplates() ([]domain.ContractTemplate, error) {
	var models []ContractTemplateModel
	if err := s.db.Where("is_public = ?", true).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContractTemplate, 0, len(models))
	for _, m := range models {
		res = append(res, templateFromModel(m))
	}
	return res, nil
}

// GetTemplate retrieves one template by ID.
func (s *GormStore) GetTemplate(id string) (domain.ContractTemplate, error) {
	var model ContractTemplateModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ContractTemplate{}, ErrNotFound
		}
		return domain.ContractTemplate{}, err
	}
	return templateFromModel(model), nil
}

// CreateUserTemplate stores a filled template instantiation.
func (s *GormStore) CreateUserTemplate(t domain.UserTemplate) error {
	model := userTemplateToModel(t)
	return s.db.Create(&model).Error
}

// ListUserTemplates returns the user's filled templates, newest first.
func (s *GormStore) ListUserTemplates(userID string) ([]domain.UserTemplate, error) {
	var models []UserTemplateModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UserTemplate, 0, len(models))
	for _, m := range models {
		res = append(res, userTemplateFromModel(m))
	}
	return res, nil
}

// SearchGlossary returns glossary terms matching the search string in the
// term or English definition, ordered by term. Empty search returns all.
func (s *GormStore) SearchGlossary(term string) ([]domain.GlossaryTerm, error) {
	tx := s.db.Order("term ASC")
	term = strings.TrimSpace(term)
	if term != "" {
		pattern := "%" + term + "%"
		tx = tx.Where("term ILIKE ? OR definition_en ILIKE ?", pattern, pattern)
	}
	var models []GlossaryTermModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GlossaryTerm, 0, len(models))
	for _, m := range models {
		res = append(res, glossaryFromModel(m))
	}
	return res, nil
}

// AppendAuditEntry inserts an audit row. The store exposes no update or
// delete path for the audit trail.
func (s *GormStore) AppendAuditEntry(e domain.AuditEntry) error {
	model := auditToModel(e)
	return s.db.Create(&model).Error
}

// ListAuditEntries returns the user's audit trail newest first, optionally
// filtered to one contract.
func (s *GormStore) ListAuditEntries(userID, contractID string) ([]domain.AuditEntry, error) {
	tx := s.db.Where("user_id = ?", userID).Order("created_at DESC")
	if strings.TrimSpace(contractID) != "" {
		tx = tx.Where("contract_id = ?", contractID)
	}
	var models []AuditEntryModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		res = append(res, auditFromModel(m))
	}
	return res, nil
}

func contractToModel(c domain.Contract) ContractModel {
	parties, _ := json.Marshal(c.Parties)
	return ContractModel{
		ID:                 c.ID,
		UserID:             c.UserID,
		FileName:           c.FileName,
		FilePath:           c.FilePath,
		FileSize:           c.FileSize,
		Language:           c.Language,
		ContractType:       string(c.ContractType),
		Parties:            parties,
		EffectiveDate:      c.EffectiveDate,
		ExpiryDate:         c.ExpiryDate,
		Jurisdiction:       c.Jurisdiction,
		CompositeRiskScore: c.CompositeRiskScore,
		RiskLevel:          string(c.RiskLevel),
		ExecutiveSummary:   c.ExecutiveSummary,
		AnalysisStatus:     string(c.AnalysisStatus),
		ErrorMessage:       c.ErrorMessage,
		AnalyzedAt:         c.AnalyzedAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func contractFromModel(m ContractModel) domain.Contract {
	var parties []domain.Party
	if len(m.Parties) > 0 {
		_ = json.Unmarshal(m.Parties, &parties)
	}
	return domain.Contract{
		ID:                 m.ID,
		UserID:             m.UserID,
		FileName:           m.FileName,
		FilePath:           m.FilePath,
		FileSize:           m.FileSize,
		Language:           m.Language,
		ContractType:       domain.ContractType(m.ContractType),
		Parties:            parties,
		EffectiveDate:      m.EffectiveDate,
		ExpiryDate:         m.ExpiryDate,
		Jurisdiction:       m.Jurisdiction,
		CompositeRiskScore: m.CompositeRiskScore,
		RiskLevel:          domain.RiskLevel(m.RiskLevel),
		ExecutiveSummary:   m.ExecutiveSummary,
		AnalysisStatus:     domain.AnalysisStatus(m.AnalysisStatus),
		ErrorMessage:       m.ErrorMessage,
		AnalyzedAt:         m.AnalyzedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func clauseToModel(c domain.Clause) ClauseModel {
	flags, _ := json.Marshal(c.ComplianceFlags)
	return ClauseModel{
		ID:                   c.ID,
		ContractID:           c.ContractID,
		ClauseNumber:         c.ClauseNumber,
		OriginalText:         c.OriginalText,
		PlainExplanation:     c.PlainExplanation,
		RiskRationale:        c.RiskRationale,
		RiskScore:            c.RiskScore,
		RiskLevel:            string(c.RiskLevel),
		Category:             string(c.Category),
		SuggestedAlternative: c.SuggestedAlternative,
		NegotiationScript:    c.NegotiationScript,
		ComplianceFlags:      flags,
		SimilarityScore:      c.SimilarityScore,
		IsFlagged:            c.IsFlagged,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func clauseFromModel(m ClauseModel) domain.Clause {
	var flags []domain.ComplianceFlag
	if len(m.ComplianceFlags) > 0 {
		_ = json.Unmarshal(m.ComplianceFlags, &flags)
	}
	return domain.Clause{
		ID:                   m.ID,
		ContractID:           m.ContractID,
		ClauseNumber:         m.ClauseNumber,
		OriginalText:         m.OriginalText,
		PlainExplanation:     m.PlainExplanation,
		RiskRationale:        m.RiskRationale,
		RiskScore:            m.RiskScore,
		RiskLevel:            domain.RiskLevel(m.RiskLevel),
		Category:             domain.ClauseCategory(m.Category),
		SuggestedAlternative: m.SuggestedAlternative,
		NegotiationScript:    m.NegotiationScript,
		ComplianceFlags:      flags,
		SimilarityScore:      m.SimilarityScore,
		IsFlagged:            m.IsFlagged,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func templateFromModel(m ContractTemplateModel) domain.ContractTemplate {
	var variables []domain.TemplateVariable
	if len(m.Variables) > 0 {
		_ = json.Unmarshal(m.Variables, &variables)
	}
	return domain.ContractTemplate{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		ContractType: domain.ContractType(m.ContractType),
		Content:      m.Content,
		Variables:    variables,
		RiskPosture:  m.RiskPosture,
		IsPublic:     m.IsPublic,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func userTemplateToModel(t domain.UserTemplate) UserTemplateModel {
	filled, _ := json.Marshal(t.VariablesFilled)
	return UserTemplateModel{
		ID:              t.ID,
		UserID:          t.UserID,
		TemplateID:      t.TemplateID,
		Name:            t.Name,
		Content:         t.Content,
		VariablesFilled: filled,
		CreatedAt:       t.CreatedAt,
	}
}

func userTemplateFromModel(m UserTemplateModel) domain.UserTemplate {
	var filled map[string]string
	if len(m.VariablesFilled) > 0 {
		_ = json.Unmarshal(m.VariablesFilled, &filled)
	}
	return domain.UserTemplate{
		ID:              m.ID,
		UserID:          m.UserID,
		TemplateID:      m.TemplateID,
		Name:            m.Name,
		Content:         m.Content,
		VariablesFilled: filled,
		CreatedAt:       m.CreatedAt,
	}
}

func glossaryFromModel(m GlossaryTermModel) domain.GlossaryTerm {
	return domain.GlossaryTerm{
		ID:           m.ID,
		Term:         m.Term,
		DefinitionEN: m.DefinitionEN,
		DefinitionHI: m.DefinitionHI,
		ExampleUsage: m.ExampleUsage,
		Category:     m.Category,
		CreatedAt:    m.CreatedAt,
	}
}

func auditToModel(e domain.AuditEntry) AuditEntryModel {
	details, _ := json.Marshal(e.ActionDetails)
	return AuditEntryModel{
		ID:            e.ID,
		UserID:        e.UserID,
		ContractID:    e.ContractID,
		Action:        string(e.Action),
		ActionDetails: details,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		CreatedAt:     e.CreatedAt,
	}
}

func auditFromModel(m AuditEntryModel) domain.AuditEntry {
	var details map[string]any
	if len(m.ActionDetails) > 0 {
		_ = json.Unmarshal(m.ActionDetails, &details)
	}
	if details == nil {
		details = map[string]any{}
	}
	return domain.AuditEntry{
		ID:            m.ID,
		UserID:        m.UserID,
		ContractID:    m.ContractID,
		Action:        domain.AuditAction(m.Action),
		ActionDetails: details,
		IPAddress:     m.IPAddress,
		UserAgent:     m.UserAgent,
		CreatedAt:     m.CreatedAt,
	}
}
