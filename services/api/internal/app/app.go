package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"contractlens/pkg/domain"
	"contractlens/pkg/storage"
	"contractlens/pkg/store"
	"contractlens/pkg/template"
)

// Upload validation errors, surfaced as 400s at the server edge.
var (
	ErrFileRequired        = errors.New("file is required")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// allowedContentTypes lists the uploadable document MIME types.
var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

var extensionContentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	AnalyzerURL    string
	MaxUploadBytes int64
}

// RequestMeta carries per-request client attribution into the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// App wires contract storage, blob storage, and the analyzer client.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	analyzer       *analyzerClient
	maxUploadBytes int64
	presignExpiry  time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.AnalyzerURL == "" {
		return nil, fmt.Errorf("analyzer URL required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	return &App{
		store:          dataStore,
		objects:        objects,
		analyzer:       newAnalyzerClient(cfg.AnalyzerURL),
		maxUploadBytes: maxUploadBytes,
		presignExpiry:  15 * time.Minute,
	}, nil
}

// UploadContract validates, stores, and registers a new contract, then
// kicks off analysis in the background. The returned contract is still
// pending; clients poll or re-fetch for the completed analysis.
func (a *App) UploadContract(session domain.Session, filename, contentType string, r io.Reader, size int64, meta RequestMeta) (domain.Contract, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." {
		return domain.Contract{}, ErrFileRequired
	}
	if size <= 0 {
		return domain.Contract{}, ErrFileRequired
	}
	if size > a.maxUploadBytes {
		return domain.Contract{}, ErrFileTooLarge
	}
	resolvedType, ok := resolveContentType(filename, contentType)
	if !ok {
		return domain.Contract{}, ErrUnsupportedFileType
	}

	now := time.Now().UTC()
	contract := domain.Contract{
		ID:             store.NewID(),
		UserID:         session.UserID,
		FileName:       filename,
		FilePath:       buildStorageKey(session.UserID, filename, now),
		FileSize:       size,
		Language:       "en",
		AnalysisStatus: domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.objects.Put(context.Background(), contract.FilePath, r, size, resolvedType); err != nil {
		return domain.Contract{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.CreateContract(contract); err != nil {
		_ = a.objects.Delete(context.Background(), contract.FilePath)
		return domain.Contract{}, fmt.Errorf("save contract: %w", err)
	}
	a.appendAudit(session, contract.ID, domain.ActionUpload, map[string]any{
		"file_name": contract.FileName,
		"file_size": contract.FileSize,
	}, meta)

	go a.analyzeDetached(session, contract.ID, meta)

	return contract, nil
}

// AnalyzeContract triggers (re-)analysis and waits for the result.
func (a *App) AnalyzeContract(ctx context.Context, session domain.Session, contractID string, meta RequestMeta) (domain.AnalysisResult, error) {
	if _, err := a.store.GetContract(contractID, session.UserID); err != nil {
		return domain.AnalysisResult{}, err
	}
	result, err := a.analyzer.AnalyzeContract(ctx, session, contractID)
	if err != nil {
		if errors.Is(err, ErrAnalyzerUnavailable) {
			// The analyzer never saw the request, so nobody else will
			// resolve the status.
			if setErr := a.store.SetAnalysisStatus(contractID, domain.StatusFailed, err.Error()); setErr != nil {
				slog.Error("mark contract failed", "contract_id", contractID, "err", setErr)
			}
		}
		return domain.AnalysisResult{}, err
	}
	a.appendAudit(session, contractID, domain.ActionAnalyze, map[string]any{
		"result_summary":       result.ExecutiveSummary,
		"risk_level":           result.RiskLevel,
		"composite_risk_score": result.CompositeRiskScore,
		"clause_count":         len(result.Clauses),
	}, meta)
	return result, nil
}

// analyzeDetached runs upload-triggered analysis outside the request.
func (a *App) analyzeDetached(session domain.Session, contractID string, meta RequestMeta) {
	if _, err := a.AnalyzeContract(context.Background(), session, contractID, meta); err != nil {
		slog.Warn("background analysis failed", "contract_id", contractID, "err", err)
	}
}

// ListContracts returns the caller's contracts, newest first.
func (a *App) ListContracts(session domain.Session) ([]domain.Contract, error) {
	return a.store.ListContracts(session.UserID)
}

// GetContract returns one owned contract.
func (a *App) GetContract(session domain.Session, id string) (domain.Contract, error) {
	return a.store.GetContract(id, session.UserID)
}

// DeleteContract removes the contract row (clauses cascade) and its blob.
func (a *App) DeleteContract(session domain.Session, id string) error {
	contract, err := a.store.GetContract(id, session.UserID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteContract(id, session.UserID); err != nil {
		return err
	}
	if err := a.objects.Delete(context.Background(), contract.FilePath); err != nil {
		slog.Warn("delete contract blob", "contract_id", id, "err", err)
	}
	return nil
}

// GetDownloadURL returns a pre-signed URL and the original filename.
func (a *App) GetDownloadURL(session domain.Session, id string) (string, string, error) {
	contract, err := a.store.GetContract(id, session.UserID)
	if err != nil {
		return "", "", err
	}
	url, err := a.objects.PresignGet(context.Background(), contract.FilePath, a.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("presign download: %w", err)
	}
	return url, contract.FileName, nil
}

// ListClauses returns the contract's analyzed clauses in clause order.
func (a *App) ListClauses(session domain.Session, contractID string) ([]domain.Clause, error) {
	return a.store.ListClauses(contractID, session.UserID)
}

// UpdateClause applies a partial edit to an owned clause and records it.
func (a *App) UpdateClause(session domain.Session, clauseID string, update store.ClauseUpdate, meta RequestMeta) (domain.Clause, error) {
	if err := a.store.UpdateClause(clauseID, session.UserID, update); err != nil {
		return domain.Clause{}, err
	}
	clause, err := a.store.GetClause(clauseID, session.UserID)
	if err != nil {
		return domain.Clause{}, err
	}
	a.appendAudit(session, clause.ContractID, domain.ActionClauseEdited, map[string]any{
		"clause_id":     clause.ID,
		"clause_number": clause.ClauseNumber,
	}, meta)
	return clause, nil
}

// ExportReport bundles a contract with its clause analyses.
type ExportReport struct {
	Contract    domain.Contract `json:"contract"`
	Clauses     []domain.Clause `json:"clauses"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// ExportContract builds the JSON report and records the export.
func (a *App) ExportContract(session domain.Session, id string, meta RequestMeta) (ExportReport, error) {
	contract, err := a.store.GetContract(id, session.UserID)
	if err != nil {
		return ExportReport{}, err
	}
	clauses, err := a.store.ListClauses(id, session.UserID)
	if err != nil {
		return ExportReport{}, err
	}
	a.appendAudit(session, id, domain.ActionExport, map[string]any{
		"file_name":    contract.FileName,
		"clause_count": len(clauses),
	}, meta)
	return ExportReport{
		Contract:    contract,
		Clauses:     clauses,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// ListTemplates returns the public template library.
func (a *App) ListTemplates() ([]domain.ContractTemplate, error) {
	return a.store.ListTemplates()
}

// GetTemplate returns one template.
func (a *App) GetTemplate(id string) (domain.ContractTemplate, error) {
	return a.store.GetTemplate(id)
}

// InstantiateTemplate fills a template's placeholders with the provided
// values and stores the result as a user template. Placeholders without a
// value stay verbatim so the user can fill them by hand.
func (a *App) InstantiateTemplate(session domain.Session, templateID, name string, values map[string]string, meta RequestMeta) (domain.UserTemplate, error) {
	tmpl, err := a.store.GetTemplate(templateID)
	if err != nil {
		return domain.UserTemplate{}, err
	}
	values = template.Normalize(values)
	name = strings.TrimSpace(name)
	if name == "" {
		name = tmpl.Name
	}
	userTmpl := domain.UserTemplate{
		ID:              store.NewID(),
		UserID:          session.UserID,
		TemplateID:      tmpl.ID,
		Name:            name,
		Content:         template.Fill(tmpl.Content, values),
		VariablesFilled: values,
		CreatedAt:       time.Now().UTC(),
	}
	if err := a.store.CreateUserTemplate(userTmpl); err != nil {
		return domain.UserTemplate{}, fmt.Errorf("save user template: %w", err)
	}
	a.appendAudit(session, "", domain.ActionTemplateGenerated, map[string]any{
		"template_id":   tmpl.ID,
		"template_name": tmpl.Name,
		"unfilled":      template.Unfilled(tmpl.Content, values),
	}, meta)
	return userTmpl, nil
}

// ListUserTemplates returns the caller's filled templates, newest first.
func (a *App) ListUserTemplates(session domain.Session) ([]domain.UserTemplate, error) {
	return a.store.ListUserTemplates(session.UserID)
}

// SearchGlossary searches the bilingual glossary.
func (a *App) SearchGlossary(search string) ([]domain.GlossaryTerm, error) {
	return a.store.SearchGlossary(search)
}

// ListAuditEntries returns the caller's audit trail, optionally scoped to
// one contract, newest first.
func (a *App) ListAuditEntries(session domain.Session, contractID string) ([]domain.AuditEntry, error) {
	return a.store.ListAuditEntries(session.UserID, contractID)
}

// appendAudit records a user action. Audit writes never fail the request.
func (a *App) appendAudit(session domain.Session, contractID string, action domain.AuditAction, details map[string]any, meta RequestMeta) {
	entry := domain.AuditEntry{
		ID:            store.NewID(),
		UserID:        session.UserID,
		ContractID:    contractID,
		Action:        action,
		ActionDetails: details,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.store.AppendAuditEntry(entry); err != nil {
		slog.Error("append audit entry", "action", action, "err", err)
	}
}

// resolveContentType validates the declared MIME type, falling back to the
// file extension when the client sent none or something generic.
func resolveContentType(filename, declared string) (string, bool) {
	declared = strings.TrimSpace(declared)
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		if allowedContentTypes[mediaType] {
			return mediaType, true
		}
		if mediaType != "" && mediaType != "application/octet-stream" {
			return "", false
		}
	}
	if byExt, ok := extensionContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return byExt, true
	}
	return "", false
}

func buildStorageKey(userID, filename string, now time.Time) string {
	name := sanitizeFilename(filename)
	if name == "" {
		name = "contract"
	}
	return fmt.Sprintf("contracts/%s/%d_%s", userID, now.UnixMilli(), name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
