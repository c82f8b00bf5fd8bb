package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contractlens/pkg/ai"
	"contractlens/pkg/domain"
	"contractlens/pkg/storage"
	"contractlens/pkg/store"
)

// Sentinel errors mapped to HTTP statuses at the server edge.
var (
	ErrContractNotFound  = errors.New("contract not found")
	ErrAnalysisInFlight  = errors.New("analysis already in progress")
	ErrAnalysisFailed    = errors.New("analysis failed")
	errDownloadFailed    = errors.New("failed to download contract file")
	errModelParseFailure = errors.New("failed to parse model response")
)

// Config holds runtime configuration for the analyzer core.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	Generator      ai.TextGenerator
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MaxPromptChars int
}

// App turns raw contract bytes into structured risk data using the
// configured language model, then persists the result.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	generator      ai.TextGenerator
	maxPromptChars int
}

// New constructs the analyzer application.
func New(cfg Config) (*App, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
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
	maxPromptChars := cfg.MaxPromptChars
	if maxPromptChars <= 0 {
		maxPromptChars = 15000
	}
	return &App{
		store:          dataStore,
		objects:        objects,
		generator:      cfg.Generator,
		maxPromptChars: maxPromptChars,
	}, nil
}

// Analyze runs the full pipeline for one contract owned by the session
// user: claim the analysis lease, download the file, prompt the model,
// validate the structured reply, and persist metadata plus the replaced
// clause set in one transaction. Any terminal failure after the lease is
// claimed moves the contract to failed.
func (a *App) Analyze(ctx context.Context, session domain.Session, contractID string) (domain.AnalysisResult, error) {
	contract, err := a.store.GetContract(contractID, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AnalysisResult{}, ErrContractNotFound
		}
		return domain.AnalysisResult{}, err
	}

	if err := a.store.ClaimAnalysis(contractID, session.UserID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.AnalysisResult{}, ErrContractNotFound
		case errors.Is(err, store.ErrAnalysisInFlight):
			return domain.AnalysisResult{}, ErrAnalysisInFlight
		default:
			return domain.AnalysisResult{}, err
		}
	}

	result, err := a.run(ctx, contract)
	if err != nil {
		if setErr := a.store.SetAnalysisStatus(contractID, domain.StatusFailed, err.Error()); setErr != nil {
			slog.Error("mark contract failed", "contract_id", contractID, "err", setErr)
		}
		slog.Warn("contract analysis failed", "contract_id", contractID, "err", err)
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	slog.Info("contract analysis completed",
		"contract_id", contractID,
		"clauses", len(result.Clauses),
		"risk_level", result.RiskLevel,
	)
	return result, nil
}

func (a *App) run(ctx context.Context, contract domain.Contract) (domain.AnalysisResult, error) {
	data, err := a.objects.Get(ctx, contract.FilePath)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", errDownloadFailed, err)
	}
	// The file body is read as raw text; format-specific extraction is
	// handled upstream or not at all.
	contractText := truncate(string(data), a.maxPromptChars)

	reply, err := a.generator.GenerateText(ctx, systemPrompt, userPrompt(contractText))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("ai analysis failed: %w", err)
	}

	raw, err := ai.ExtractJSONObject(reply)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", errModelParseFailure, err)
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", errModelParseFailure, err)
	}
	if err := validateAnalysis(&result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("model response rejected: %w", err)
	}

	now := time.Now().UTC()
	clauses := make([]domain.Clause, 0, len(result.Clauses))
	for _, c := range result.Clauses {
		clauses = append(clauses, domain.Clause{
			ID:                   store.NewID(),
			ContractID:           contract.ID,
			ClauseNumber:         c.ClauseNumber,
			OriginalText:         c.OriginalText,
			PlainExplanation:     c.PlainExplanation,
			RiskRationale:        c.RiskRationale,
			RiskScore:            c.RiskScore,
			RiskLevel:            c.RiskLevel,
			Category:             c.Category,
			SuggestedAlternative: c.SuggestedAlternative,
			NegotiationScript:    c.NegotiationScript,
			ComplianceFlags:      c.ComplianceFlags,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}
	if err := a.store.CompleteAnalysis(contract.ID, result, clauses); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("persist analysis: %w", err)
	}
	return result, nil
}
