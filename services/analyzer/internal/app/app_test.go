package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"contractlens/pkg/domain"
	"contractlens/pkg/store"
)

type fakeObjects struct {
	files map[string][]byte
	err   error
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.files[key] = data
	return nil
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	return errors.New("not implemented")
}

type fakeGenerator struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

const validReply = `Here is the analysis:
` + "```json" + `
{
  "contract_type": "service_contract",
  "parties": [{"name": "Acme Services", "role": "provider"}, {"name": "Widget Co", "role": "client"}],
  "jurisdiction": "Karnataka, India",
  "effective_date": "2026-01-01",
  "composite_risk_score": 62,
  "risk_level": "high",
  "executive_summary": "A one-sided service contract. Indemnity and auto-renewal terms favour the provider. Payment terms are standard.",
  "clauses": [
    {
      "clause_number": 7,
      "original_text": "The Client shall indemnify the Provider against all claims.",
      "plain_explanation": "You cover all their legal costs, even for their mistakes.",
      "risk_rationale": "Unlimited one-way indemnity.",
      "risk_score": 85,
      "risk_level": "critical",
      "category": "indemnity",
      "suggested_alternative": "Mutual indemnity capped at fees paid.",
      "negotiation_script": "Ask for a mutual, capped indemnity clause.",
      "compliance_flags": [{"issue": "Potentially unconscionable under Indian Contract Act", "law_reference": "Indian Contract Act, 1872", "severity": "high"}]
    },
    {
      "clause_number": 9,
      "original_text": "Payment is due within 30 days of invoice.",
      "plain_explanation": "Standard month-long payment window.",
      "risk_rationale": "Common commercial term.",
      "risk_score": 10,
      "risk_level": "low",
      "category": "payment",
      "compliance_flags": []
    }
  ]
}
` + "```"

func newTestApp(t *testing.T, gen *fakeGenerator, maxChars int) (*App, *store.MemoryStore, *fakeObjects) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := &fakeObjects{files: map[string][]byte{}}
	app, err := New(Config{
		Store:          st,
		Objects:        objects,
		Generator:      gen,
		MaxPromptChars: maxChars,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return app, st, objects
}

func seedContract(t *testing.T, st *store.MemoryStore, objects *fakeObjects, userID, text string) domain.Contract {
	t.Helper()
	now := time.Now().UTC()
	c := domain.Contract{
		ID:             store.NewID(),
		UserID:         userID,
		FileName:       "msa.txt",
		FilePath:       fmt.Sprintf("contracts/%s/%d_msa.txt", userID, now.UnixMilli()),
		FileSize:       int64(len(text)),
		Language:       "en",
		AnalysisStatus: domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := st.CreateContract(c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	objects.files[c.FilePath] = []byte(text)
	return c
}

func TestAnalyzeSuccess(t *testing.T) {
	gen := &fakeGenerator{reply: validReply}
	app, st, objects := newTestApp(t, gen, 0)
	c := seedContract(t, st, objects, "user-1", "MASTER SERVICE AGREEMENT ...")
	session := domain.Session{UserID: "user-1", Token: "tok"}

	result, err := app.Analyze(context.Background(), session, c.ID)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.ContractType != domain.TypeServiceContract {
		t.Fatalf("contract type = %q, want service_contract", result.ContractType)
	}
	if result.CompositeRiskScore != 62 || result.RiskLevel != domain.RiskHigh {
		t.Fatalf("risk = %d/%s, want 62/high", result.CompositeRiskScore, result.RiskLevel)
	}

	got, err := st.GetContract(c.ID, "user-1")
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got.AnalysisStatus != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.AnalysisStatus)
	}
	if got.AnalyzedAt == nil {
		t.Fatal("analyzedAt not set")
	}
	if got.Jurisdiction != "Karnataka, India" {
		t.Fatalf("jurisdiction = %q", got.Jurisdiction)
	}
	if len(got.Parties) != 2 {
		t.Fatalf("parties = %d, want 2", len(got.Parties))
	}

	clauses, err := st.ListClauses(c.ID, "user-1")
	if err != nil {
		t.Fatalf("ListClauses: %v", err)
	}
	if len(clauses) != 2 {
		t.Fatalf("clauses = %d, want 2", len(clauses))
	}
	// Model clause numbers (7, 9) are renumbered to position order.
	if clauses[0].ClauseNumber != 1 || clauses[1].ClauseNumber != 2 {
		t.Fatalf("clause numbers = %d,%d, want 1,2", clauses[0].ClauseNumber, clauses[1].ClauseNumber)
	}
	if clauses[0].Category != domain.CategoryIndemnity {
		t.Fatalf("first clause category = %q", clauses[0].Category)
	}
	if len(clauses[0].ComplianceFlags) != 1 || clauses[0].ComplianceFlags[0].Severity != domain.RiskHigh {
		t.Fatalf("compliance flags = %+v", clauses[0].ComplianceFlags)
	}
}

func TestAnalyzeReplacesPreviousClauses(t *testing.T) {
	gen := &fakeGenerator{reply: validReply}
	app, st, objects := newTestApp(t, gen, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")
	session := domain.Session{UserID: "user-1", Token: "tok"}

	if _, err := app.Analyze(context.Background(), session, c.ID); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	first, _ := st.ListClauses(c.ID, "user-1")
	if _, err := app.Analyze(context.Background(), session, c.ID); err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	second, err := st.ListClauses(c.ID, "user-1")
	if err != nil {
		t.Fatalf("ListClauses: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("clauses after re-analysis = %d, want 2", len(second))
	}
	if second[0].ID == first[0].ID {
		t.Fatal("re-analysis kept old clause rows")
	}
}

func TestAnalyzeUnknownContract(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeGenerator{reply: validReply}, 0)
	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, "missing")
	if !errors.Is(err, ErrContractNotFound) {
		t.Fatalf("err = %v, want ErrContractNotFound", err)
	}
}

func TestAnalyzeOtherUsersContract(t *testing.T) {
	app, st, objects := newTestApp(t, &fakeGenerator{reply: validReply}, 0)
	c := seedContract(t, st, objects, "owner", "contract text")

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "intruder"}, c.ID)
	if !errors.Is(err, ErrContractNotFound) {
		t.Fatalf("err = %v, want ErrContractNotFound", err)
	}
	got, _ := st.GetContract(c.ID, "owner")
	if got.AnalysisStatus != domain.StatusPending {
		t.Fatalf("status changed to %q by foreign caller", got.AnalysisStatus)
	}
}

func TestAnalyzeAlreadyInFlight(t *testing.T) {
	app, st, objects := newTestApp(t, &fakeGenerator{reply: validReply}, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")
	if err := st.ClaimAnalysis(c.ID, "user-1"); err != nil {
		t.Fatalf("ClaimAnalysis: %v", err)
	}

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID)
	if !errors.Is(err, ErrAnalysisInFlight) {
		t.Fatalf("err = %v, want ErrAnalysisInFlight", err)
	}
}

func TestAnalyzeModelReturnsGarbage(t *testing.T) {
	gen := &fakeGenerator{reply: "I could not analyze this document, sorry."}
	app, st, objects := newTestApp(t, gen, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	got, _ := st.GetContract(c.ID, "user-1")
	if got.AnalysisStatus != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.AnalysisStatus)
	}
	if got.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestAnalyzeRejectsInvalidEnum(t *testing.T) {
	reply := strings.Replace(validReply, `"contract_type": "service_contract"`, `"contract_type": "handshake_deal"`, 1)
	app, st, objects := newTestApp(t, &fakeGenerator{reply: reply}, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	got, _ := st.GetContract(c.ID, "user-1")
	if got.AnalysisStatus != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.AnalysisStatus)
	}
	clauses, _ := st.ListClauses(c.ID, "user-1")
	if len(clauses) != 0 {
		t.Fatalf("rejected analysis still wrote %d clauses", len(clauses))
	}
}

func TestAnalyzeRejectsOutOfRangeScore(t *testing.T) {
	reply := strings.Replace(validReply, `"composite_risk_score": 62`, `"composite_risk_score": 420`, 1)
	app, st, objects := newTestApp(t, &fakeGenerator{reply: reply}, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestAnalyzeDownloadFailure(t *testing.T) {
	app, st, objects := newTestApp(t, &fakeGenerator{reply: validReply}, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")
	objects.err = errors.New("connection refused")

	_, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	got, _ := st.GetContract(c.ID, "user-1")
	if got.AnalysisStatus != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.AnalysisStatus)
	}
}

func TestAnalyzeTruncatesLongDocuments(t *testing.T) {
	gen := &fakeGenerator{reply: validReply}
	app, st, objects := newTestApp(t, gen, 100)
	long := strings.Repeat("x", 5000)
	c := seedContract(t, st, objects, "user-1", long)

	if _, err := app.Analyze(context.Background(), domain.Session{UserID: "user-1"}, c.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := userPrompt(long[:100])
	if gen.lastUser != want {
		t.Fatalf("prompt length = %d, want truncated to %d document chars", len(gen.lastUser), 100)
	}
	if gen.lastSystem != systemPrompt {
		t.Fatal("system prompt not passed through")
	}
}

func TestAnalyzeFailureAllowsRetry(t *testing.T) {
	gen := &fakeGenerator{reply: "not json"}
	app, st, objects := newTestApp(t, gen, 0)
	c := seedContract(t, st, objects, "user-1", "contract text")
	session := domain.Session{UserID: "user-1"}

	if _, err := app.Analyze(context.Background(), session, c.ID); !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("first attempt err = %v, want ErrAnalysisFailed", err)
	}
	gen.reply = validReply
	if _, err := app.Analyze(context.Background(), session, c.ID); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	got, _ := st.GetContract(c.ID, "user-1")
	if got.AnalysisStatus != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.AnalysisStatus)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("stale error message %q after successful retry", got.ErrorMessage)
	}
}
