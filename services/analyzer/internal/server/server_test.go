package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"contractlens/internal/usertoken"
	"contractlens/pkg/domain"
	"contractlens/pkg/store"
	"contractlens/services/analyzer/internal/app"
)

type fakeObjects struct {
	files map[string][]byte
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
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.files, key)
	return nil
}

type fakeGenerator struct {
	reply string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.reply, nil
}

const validReply = `{
  "contract_type": "vendor_contract",
  "parties": [{"name": "Supplier Ltd", "role": "vendor"}],
  "jurisdiction": "Delhi, India",
  "composite_risk_score": 40,
  "risk_level": "medium",
  "executive_summary": "A standard vendor contract with a broad termination clause.",
  "clauses": [
    {
      "clause_number": 1,
      "original_text": "Either party may terminate with 7 days notice.",
      "plain_explanation": "Short notice period for ending the deal.",
      "risk_rationale": "Seven days gives little time to find a replacement vendor.",
      "risk_score": 45,
      "risk_level": "medium",
      "category": "termination",
      "compliance_flags": []
    }
  ]
}`

type testEnv struct {
	server  *httptest.Server
	store   *store.MemoryStore
	objects *fakeObjects
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   "issuer-a",
		Audience: "aud-a",
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	st := store.NewMemoryStore()
	objects := &fakeObjects{files: map[string][]byte{}}
	a, err := app.New(app.Config{
		Store:     st,
		Objects:   objects,
		Generator: &fakeGenerator{reply: validReply},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a, TokenVerifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return &testEnv{server: ts, store: st, objects: objects, token: signed}
}

func (e *testEnv) seedContract(t *testing.T, userID string) domain.Contract {
	t.Helper()
	now := time.Now().UTC()
	c := domain.Contract{
		ID:             store.NewID(),
		UserID:         userID,
		FileName:       "nda.txt",
		FilePath:       fmt.Sprintf("contracts/%s/%d_nda.txt", userID, now.UnixMilli()),
		FileSize:       64,
		Language:       "en",
		AnalysisStatus: domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateContract(c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	e.objects.files[c.FilePath] = []byte("NON-DISCLOSURE AGREEMENT ...")
	return c
}

func (e *testEnv) analyze(t *testing.T, token, contractID string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"contractId": contractID})
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/analyze-contract", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestAnalyzeContractEndpoint(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedContract(t, "user-1")

	resp := env.analyze(t, env.token, c.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// The body is the analysis object itself, not a wrapper.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := top["success"]; ok {
		t.Fatal("response wrapped in an envelope")
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if result.ContractType != domain.TypeVendorContract {
		t.Fatalf("contract type = %q", result.ContractType)
	}
	got, err := env.store.GetContract(c.ID, "user-1")
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got.AnalysisStatus != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.AnalysisStatus)
	}
}

func TestAnalyzeContractRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedContract(t, "user-1")

	resp := env.analyze(t, "", c.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Code != "AUTH_INVALID_TOKEN" {
		t.Fatalf("code = %q", payload.Code)
	}
}

func TestAnalyzeContractRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedContract(t, "user-1")

	resp := env.analyze(t, "not-a-jwt", c.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAnalyzeContractUnknownID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.analyze(t, env.token, "does-not-exist")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Code != "CONTRACT_NOT_FOUND" {
		t.Fatalf("code = %q", payload.Code)
	}
}

func TestAnalyzeContractConflictWhileAnalyzing(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedContract(t, "user-1")
	if err := env.store.ClaimAnalysis(c.ID, "user-1"); err != nil {
		t.Fatalf("ClaimAnalysis: %v", err)
	}

	resp := env.analyze(t, env.token, c.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Code != "ANALYSIS_IN_PROGRESS" {
		t.Fatalf("code = %q", payload.Code)
	}
	if !strings.Contains(payload.Error, "in progress") {
		t.Fatalf("error = %q", payload.Error)
	}
}

func TestAnalyzeContractRequiresContractID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.analyze(t, env.token, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
