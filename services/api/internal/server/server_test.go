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
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"contractlens/internal/ratelimit"
	"contractlens/internal/usertoken"
	"contractlens/pkg/domain"
	"contractlens/pkg/store"
	"contractlens/services/api/internal/app"
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
	return "https://blobs.example.invalid/" + key, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.files, key)
	return nil
}

type testEnv struct {
	server  *httptest.Server
	store   *store.MemoryStore
	objects *fakeObjects
	token   string
}

type envOptions struct {
	uploadLimiter   *ratelimit.FixedWindowLimiter
	analyzerHandler http.HandlerFunc
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
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

	analyzerHandler := opts.analyzerHandler
	if analyzerHandler == nil {
		analyzerHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(domain.AnalysisResult{
				ContractType:     domain.TypeOther,
				RiskLevel:        domain.RiskLow,
				ExecutiveSummary: "fine",
			})
		}
	}
	analyzer := httptest.NewServer(analyzerHandler)
	t.Cleanup(analyzer.Close)

	st := store.NewMemoryStore()
	objects := &fakeObjects{files: map[string][]byte{}}
	a, err := app.New(app.Config{
		Store:       st,
		Objects:     objects,
		AnalyzerURL: analyzer.URL,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{
		App:           a,
		TokenVerifier: verifier,
		UploadLimiter: opts.uploadLimiter,
	})
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

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func multipartFile(t *testing.T, filename, contentType, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, resp *http.Response) (string, string) {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error, payload.Code
}

func TestUploadAndFetchContract(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	body, contentType := multipartFile(t, "nda.txt", "text/plain", "NON-DISCLOSURE AGREEMENT ...")
	resp := env.do(t, http.MethodPost, "/contracts", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var contract domain.Contract
	if err := json.NewDecoder(resp.Body).Decode(&contract); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if contract.AnalysisStatus != domain.StatusPending {
		t.Fatalf("status = %q, want pending", contract.AnalysisStatus)
	}

	listResp := env.do(t, http.MethodGet, "/contracts", nil, "")
	defer listResp.Body.Close()
	var list struct {
		Items []domain.Contract `json:"items"`
		Count int               `json:"count"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Items[0].ID != contract.ID {
		t.Fatalf("list = %+v", list)
	}

	oneResp := env.do(t, http.MethodGet, "/contracts/"+contract.ID, nil, "")
	defer oneResp.Body.Close()
	if oneResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", oneResp.StatusCode)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	body, contentType := multipartFile(t, "tool.exe", "application/x-msdownload", "MZ")
	resp := env.do(t, http.MethodPost, "/contracts", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if _, code := decodeError(t, resp); code != "CONTRACT_UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("code = %q", code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, err := http.Get(env.server.URL + "/contracts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if _, code := decodeError(t, resp); code != "AUTH_INVALID_TOKEN" {
		t.Fatalf("code = %q", code)
	}
}

func seedAnalyzedContract(t *testing.T, env *testEnv, userID string) (domain.Contract, domain.Clause) {
	t.Helper()
	now := time.Now().UTC()
	c := domain.Contract{
		ID:             store.NewID(),
		UserID:         userID,
		FileName:       "msa.txt",
		FilePath:       fmt.Sprintf("contracts/%s/%d_msa.txt", userID, now.UnixMilli()),
		FileSize:       20,
		Language:       "en",
		AnalysisStatus: domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.store.CreateContract(c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	env.objects.files[c.FilePath] = []byte("MSA text")
	clause := domain.Clause{
		ID:           store.NewID(),
		ContractID:   c.ID,
		ClauseNumber: 1,
		OriginalText: "original",
		RiskScore:    50,
		RiskLevel:    domain.RiskMedium,
		Category:     domain.CategoryLiability,
	}
	if err := env.store.CompleteAnalysis(c.ID, domain.AnalysisResult{
		ContractType:     domain.TypeServiceContract,
		RiskLevel:        domain.RiskMedium,
		ExecutiveSummary: "summary",
	}, []domain.Clause{clause}); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	return c, clause
}

func TestPatchClause(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, clause := seedAnalyzedContract(t, env, "user-1")

	body := strings.NewReader(`{"isFlagged": true, "riskScore": 90, "riskLevel": "critical"}`)
	resp := env.do(t, http.MethodPatch, "/clauses/"+clause.ID, body, "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var updated domain.Clause
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !updated.IsFlagged || updated.RiskScore != 90 || updated.RiskLevel != domain.RiskCritical {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestPatchClauseRejectsInvalidRiskLevel(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, clause := seedAnalyzedContract(t, env, "user-1")

	body := strings.NewReader(`{"riskLevel": "catastrophic"}`)
	resp := env.do(t, http.MethodPatch, "/clauses/"+clause.ID, body, "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPatchClauseNotOwned(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, clause := seedAnalyzedContract(t, env, "someone-else")

	body := strings.NewReader(`{"isFlagged": true}`)
	resp := env.do(t, http.MethodPatch, "/clauses/"+clause.ID, body, "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownloadContract(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	c, _ := seedAnalyzedContract(t, env, "user-1")

	resp := env.do(t, http.MethodGet, "/contracts/"+c.ID+"/download", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["filename"] != "msa.txt" || payload["url"] == "" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestExportContract(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	c, _ := seedAnalyzedContract(t, env, "user-1")

	resp := env.do(t, http.MethodGet, "/contracts/"+c.ID+"/export", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var report app.ExportReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Contract.ID != c.ID || len(report.Clauses) != 1 {
		t.Fatalf("report = %+v", report)
	}

	auditResp := env.do(t, http.MethodGet, "/audit?contractId="+c.ID, nil, "")
	defer auditResp.Body.Close()
	var audit struct {
		Items []domain.AuditEntry `json:"items"`
	}
	if err := json.NewDecoder(auditResp.Body).Decode(&audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(audit.Items) != 1 || audit.Items[0].Action != domain.ActionExport {
		t.Fatalf("audit = %+v", audit.Items)
	}
}

func TestTemplatesAndInstantiate(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.store.SeedTemplate(domain.ContractTemplate{
		ID:           "tpl-1",
		Name:         "Service Agreement",
		ContractType: domain.TypeServiceContract,
		Content:      "Agreement between {{client}} and {{provider}}.",
		IsPublic:     true,
	})

	listResp := env.do(t, http.MethodGet, "/templates", nil, "")
	defer listResp.Body.Close()
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	body := strings.NewReader(`{"name": "My Agreement", "values": {"client": "Acme", "provider": "Widget Co"}}`)
	resp := env.do(t, http.MethodPost, "/templates/tpl-1/instantiate", body, "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var userTmpl domain.UserTemplate
	if err := json.NewDecoder(resp.Body).Decode(&userTmpl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if userTmpl.Content != "Agreement between Acme and Widget Co." {
		t.Fatalf("content = %q", userTmpl.Content)
	}

	mineResp := env.do(t, http.MethodGet, "/user-templates", nil, "")
	defer mineResp.Body.Close()
	var mine struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(mineResp.Body).Decode(&mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mine.Count != 1 {
		t.Fatalf("user templates count = %d, want 1", mine.Count)
	}
}

func TestGlossarySearch(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.store.SeedGlossaryTerm(domain.GlossaryTerm{
		ID:           "g-1",
		Term:         "Indemnity",
		DefinitionEN: "A contractual obligation to compensate for loss.",
	})
	env.store.SeedGlossaryTerm(domain.GlossaryTerm{
		ID:           "g-2",
		Term:         "Force Majeure",
		DefinitionEN: "Unforeseeable circumstances preventing fulfilment.",
	})

	resp := env.do(t, http.MethodGet, "/glossary?search=indem", nil, "")
	defer resp.Body.Close()
	var payload struct {
		Items []domain.GlossaryTerm `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Term != "Indemnity" {
		t.Fatalf("items = %+v", payload.Items)
	}
}

func TestUploadRateLimit(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisSrv.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, envOptions{uploadLimiter: limiter})

	for i := 0; i < 2; i++ {
		body, contentType := multipartFile(t, fmt.Sprintf("doc%d.txt", i), "text/plain", "text")
		resp := env.do(t, http.MethodPost, "/contracts", body, contentType)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("upload %d status = %d, want 201", i, resp.StatusCode)
		}
	}

	body, contentType := multipartFile(t, "doc3.txt", "text/plain", "text")
	resp := env.do(t, http.MethodPost, "/contracts", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if _, code := decodeError(t, resp); code != "RATE_LIMITED" {
		t.Fatalf("code = %q", code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	c, _ := seedAnalyzedContract(t, env, "user-1")

	resp := env.do(t, http.MethodPost, "/contracts/"+c.ID+"/analyze", strings.NewReader("{}"), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload struct {
		Success  bool                  `json:"success"`
		Analysis domain.AnalysisResult `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success {
		t.Fatal("success = false")
	}
	if payload.Analysis.ExecutiveSummary != "fine" {
		t.Fatalf("summary = %q", payload.Analysis.ExecutiveSummary)
	}
}

func TestAnalyzeEndpointSurfacesConflict(t *testing.T) {
	env := newTestEnv(t, envOptions{
		analyzerHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "analysis already in progress",
				"code":  "ANALYSIS_IN_PROGRESS",
			})
		},
	})
	c, _ := seedAnalyzedContract(t, env, "user-1")

	resp := env.do(t, http.MethodPost, "/contracts/"+c.ID+"/analyze", strings.NewReader("{}"), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	msg, code := decodeError(t, resp)
	if code != "ANALYSIS_IN_PROGRESS" {
		t.Fatalf("code = %q", code)
	}
	if !strings.Contains(msg, "in progress") {
		t.Fatalf("error = %q", msg)
	}
}
