package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"contractlens/internal/ratelimit"
	"contractlens/internal/usertoken"
	"contractlens/internal/util"
	"contractlens/pkg/domain"
	"contractlens/pkg/store"
	"contractlens/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	UploadLimiter  *ratelimit.FixedWindowLimiter
	AnalyzeLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the contract, clause, template, glossary, and audit routes.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	uploadLimiter  *ratelimit.FixedWindowLimiter
	analyzeLimiter *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		uploadLimiter:  cfg.UploadLimiter,
		analyzeLimiter: cfg.AnalyzeLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// contracts
	s.mux.Handle("/contracts", s.withUser(s.handleContracts))
	s.mux.Handle("/contracts/", s.withUser(s.handleContractByID))

	// clauses
	s.mux.Handle("/clauses/", s.withUser(s.handleClauseByID))

	// templates
	s.mux.Handle("/templates", s.withUser(s.handleTemplates))
	s.mux.Handle("/templates/", s.withUser(s.handleTemplateByID))
	s.mux.Handle("/user-templates", s.withUser(s.handleUserTemplates))

	// glossary + audit
	s.mux.Handle("/glossary", s.withUser(s.handleGlossary))
	s.mux.Handle("/audit", s.withUser(s.handleAudit))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionHandler func(http.ResponseWriter, *http.Request, domain.Session)

func (s *Server) withUser(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		subject, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, domain.Session{UserID: subject, Token: token})
	})
}

func (s *Server) requestMeta(r *http.Request) app.RequestMeta {
	return app.RequestMeta{
		IPAddress: util.ClientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
	}
}

func allow(l *ratelimit.FixedWindowLimiter, key string) bool {
	if l == nil {
		return true
	}
	return l.Allow(key)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request, session domain.Session) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadContract(w, r, session)
	case http.MethodGet:
		s.handleListContracts(w, session)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadContract(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if !allow(s.uploadLimiter, "upload:"+session.UserID) {
		writeError(w, http.StatusTooManyRequests, "too many uploads")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	contract, err := s.app.UploadContract(session, header.Filename, header.Header.Get("Content-Type"), file, header.Size, s.requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrFileRequired), errors.Is(err, app.ErrFileTooLarge), errors.Is(err, app.ErrUnsupportedFileType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, contract)
}

func (s *Server) handleListContracts(w http.ResponseWriter, session domain.Session) {
	contracts, err := s.app.ListContracts(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": contracts,
		"count": len(contracts),
	})
}

// /contracts/{id} or /contracts/{id}/{download|clauses|export|analyze}
func (s *Server) handleContractByID(w http.ResponseWriter, r *http.Request, session domain.Session) {
	path := strings.TrimPrefix(r.URL.Path, "/contracts/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "download":
			s.handleDownloadContract(w, r, session, id)
		case "clauses":
			s.handleListClauses(w, r, session, id)
		case "export":
			s.handleExportContract(w, r, session, id)
		case "analyze":
			s.handleAnalyzeContract(w, r, session, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		contract, err := s.app.GetContract(session, id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, contract)
	case http.MethodDelete:
		if err := s.app.DeleteContract(session, id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownloadContract(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, filename, err := s.app.GetDownloadURL(session, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

func (s *Server) handleListClauses(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clauses, err := s.app.ListClauses(session, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": clauses,
		"count": len(clauses),
	})
}

func (s *Server) handleExportContract(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.app.ExportContract(session, id, s.requestMeta(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyzeContract(w http.ResponseWriter, r *http.Request, session domain.Session, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !allow(s.analyzeLimiter, "analyze:"+session.UserID) {
		writeError(w, http.StatusTooManyRequests, "too many analysis requests")
		return
	}
	result, err := s.app.AnalyzeContract(r.Context(), session, id, s.requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			notFound(w, "contract not found")
		case errors.Is(err, app.ErrAnalysisInFlight):
			writeError(w, http.StatusConflict, "analysis already in progress")
		case errors.Is(err, app.ErrAnalyzerUnavailable):
			writeError(w, http.StatusBadGateway, "analyzer unreachable")
		default:
			writeError(w, http.StatusBadGateway, "analysis failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": result,
	})
}

type clauseUpdateRequest struct {
	PlainExplanation     *string `json:"plainExplanation"`
	RiskRationale        *string `json:"riskRationale"`
	RiskScore            *int    `json:"riskScore"`
	RiskLevel            *string `json:"riskLevel"`
	Category             *string `json:"category"`
	SuggestedAlternative *string `json:"suggestedAlternative"`
	NegotiationScript    *string `json:"negotiationScript"`
	IsFlagged            *bool   `json:"isFlagged"`
}

// /clauses/{id}
func (s *Server) handleClauseByID(w http.ResponseWriter, r *http.Request, session domain.Session) {
	id := strings.TrimPrefix(r.URL.Path, "/clauses/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req clauseUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := store.ClauseUpdate{
		PlainExplanation:     req.PlainExplanation,
		RiskRationale:        req.RiskRationale,
		RiskScore:            req.RiskScore,
		SuggestedAlternative: req.SuggestedAlternative,
		NegotiationScript:    req.NegotiationScript,
		IsFlagged:            req.IsFlagged,
	}
	if req.RiskLevel != nil {
		level := domain.RiskLevel(*req.RiskLevel)
		update.RiskLevel = &level
	}
	if req.Category != nil {
		category := domain.ClauseCategory(*req.Category)
		update.Category = &category
	}
	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clause, err := s.app.UpdateClause(session, id, update, s.requestMeta(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clause)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	templates, err := s.app.ListTemplates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": templates,
		"count": len(templates),
	})
}

type instantiateRequest struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// /templates/{id} or /templates/{id}/instantiate
func (s *Server) handleTemplateByID(w http.ResponseWriter, r *http.Request, session domain.Session) {
	path := strings.TrimPrefix(r.URL.Path, "/templates/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "instantiate" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req instantiateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		userTmpl, err := s.app.InstantiateTemplate(session, id, req.Name, req.Values, s.requestMeta(r))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, userTmpl)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	tmpl, err := s.app.GetTemplate(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleUserTemplates(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	templates, err := s.app.ListUserTemplates(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": templates,
		"count": len(templates),
	})
}

func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	terms, err := s.app.SearchGlossary(r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": terms,
		"count": len(terms),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.ListAuditEntries(session, r.URL.Query().Get("contractId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForAPI(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForAPI(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "token verifier not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "file too large":
		return "CONTRACT_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "CONTRACT_FILE_REQUIRED"
	case message == "unsupported file type":
		return "CONTRACT_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "CONTRACT_INVALID_UPLOAD_FORM"
	case message == "contract not found":
		return "CONTRACT_NOT_FOUND"
	case message == "too many uploads", message == "too many analysis requests":
		return "RATE_LIMITED"
	case message == "analysis already in progress":
		return "ANALYSIS_IN_PROGRESS"
	case message == "analyzer unreachable", message == "analysis failed":
		return "ANALYSIS_FAILED"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID_BODY"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "ANALYSIS_IN_PROGRESS"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
