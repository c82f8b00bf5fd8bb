package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"contractlens/internal/usertoken"
	"contractlens/internal/util"
	"contractlens/pkg/domain"
	"contractlens/services/analyzer/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
}

// Server exposes the contract-analysis endpoint.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("analyzer", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/analyze-contract", s.withUser(s.handleAnalyzeContract))
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

type analyzeRequest struct {
	ContractID string `json:"contractId"`
}

func (s *Server) handleAnalyzeContract(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ContractID = strings.TrimSpace(req.ContractID)
	if req.ContractID == "" {
		writeError(w, http.StatusBadRequest, "contractId is required")
		return
	}

	result, err := s.app.Analyze(r.Context(), session, req.ContractID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrContractNotFound):
			writeError(w, http.StatusNotFound, "contract not found")
		case errors.Is(err, app.ErrAnalysisInFlight):
			writeError(w, http.StatusConflict, "analysis already in progress")
		default:
			writeError(w, http.StatusInternalServerError, "analysis failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
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
		Code:      errorCodeForAnalyzer(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForAnalyzer(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "token verifier not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "contract not found":
		return "CONTRACT_NOT_FOUND"
	case message == "analysis already in progress":
		return "ANALYSIS_IN_PROGRESS"
	case message == "analysis failed":
		return "ANALYSIS_FAILED"
	case message == "invalid json body", message == "contractid is required":
		return "ANALYSIS_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusBadRequest:
		return "ANALYSIS_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "CONTRACT_NOT_FOUND"
	case http.StatusConflict:
		return "ANALYSIS_IN_PROGRESS"
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
