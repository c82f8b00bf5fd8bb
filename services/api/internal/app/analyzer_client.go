package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"contractlens/pkg/domain"
)

// ErrAnalyzerUnavailable marks transport-level failures reaching the
// analyzer, as opposed to failures the analyzer itself reported (those
// already moved the contract to failed on its side).
var ErrAnalyzerUnavailable = errors.New("analyzer unreachable")

// ErrAnalysisInFlight is returned when the analyzer reports that another
// analysis already holds the lease on the contract.
var ErrAnalysisInFlight = errors.New("analysis already in progress")

// analyzerClient calls the analyzer service on behalf of a user, forwarding
// the caller's bearer token.
type analyzerClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAnalyzerClient(baseURL string) *analyzerClient {
	return &analyzerClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// Analysis is synchronous on the analyzer side and includes one
		// LLM round trip.
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}
}

// AnalyzeContract runs analysis for the contract and returns the result.
// The analyzer answers 200 with the analysis object itself; errors come
// back as an {error, code} envelope.
func (c *analyzerClient) AnalyzeContract(ctx context.Context, session domain.Session, contractID string) (domain.AnalysisResult, error) {
	body, err := json.Marshal(map[string]string{"contractId": contractID})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze-contract", bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusConflict {
			return domain.AnalysisResult{}, ErrAnalysisInFlight
		}
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		msg := envelope.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.AnalysisResult{}, fmt.Errorf("analyzer rejected contract: %s", msg)
	}

	var result domain.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode analyzer response: %w", err)
	}
	return result, nil
}
