package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/cache"
	"github.com/talentai/talentai/internal/ratelimit"
	"github.com/talentai/talentai/internal/talent"
)

type stubAnalyzer struct {
	verdict *ai.Analysis
	err     error
	calls   int
}

func (s *stubAnalyzer) AnalyzeSelfie(_ context.Context, _ []byte) (*ai.Analysis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	verdict := *s.verdict
	return &verdict, nil
}

type stubProber struct {
	err error
}

func (s *stubProber) GenerateText(_ context.Context, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func (s *stubProber) Model() string { return "stub-model" }

func remoteVerdict() *ai.Analysis {
	return &ai.Analysis{FaceDetected: true, IsLive: true, IsAdult: true, EstimatedAge: 30, Confidence: 88}
}

func mockFallback() *stubAnalyzer {
	return &stubAnalyzer{verdict: &ai.Analysis{FaceDetected: true, IsLive: false, EstimatedAge: 25, Confidence: 40}}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	if deps.Fallback == nil {
		deps.Fallback = mockFallback()
	}
	if deps.Talent == nil {
		deps.Talent = talent.NewService(nil, zap.NewNop(), 0)
	}
	deps.Logger = zap.NewNop()

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("building server: %v", err)
	}
	return srv
}

func postJSON(t *testing.T, srv *Server, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func selfiePayload() map[string]string {
	image := base64.StdEncoding.EncodeToString([]byte("selfie-bytes"))
	return map[string]string{"imageData": "data:image/jpeg;base64," + image}
}

func decodeSelfie(t *testing.T, rec *httptest.ResponseRecorder) selfieResponse {
	t.Helper()

	var resp selfieResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAnalyzeSelfieRemoteSuccessAndCache(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{verdict: remoteVerdict()}
	srv := newTestServer(t, Deps{
		Remote:   remote,
		Cache:    cache.NewMemory(),
		CacheTTL: time.Minute,
	})

	rec := postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeSelfie(t, rec)
	if !resp.FaceDetected || !resp.IsLive || resp.Mock {
		t.Fatalf("unexpected verdict: %+v", resp)
	}

	// Same image again: served from cache without a second remote call.
	rec = postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if remote.calls != 1 {
		t.Fatalf("expected 1 remote call, got %d", remote.calls)
	}
}

func TestAnalyzeSelfieRateLimited(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{verdict: remoteVerdict()}
	srv := newTestServer(t, Deps{
		Remote:        remote,
		SelfieLimiter: ratelimit.New(1, time.Minute),
	})

	if rec := postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload()); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	payload := map[string]string{
		"imageData": base64.StdEncoding.EncodeToString([]byte("another-frame")),
	}
	rec := postJSON(t, srv, "/api/gemini/analyze-selfie", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("throttled request: expected 200, got %d", rec.Code)
	}

	resp := decodeSelfie(t, rec)
	if !resp.Mock {
		t.Fatal("throttled request must be served by the mock analyzer")
	}
	if resp.RetryAfter <= 0 {
		t.Fatalf("expected a positive retryAfter, got %d", resp.RetryAfter)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	if remote.calls != 1 {
		t.Fatalf("expected 1 remote call, got %d", remote.calls)
	}
}

func TestAnalyzeSelfieQuotaExceeded(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{err: ai.ErrQuotaExceeded}
	srv := newTestServer(t, Deps{Remote: remote})

	rec := postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decodeSelfie(t, rec)
	if !resp.Mock || !resp.QuotaExceeded {
		t.Fatalf("expected quota-flagged mock verdict, got %+v", resp)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestAnalyzeSelfieRemoteFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Remote: &stubAnalyzer{err: errors.New("boom")}})

	rec := postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decodeSelfie(t, rec)
	if !resp.Mock {
		t.Fatal("expected mock verdict after remote failure")
	}
	if resp.Error == "" {
		t.Fatal("expected an error note in the response")
	}
}

func TestAnalyzeSelfieWithoutRemote(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	rec := postJSON(t, srv, "/api/gemini/analyze-selfie", selfiePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeSelfie(t, rec); !resp.Mock {
		t.Fatal("expected mock verdict without a remote analyzer")
	}
}

func TestAnalyzeSelfieBadRequests(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	cases := []struct {
		name    string
		payload map[string]string
	}{
		{name: "missing image", payload: map[string]string{}},
		{name: "blank image", payload: map[string]string{"imageData": "   "}},
		{name: "undecodable image", payload: map[string]string{"imageData": "not base64!!"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if rec := postJSON(t, srv, "/api/gemini/analyze-selfie", tc.payload); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestAnalyzeCVFallbackOnly(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	rec := postJSON(t, srv, "/api/gemini/analyze-cv", map[string]string{"cvText": "some cv"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var analysis talent.CVAnalysis
	if err := json.Unmarshal(rec.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !analysis.Fallback {
		t.Fatal("expected fallback analysis without a generator")
	}
}

func TestAnalyzeCVRequiresText(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	if rec := postJSON(t, srv, "/api/gemini/analyze-cv", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTextEndpointsRateLimited(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{TextLimiter: ratelimit.New(1, time.Minute)})

	if rec := postJSON(t, srv, "/api/gemini/analyze-cv", map[string]string{"cvText": "cv"}); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec := postJSON(t, srv, "/api/gemini/generate-job", map[string]string{"jobTitle": "Engineer"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}

	var resp struct {
		RetryAfter int `json:"retryAfter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.RetryAfter <= 0 {
		t.Fatalf("expected a positive retryAfter, got %d", resp.RetryAfter)
	}
}

func TestGenerateJobRequiresTitle(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	if rec := postJSON(t, srv, "/api/gemini/generate-job", map[string]string{"requirements": "Go"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMatchJobsEmptyList(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	rec := postJSON(t, srv, "/api/gemini/match-jobs", map[string]any{
		"candidateProfile": talent.CandidateProfile{Skills: []string{"Go"}},
		"jobs":             []talent.Job{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Matches []talent.JobMatch `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Matches == nil || len(resp.Matches) != 0 {
		t.Fatalf("expected an empty match list, got %v", resp.Matches)
	}
}

func TestMatchJobsFallbackScores(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	rec := postJSON(t, srv, "/api/gemini/match-jobs", map[string]any{
		"candidateProfile": talent.CandidateProfile{},
		"jobs":             []talent.Job{{ID: "1", Title: "Backend"}, {ID: "2", Title: "Frontend"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Matches []talent.JobMatch `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.Matches))
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Probe: &stubProber{}})

	req := httptest.NewRequest(http.MethodGet, "/api/gemini/test", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string `json:"status"`
		Model  string `json:"model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "ok" || resp.Model != "stub-model" {
		t.Fatalf("unexpected probe reply: %+v", resp)
	}
}

func TestProbeUnconfigured(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/gemini/test", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestProbeRemoteError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Probe: &stubProber{err: errors.New("boom")}})

	req := httptest.NewRequest(http.MethodGet, "/api/gemini/test", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
