package server

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/talent"
)

// selfieResponse is the wire shape of the analyze-selfie endpoint: the verdict
// plus delivery metadata for throttled and degraded replies.
type selfieResponse struct {
	ai.Analysis
	RetryAfter int    `json:"retryAfter,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) analyzeSelfie(c *gin.Context) {
	var req struct {
		ImageData string `json:"imageData"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ImageData) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image data is required"})
		return
	}

	image, err := decodeImagePayload(req.ImageData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image data is not decodable"})
		return
	}

	ctx := c.Request.Context()
	key := selfieCacheKey(image)

	if s.deps.Cache != nil {
		if raw, ok, err := s.deps.Cache.Get(ctx, key); err != nil {
			s.deps.Logger.Warn("selfie cache read failed", zap.Error(err))
		} else if ok {
			var verdict ai.Analysis
			if err := json.Unmarshal([]byte(raw), &verdict); err == nil {
				c.JSON(http.StatusOK, selfieResponse{Analysis: verdict})
				return
			}
			s.deps.Logger.Warn("discarding undecodable selfie cache entry", zap.String("key", key))
		}
	}

	key2 := clientID(c)
	if s.deps.SelfieLimiter != nil && !s.deps.SelfieLimiter.IsAllowed(key2) {
		retryAfter := retryAfterSeconds(s.deps.SelfieLimiter, key2)
		s.deps.Logger.Info("selfie rate limit exceeded, serving mock analysis",
			zap.String("client_id", key2),
			zap.Int("retry_after", retryAfter),
		)

		verdict := s.mockVerdict(c, image)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusOK, selfieResponse{Analysis: *verdict, RetryAfter: retryAfter})
		return
	}

	if s.deps.Remote == nil {
		verdict := s.mockVerdict(c, image)
		c.JSON(http.StatusOK, selfieResponse{Analysis: *verdict})
		return
	}

	verdict, err := s.deps.Remote.AnalyzeSelfie(ctx, image)
	if err != nil {
		if errors.Is(err, ai.ErrQuotaExceeded) {
			s.deps.Logger.Warn("selfie analysis quota exceeded, serving mock analysis", zap.Error(err))
			mock := s.mockVerdict(c, image)
			mock.QuotaExceeded = true
			c.Header("Retry-After", "60")
			c.JSON(http.StatusOK, selfieResponse{Analysis: *mock, RetryAfter: 60})
			return
		}

		s.deps.Logger.Warn("selfie analysis failed, serving mock analysis", zap.Error(err))
		mock := s.mockVerdict(c, image)
		c.JSON(http.StatusOK, selfieResponse{Analysis: *mock, Error: "API temporarily unavailable"})
		return
	}

	if s.deps.Cache != nil {
		if raw, err := json.Marshal(verdict); err == nil {
			if err := s.deps.Cache.Set(ctx, key, string(raw), s.deps.CacheTTL); err != nil {
				s.deps.Logger.Warn("caching selfie analysis failed", zap.Error(err))
			}
		}
	}

	c.JSON(http.StatusOK, selfieResponse{Analysis: *verdict})
}

func (s *Server) mockVerdict(c *gin.Context, image []byte) *ai.Analysis {
	verdict, err := s.deps.Fallback.AnalyzeSelfie(c.Request.Context(), image)
	if err != nil {
		s.deps.Logger.Warn("mock analysis failed", zap.Error(err))
		verdict = &ai.Analysis{}
	}
	verdict.Mock = true
	return verdict
}

func (s *Server) analyzeCV(c *gin.Context) {
	var req struct {
		CVText string `json:"cvText"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CVText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CV text is required"})
		return
	}

	if !s.allowText(c) {
		return
	}

	analysis, err := s.deps.Talent.AnalyzeCV(c.Request.Context(), req.CVText)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze CV"})
		return
	}

	c.JSON(http.StatusOK, analysis)
}

func (s *Server) generateJob(c *gin.Context) {
	var req struct {
		JobTitle     string `json:"jobTitle"`
		Requirements string `json:"requirements"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.JobTitle) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job title is required"})
		return
	}

	if !s.allowText(c) {
		return
	}

	description, err := s.deps.Talent.GenerateJobDescription(c.Request.Context(), req.JobTitle, req.Requirements)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate job description"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"description": description})
}

func (s *Server) matchJobs(c *gin.Context) {
	var req struct {
		CandidateProfile talent.CandidateProfile `json:"candidateProfile"`
		Jobs             []talent.Job            `json:"jobs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Candidate profile and jobs are required"})
		return
	}

	if !s.allowText(c) {
		return
	}

	matches, err := s.deps.Talent.MatchJobs(c.Request.Context(), req.CandidateProfile, req.Jobs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to match jobs"})
		return
	}
	if matches == nil {
		matches = []talent.JobMatch{}
	}

	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// probe exercises the remote model with a trivial prompt so operators can
// check connectivity and quota without burning an analysis call.
func (s *Server) probe(c *gin.Context) {
	if s.deps.Probe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unconfigured",
			"error":  "Gemini API key is not configured",
		})
		return
	}

	if _, err := s.deps.Probe.GenerateText(c.Request.Context(), "Reply with the single word: ok"); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.deps.Probe.Model()})
}

// decodeImagePayload accepts either a bare base64 string or a browser-style
// data URL and returns the raw image bytes.
func decodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if idx := strings.Index(payload, "base64,"); idx != -1 && strings.HasPrefix(payload, "data:image/") {
		payload = payload[idx+len("base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func selfieCacheKey(image []byte) string {
	sum := sha256.Sum256(image)
	return "selfie_analysis_" + hex.EncodeToString(sum[:])
}
