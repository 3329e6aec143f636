// Package server exposes the platform's AI operations over HTTP: selfie
// analysis with caching, rate limiting and heuristic fallback, plus the
// text-side talent operations. Shared state (cache, limiters) is injected
// explicitly so handlers stay testable against fresh instances.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/cache"
	"github.com/talentai/talentai/internal/ratelimit"
	"github.com/talentai/talentai/internal/talent"
)

type textProber interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Deps are the collaborators the HTTP layer needs. Remote and Probe are nil
// when no API key is configured; the selfie endpoint then serves mock analysis
// only.
type Deps struct {
	Remote        ai.SelfieAnalyzer
	Fallback      ai.SelfieAnalyzer
	Probe         textProber
	Talent        *talent.Service
	Cache         cache.Store
	SelfieLimiter *ratelimit.Limiter
	TextLimiter   *ratelimit.Limiter
	Logger        *zap.Logger
	CacheTTL      time.Duration
}

// Server wires the Gin router to the injected collaborators.
type Server struct {
	deps   Deps
	router *gin.Engine
}

// New validates the dependencies and builds the router.
func New(deps Deps) (*Server, error) {
	if deps.Fallback == nil {
		return nil, errors.New("fallback analyzer is required")
	}
	if deps.Talent == nil {
		return nil, errors.New("talent service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = cache.DefaultTTL
	}

	s := &Server{deps: deps}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/gemini")
	api.POST("/analyze-selfie", s.analyzeSelfie)
	api.POST("/analyze-cv", s.analyzeCV)
	api.POST("/generate-job", s.generateJob)
	api.POST("/match-jobs", s.matchJobs)
	api.GET("/test", s.probe)

	s.router = router
	return s, nil
}

// Router exposes the underlying handler for serving and tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves the API on the given address until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// requestLogger tags every request with an identifier and logs its outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)

		start := time.Now()
		c.Next()

		s.deps.Logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// clientID returns the rate-limiting key for the request. The forwarded
// address is trusted as-is: it is only a map key, not an identity.
func clientID(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "anonymous"
}

// allowText applies the shared text-endpoint budget, replying 429 when spent.
func (s *Server) allowText(c *gin.Context) bool {
	if s.deps.TextLimiter == nil {
		return true
	}

	key := clientID(c)
	if s.deps.TextLimiter.IsAllowed(key) {
		return true
	}

	retryAfter := retryAfterSeconds(s.deps.TextLimiter, key)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":      "Rate limit exceeded. Please try again later.",
		"retryAfter": retryAfter,
	})
	return false
}

// retryAfterSeconds rounds the limiter's reset delay up to whole seconds, the
// granularity of the Retry-After header.
func retryAfterSeconds(limiter *ratelimit.Limiter, key string) int {
	remaining := limiter.RetryAfter(key)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}
