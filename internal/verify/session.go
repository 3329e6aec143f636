package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/cache"
	"github.com/talentai/talentai/internal/logger"
	"github.com/talentai/talentai/internal/ratelimit"
	"github.com/talentai/talentai/internal/util"
)

// Deps are the collaborators a session needs. Remote, Cache and Limiter are
// optional; Fallback and Source are required. Instances are injected rather
// than shared through package state so tests run against fresh copies.
type Deps struct {
	Source   FrameSource
	Remote   ai.SelfieAnalyzer
	Fallback ai.SelfieAnalyzer
	Cache    cache.Store
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
}

// Session is one end-to-end verification attempt. A session is single-use:
// retrying after failure or cancellation means building a new session, which
// guarantees a zeroed verdict sequence and sample counter.
type Session struct {
	id         string
	opts       Options
	deps       Deps
	log        *zap.Logger
	onProgress func(Progress)
	now        func() time.Time

	mu         sync.Mutex
	state      State
	verdicts   []*ai.Analysis
	lastFrame  []byte
	quotaUntil time.Time
}

// NewSession validates the dependencies and builds an idle session.
func NewSession(deps Deps, opts Options, onProgress func(Progress)) (*Session, error) {
	if deps.Source == nil {
		return nil, errors.New("frame source is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("fallback analyzer is required")
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		opts:       opts.withDefaults(),
		deps:       deps,
		log:        logger.WithSession(deps.Logger, id),
		onProgress: onProgress,
		now:        time.Now,
		state:      StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run drives the session to completion: acquire the camera, sample frames on
// the configured cadence with one in-flight analysis at a time, then reduce
// the verdicts to a consensus Result. Cancelling ctx aborts at any point,
// including mid-analysis; the camera is released on every exit path and a
// post-cancellation analysis result is discarded rather than recorded.
//
// Run returns a Result even when consensus fails; callers inspect IsVerified
// and IsAdult to distinguish liveness rejection from age rejection. The error
// return is reserved for terminal conditions that produce no Result: device
// acquisition failure, insufficient evidence, and cancellation.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.setState(StateCameraActive)

	stream, err := s.deps.Source.Open(ctx, DefaultConstraints)
	if err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var closeOnce sync.Once
	releaseCamera := func() {
		closeOnce.Do(func() {
			if err := stream.Close(); err != nil {
				s.log.Warn("releasing camera stream", zap.Error(err))
			}
		})
	}
	defer releaseCamera()

	s.log.Info("verification session started",
		zap.Int("samples", s.opts.Samples),
		zap.Duration("interval", s.opts.Interval),
	)
	s.setState(StateSampling)

	for seq := 1; seq <= s.opts.Samples; seq++ {
		if err := util.WaitFor(ctx, s.opts.Interval); err != nil {
			s.setState(StateCancelled)
			return nil, err
		}

		frame, err := stream.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateCancelled)
				return nil, ctx.Err()
			}
			// A failed capture consumes the tick; the consensus minimum
			// decides later whether enough evidence remains.
			s.log.Warn("frame capture failed", zap.Int("sample", seq), zap.Error(err))
			continue
		}

		verdict := s.analyzeFrame(ctx, frame)
		if ctx.Err() != nil {
			s.setState(StateCancelled)
			return nil, ctx.Err()
		}

		s.mu.Lock()
		s.verdicts = append(s.verdicts, verdict)
		s.lastFrame = frame
		s.mu.Unlock()

		s.report(seq)
	}

	// Release the device before the consensus math so the user is not held
	// on camera during finalization.
	releaseCamera()
	s.setState(StateFinalizing)

	return s.finalize()
}

func (s *Session) report(seq int) {
	if s.onProgress == nil {
		return
	}
	s.onProgress(Progress{
		Sample:      seq,
		Total:       s.opts.Samples,
		Instruction: instructionFor(seq, s.opts.Samples),
		Fraction:    float64(seq) / float64(s.opts.Samples),
	})
}

// analyzeFrame resolves one frame to a verdict: cache, then remote (budget and
// quota permitting), then the local fallback. Per-tick failures never abort
// the session.
func (s *Session) analyzeFrame(ctx context.Context, frame []byte) *ai.Analysis {
	key := cacheKey(frame)

	if s.deps.Cache != nil {
		if raw, ok, err := s.deps.Cache.Get(ctx, key); err != nil {
			s.log.Warn("analysis cache read failed", zap.Error(err))
		} else if ok {
			var verdict ai.Analysis
			if err := json.Unmarshal([]byte(raw), &verdict); err == nil {
				s.log.Debug("analysis cache hit", zap.String("key", key))
				return &verdict
			}
			s.log.Warn("discarding undecodable cache entry", zap.String("key", key))
		}
	}

	if verdict, ok := s.tryRemote(ctx, frame, key); ok {
		return verdict
	}

	verdict, err := s.deps.Fallback.AnalyzeSelfie(ctx, frame)
	if err != nil {
		// The heuristic analyzer has no failure modes in practice; produce a
		// conservative no-face verdict rather than dropping the tick.
		s.log.Warn("fallback analysis failed", zap.Error(err))
		verdict = &ai.Analysis{Mock: true}
	}
	verdict.Mock = true
	return verdict
}

func (s *Session) tryRemote(ctx context.Context, frame []byte, key string) (*ai.Analysis, bool) {
	if s.deps.Remote == nil {
		return nil, false
	}

	if s.deps.Limiter != nil && !s.deps.Limiter.IsAllowed(s.opts.ClientID) {
		s.log.Debug("rate limit reached, using fallback analysis",
			zap.String("client_id", s.opts.ClientID),
			zap.Duration("retry_after", s.deps.Limiter.RetryAfter(s.opts.ClientID)),
		)
		return nil, false
	}

	s.mu.Lock()
	cooling := s.now().Before(s.quotaUntil)
	s.mu.Unlock()
	if cooling {
		s.log.Debug("remote analysis suppressed during quota cool-down")
		return nil, false
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.AnalysisTimeout)
	defer cancel()

	verdict, err := s.deps.Remote.AnalyzeSelfie(tctx, frame)
	if err != nil {
		if errors.Is(err, ai.ErrQuotaExceeded) {
			s.mu.Lock()
			s.quotaUntil = s.now().Add(s.opts.QuotaCooldown)
			s.mu.Unlock()
			s.log.Warn("remote quota exceeded, cooling down",
				zap.Duration("cooldown", s.opts.QuotaCooldown),
			)
		} else {
			s.log.Warn("remote analysis failed, using fallback", zap.Error(err))
		}
		return nil, false
	}

	if s.deps.Cache != nil {
		if raw, err := json.Marshal(verdict); err == nil {
			if err := s.deps.Cache.Set(ctx, key, string(raw), s.opts.CacheTTL); err != nil {
				s.log.Warn("caching analysis result failed", zap.Error(err))
			}
		}
	}

	return verdict, true
}

// finalize reduces the verdict sequence to a Result per the consensus policy.
func (s *Session) finalize() (*Result, error) {
	s.mu.Lock()
	verdicts := s.verdicts
	lastFrame := s.lastFrame
	s.mu.Unlock()

	var valid []*ai.Analysis
	usedFallback := false
	for _, v := range verdicts {
		if v.Mock {
			usedFallback = true
		}
		if v.FaceDetected {
			valid = append(valid, v)
		}
	}

	if len(valid) < s.opts.MinValidVerdicts {
		s.setState(StateFailed)
		s.log.Info("verification failed",
			zap.String("reason", "insufficient valid verdicts"),
			zap.Int("valid", len(valid)),
			zap.Int("required", s.opts.MinValidVerdicts),
		)
		return nil, fmt.Errorf("%w: %d of %d verdicts had a detected face",
			ErrInsufficientEvidence, len(valid), len(verdicts))
	}

	var confidenceSum float64
	liveCount, adultCount := 0, 0
	for _, v := range valid {
		confidenceSum += v.Confidence
		if v.IsLive {
			liveCount++
		}
		if v.IsAdult {
			adultCount++
		}
	}

	total := float64(len(valid))
	livenessRatio := float64(liveCount) / total
	adultRatio := float64(adultCount) / total

	result := &Result{
		IsVerified:   livenessRatio >= s.opts.ConsensusThreshold,
		IsAdult:      adultRatio >= s.opts.ConsensusThreshold,
		Confidence:   confidenceSum / total,
		EstimatedAge: valid[len(valid)-1].EstimatedAge,
		ImageData:    lastFrame,
		UsedFallback: usedFallback,
	}

	if result.Verified() {
		s.setState(StateSucceeded)
	} else {
		s.setState(StateFailed)
	}

	s.log.Info("verification finalized",
		zap.Bool("verified", result.IsVerified),
		zap.Bool("adult", result.IsAdult),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("liveness_ratio", livenessRatio),
		zap.Float64("adult_ratio", adultRatio),
		zap.Bool("used_fallback", result.UsedFallback),
	)

	return result, nil
}

func cacheKey(frame []byte) string {
	sum := sha256.Sum256(frame)
	return "selfie_analysis_" + hex.EncodeToString(sum[:])
}
