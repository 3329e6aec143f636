// Package verify implements the live selfie verification session: a timed
// capture loop that samples frames from a camera stream, analyzes each frame
// remotely or through the local fallback, and reduces the per-frame verdicts
// to a single consensus result.
package verify

import (
	"errors"
	"time"
)

// Session lifecycle states.
type State int

const (
	StateIdle State = iota
	StateCameraActive
	StateSampling
	StateFinalizing
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCameraActive:
		return "camera_active"
	case StateSampling:
		return "sampling"
	case StateFinalizing:
		return "finalizing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrDeviceUnavailable is returned when the camera stream cannot be
	// acquired. It is terminal: no samples are taken.
	ErrDeviceUnavailable = errors.New("camera unavailable")

	// ErrInsufficientEvidence is returned when fewer than the minimum number
	// of face-detected verdicts were collected. No result is produced; the
	// user should retry with better lighting and positioning.
	ErrInsufficientEvidence = errors.New("could not detect face consistently")
)

// Result is the session's final reduction over the valid frame verdicts.
// IsVerified and IsAdult report the liveness and age consensus separately so
// callers can distinguish an age rejection from a liveness rejection.
type Result struct {
	IsVerified   bool
	IsAdult      bool
	Confidence   float64
	EstimatedAge int
	// ImageData is the last captured frame, retained as evidence.
	ImageData []byte
	// UsedFallback is true when at least one contributing verdict came from
	// the local heuristic analyzer rather than the remote service.
	UsedFallback bool
}

// Verified reports whether both consensus gates passed.
func (r *Result) Verified() bool {
	return r != nil && r.IsVerified && r.IsAdult
}

// Options are the session policy knobs. The defaults mirror the production
// tuning: six samples at a two second cadence, 60% consensus over at least two
// face-detected verdicts. They are policy parameters, not derived constants.
type Options struct {
	Samples            int
	Interval           time.Duration
	ConsensusThreshold float64
	MinValidVerdicts   int
	AnalysisTimeout    time.Duration
	QuotaCooldown      time.Duration
	CacheTTL           time.Duration
	// ClientID keys the rate limiter; typically a forwarded network address.
	ClientID string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Samples:            6,
		Interval:           2 * time.Second,
		ConsensusThreshold: 0.6,
		MinValidVerdicts:   2,
		AnalysisTimeout:    8 * time.Second,
		QuotaCooldown:      time.Minute,
		CacheTTL:           5 * time.Minute,
		ClientID:           "anonymous",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Samples <= 0 {
		o.Samples = def.Samples
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.ConsensusThreshold <= 0 || o.ConsensusThreshold > 1 {
		o.ConsensusThreshold = def.ConsensusThreshold
	}
	if o.MinValidVerdicts <= 0 {
		o.MinValidVerdicts = def.MinValidVerdicts
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = def.AnalysisTimeout
	}
	if o.QuotaCooldown <= 0 {
		o.QuotaCooldown = def.QuotaCooldown
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = def.CacheTTL
	}
	if o.ClientID == "" {
		o.ClientID = def.ClientID
	}
	return o
}

// Progress describes the state of the sampling loop after each tick, for
// user-facing guidance.
type Progress struct {
	Sample      int
	Total       int
	Instruction string
	Fraction    float64
}

// instructionFor advances the user guidance with the sample count.
func instructionFor(sample, total int) string {
	switch {
	case sample <= 2:
		return "Look directly at the camera"
	case sample <= 4:
		return "Turn your head slightly left, then right"
	case sample < total:
		return "Blink naturally"
	default:
		return "Processing verification..."
	}
}
