// Package mock implements the local heuristic selfie analyzer used when the
// remote service is unavailable, rate limited, or erroring. It derives a
// plausible verdict from raw payload properties only. It is a best-effort
// stand-in, not a biometric model, and every verdict it produces is flagged as
// mock so callers can report it honestly.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/talentai/talentai/internal/ai"
)

const (
	// minFacePayload is a crude proxy for "non-trivial image content": frames
	// smaller than this are unlikely to hold a usable face.
	minFacePayload = 50 * 1024

	baseConfidenceValid   = 75
	baseConfidenceInvalid = 30
	livenessThreshold     = 60

	// adultProbability controls the age draw so the age-gating path is
	// exercised occasionally.
	adultProbability = 0.9
)

var imagePrefixes = [][]byte{
	{0xFF, 0xD8, 0xFF}, // JPEG
	{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, // PNG
	[]byte("data:image/"), // data URL passed through verbatim
}

// Analyzer is the heuristic fallback. Safe for concurrent use.
type Analyzer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New constructs an analyzer seeded from the current time.
func New() *Analyzer {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand constructs an analyzer with an injected randomness source so
// tests can pin the jitter and age draws.
func NewWithRand(rnd *rand.Rand) *Analyzer {
	return &Analyzer{rnd: rnd}
}

// AnalyzeSelfie implements ai.SelfieAnalyzer. It never fails and never calls
// out; the error return exists only to satisfy the interface.
func (a *Analyzer) AnalyzeSelfie(_ context.Context, image []byte) (*ai.Analysis, error) {
	a.mu.Lock()
	jitter := a.rnd.Float64()*20 - 10 // -10 to +10
	ageDraw := a.rnd.Float64()
	adultAge := 20 + a.rnd.Intn(40)
	minorAge := 16 + a.rnd.Intn(5)
	a.mu.Unlock()

	validFormat := hasImagePrefix(image)

	base := float64(baseConfidenceInvalid)
	if validFormat {
		base = baseConfidenceValid
	}
	confidence := math.Max(0, math.Min(100, base+jitter))

	faceDetected := len(image) > minFacePayload && validFormat
	isLive := faceDetected && confidence > livenessThreshold

	estimatedAge := adultAge
	if ageDraw > adultProbability {
		estimatedAge = minorAge
	}

	verdict := &ai.Analysis{
		FaceDetected: faceDetected,
		IsLive:       isLive,
		IsAdult:      estimatedAge >= 18,
		EstimatedAge: estimatedAge,
		Confidence:   math.Round(confidence),
		Reasoning:    reasoning(faceDetected, confidence, estimatedAge),
		Mock:         true,
	}
	verdict.Normalize()

	return verdict, nil
}

func hasImagePrefix(image []byte) bool {
	for _, prefix := range imagePrefixes {
		if bytes.HasPrefix(image, prefix) {
			return true
		}
	}
	return false
}

func reasoning(faceDetected bool, confidence float64, estimatedAge int) string {
	if !faceDetected {
		return "No clear face detected in the image. Please ensure good lighting and face the camera directly."
	}
	return fmt.Sprintf("Face detected with %.0f%% confidence. Estimated age: %d years.", confidence, estimatedAge)
}
