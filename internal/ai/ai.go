// Package ai holds the analysis contract shared by the remote Gemini analyzer
// and the local heuristic fallback.
package ai

import (
	"context"
	"errors"
)

// ErrQuotaExceeded marks a remote failure caused by API quota exhaustion.
// Callers use it to start a cool-down during which the remote analyzer is
// skipped entirely.
var ErrQuotaExceeded = errors.New("analysis quota exceeded")

// ErrUnparsableResponse marks a remote reply that did not contain the expected
// JSON object. It is recoverable: callers fall back to the local analyzer.
var ErrUnparsableResponse = errors.New("unparsable analysis response")

// Analysis is the verdict for a single selfie frame. Field names on the wire
// match the JSON contract expected from the model.
type Analysis struct {
	FaceDetected  bool    `json:"faceDetected" mapstructure:"faceDetected"`
	IsLive        bool    `json:"isLive" mapstructure:"isLive"`
	IsAdult       bool    `json:"isAdult" mapstructure:"isAdult"`
	EstimatedAge  int     `json:"estimatedAge" mapstructure:"estimatedAge"`
	Confidence    float64 `json:"confidence" mapstructure:"confidence"`
	Reasoning     string  `json:"reasoning,omitempty" mapstructure:"reasoning"`
	Mock          bool    `json:"isMockAnalysis,omitempty" mapstructure:"-"`
	QuotaExceeded bool    `json:"quotaExceeded,omitempty" mapstructure:"-"`
}

// Normalize clamps the verdict to its invariants: confidence within [0,100],
// non-negative age, and liveness never asserted without a detected face.
func (a *Analysis) Normalize() {
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 100 {
		a.Confidence = 100
	}
	if a.EstimatedAge < 0 {
		a.EstimatedAge = 0
	}
	if !a.FaceDetected {
		a.IsLive = false
	}
}

// SelfieAnalyzer produces a frame verdict from a still-image payload.
type SelfieAnalyzer interface {
	AnalyzeSelfie(ctx context.Context, image []byte) (*Analysis, error)
}
