package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/logger"
	"github.com/talentai/talentai/internal/util"
)

type visionGenerator interface {
	GenerateVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	Model() string
}

//go:embed selfie_prompt.md
var selfiePrompt string

const defaultMaxLogLength = 200

// requiredFields are the keys the model reply must carry. A reply missing any
// of them is rejected as unparsable rather than trusted partially.
var requiredFields = []string{"faceDetected", "isLive", "isAdult", "estimatedAge", "confidence"}

// Analyzer performs liveness and age analysis of selfie frames through the
// Gemini vision model.
type Analyzer struct {
	generator visionGenerator
	logger    *zap.Logger
	maxLogLen int
}

// NewAnalyzer builds a remote selfie analyzer on top of a vision-capable generator.
func NewAnalyzer(generator visionGenerator, log *zap.Logger, maxLogLength int) *Analyzer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Analyzer{
		generator: generator,
		logger:    logger.WithCommonFields(log, Provider, generator.Model()),
		maxLogLen: maxLogLength,
	}
}

// AnalyzeSelfie implements ai.SelfieAnalyzer. The model reply is treated as
// untrusted free text: the first brace-delimited JSON object is extracted and
// strictly decoded, and any deviation from the expected shape is reported as
// ai.ErrUnparsableResponse. Quota failures are reported as ai.ErrQuotaExceeded
// so callers can start a remote cool-down.
func (a *Analyzer) AnalyzeSelfie(ctx context.Context, image []byte) (*ai.Analysis, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", ai.ErrUnparsableResponse)
	}

	a.logger.Debug("gemini selfie analysis request", zap.Int("image_bytes", len(image)))

	raw, err := a.generator.GenerateVision(ctx, selfiePrompt, image, "image/jpeg")
	if err != nil {
		return nil, classifyRemoteError(err)
	}

	a.logger.Debug("gemini selfie analysis response",
		zap.Int("response_length", len(raw)),
		zap.String("response_preview", util.TruncateForLog(raw, a.maxLogLen)),
	)

	verdict, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}

	verdict.Normalize()
	return verdict, nil
}

// parseAnalysis extracts and validates the JSON verdict from a free-text reply.
func parseAnalysis(raw string) (*ai.Analysis, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnparsableResponse, err)
	}

	for _, field := range requiredFields {
		if _, ok := data[field]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ai.ErrUnparsableResponse, field)
		}
	}

	var verdict ai.Analysis
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &verdict,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis decoder: %w", err)
	}

	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnparsableResponse, err)
	}

	return &verdict, nil
}

// extractJSON returns the first brace-delimited object found in the reply,
// tolerating markdown fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in reply", ai.ErrUnparsableResponse)
	}
	return raw[start : end+1], nil
}

// classifyRemoteError distinguishes quota exhaustion from other remote
// failures. Anything that is not quota is transient from the caller's point of
// view: the tick falls back to the local analyzer and the session moves on.
func classifyRemoteError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") {
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("remote selfie analysis: %w", err)
}
