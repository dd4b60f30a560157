// Package analytics turns finished conversations into a developmental
// progress report. Rule-based scores are deterministic; the qualitative
// part comes from an Assessor and degrades to a placeholder on failure.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// ErrNoTranscript is returned when there is no story transcript to analyze.
var ErrNoTranscript = errors.New("analytics: no transcript to analyze")

// Input holds the transcripts to analyze. Earlier is the optional intro
// conversation; Later is the story conversation.
type Input struct {
	Earlier *transcript.Transcript
	Later   *transcript.Transcript
}

// Report is the fused result of one analysis.
type Report struct {
	Vocabulary    VocabularyMetrics    `json:"vocabulary"`
	Engagement    EngagementMetrics    `json:"engagement"`
	Creativity    CreativityMetrics    `json:"creativity"`
	Comprehension ComprehensionMetrics `json:"comprehension"`
	External      ExternalAssessment   `json:"llm_analysis"`
	Summary       Summary              `json:"summary"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

// Engine computes reports.
type Engine struct {
	keywords Keywords
	assessor Assessor
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithKeywords overrides DefaultKeywords.
func WithKeywords(kw Keywords) EngineOption {
	return func(e *Engine) { e.keywords = kw.withDefaults() }
}

// WithAssessor sets the qualitative assessor. Without one every report
// carries a degraded assessment.
func WithAssessor(a Assessor) EngineOption {
	return func(e *Engine) { e.assessor = a }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		keywords: DefaultKeywords(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "analytics.engine")
	return e
}

// Keywords returns the lists in use.
func (e *Engine) Keywords() Keywords {
	return e.keywords
}

// Analyze builds a report. Only a missing story transcript is an error;
// assessor failures produce a degraded assessment instead.
func (e *Engine) Analyze(ctx context.Context, in Input) (*Report, error) {
	if in.Later.Len() == 0 {
		return nil, ErrNoTranscript
	}

	userTexts := append(in.Earlier.Texts(transcript.SpeakerUser), in.Later.Texts(transcript.SpeakerUser)...)
	storyTexts := in.Later.Texts(transcript.SpeakerUser)

	r := &Report{
		Vocabulary:    Vocabulary(userTexts),
		Engagement:    Engagement(in.Later),
		Creativity:    Creativity(strings.Join(userTexts, " "), e.keywords),
		Comprehension: Comprehension(storyTexts, e.keywords),
		GeneratedAt:   time.Now().UTC(),
	}
	r.Summary = Summarize(r.Vocabulary, r.Engagement, r.Creativity, r.Comprehension)
	r.External = e.assess(ctx, in)

	e.logger.Info("analysis complete",
		"conversation_id", in.Later.ConversationID(),
		"overall", r.Summary.Overall,
		"degraded", r.External.Degraded,
	)
	return r, nil
}

func (e *Engine) assess(ctx context.Context, in Input) ExternalAssessment {
	if e.assessor == nil {
		return DegradedAssessment("no language-analysis service configured")
	}

	a, err := e.assessor.Assess(ctx, BuildAssessmentPrompt(in.Earlier, in.Later))
	if err != nil {
		e.logger.Warn("assessment degraded", "error", err)
		return DegradedAssessment(err.Error())
	}
	return *a
}
