package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/soulsmith/pkg/inference"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// ErrInvalidAssessment is returned when a language-analysis reply does not
// carry the five expected fields.
var ErrInvalidAssessment = errors.New("analytics: invalid assessment")

// DefaultAssessTimeout bounds one assessment call.
const DefaultAssessTimeout = 30 * time.Second

// ExternalAssessment is the qualitative view from the language-analysis
// service. Degraded is set when the placeholder was substituted.
type ExternalAssessment struct {
	LanguageComplexity  string `json:"language_complexity"`
	EmotionalExpression string `json:"emotional_expression"`
	SocialAwareness     string `json:"social_awareness"`
	NarrativeSkills     string `json:"narrative_skills"`
	OverallAssessment   string `json:"overall_assessment"`
	Degraded            bool   `json:"degraded"`
	Reason              string `json:"reason,omitempty"`
}

// DegradedAssessment returns the placeholder used when the
// language-analysis service cannot be reached or replies badly.
func DegradedAssessment(reason string) ExternalAssessment {
	return ExternalAssessment{
		LanguageComplexity:  "age-appropriate",
		EmotionalExpression: "positive and engaged",
		SocialAwareness:     "developing well",
		NarrativeSkills:     "shows creativity",
		OverallAssessment:   "The child demonstrates healthy language development with good imagination and engagement.",
		Degraded:            true,
		Reason:              reason,
	}
}

// Assessor produces an ExternalAssessment for a prompt.
type Assessor interface {
	Assess(ctx context.Context, prompt string) (*ExternalAssessment, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, prompt string) (*ExternalAssessment, error)

// Assess calls f.
func (f AssessorFunc) Assess(ctx context.Context, prompt string) (*ExternalAssessment, error) {
	return f(ctx, prompt)
}

const assessmentSystemPrompt = `You are an expert in early childhood language development.
You read transcripts of a storyteller talking with a child aged 4-8 and assess the child's language.
Reply with a JSON object with exactly these string fields:
language_complexity, emotional_expression, social_awareness, narrative_skills, overall_assessment.`

// InferenceAssessor asks an inference.Provider for the assessment.
type InferenceAssessor struct {
	provider inference.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInferenceAssessor creates an Assessor backed by p. A zero timeout
// uses DefaultAssessTimeout.
func NewInferenceAssessor(p inference.Provider, timeout time.Duration, logger *slog.Logger) *InferenceAssessor {
	if timeout <= 0 {
		timeout = DefaultAssessTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InferenceAssessor{
		provider: p,
		timeout:  timeout,
		logger:   logger.With("component", "analytics.assessor"),
	}
}

// Assess submits prompt and validates the reply.
func (a *InferenceAssessor) Assess(ctx context.Context, prompt string) (*ExternalAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.provider.Chat(ctx, &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(assessmentSystemPrompt),
			inference.NewUserMessage(prompt),
		},
		JSON: true,
	})
	if err != nil {
		if class := inference.Classify(err); class != "" {
			return nil, fmt.Errorf("%s: %w", class, err)
		}
		return nil, err
	}

	a.logger.Debug("assessment received",
		"provider", resp.Provider,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens,
	)
	return ParseAssessment(resp.Message.Content)
}

// ParseAssessment decodes a JSON reply, tolerating a surrounding markdown
// code fence. All five fields must be non-empty strings.
func ParseAssessment(raw string) (*ExternalAssessment, error) {
	body := stripFence(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssessment, err)
	}

	get := func(key string) (string, error) {
		v, ok := fields[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("%w: missing %s", ErrInvalidAssessment, key)
		}
		return strings.TrimSpace(v), nil
	}

	var a ExternalAssessment
	var err error
	if a.LanguageComplexity, err = get("language_complexity"); err != nil {
		return nil, err
	}
	if a.EmotionalExpression, err = get("emotional_expression"); err != nil {
		return nil, err
	}
	if a.SocialAwareness, err = get("social_awareness"); err != nil {
		return nil, err
	}
	if a.NarrativeSkills, err = get("narrative_skills"); err != nil {
		return nil, err
	}
	if a.OverallAssessment, err = get("overall_assessment"); err != nil {
		return nil, err
	}
	return &a, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// BuildAssessmentPrompt renders the transcripts for the language-analysis
// service. earlier may be nil.
func BuildAssessmentPrompt(earlier, later *transcript.Transcript) string {
	var b strings.Builder
	if earlier.Len() > 0 {
		b.WriteString("Introduction conversation:\n")
		writeTranscript(&b, earlier)
		b.WriteString("\n")
	}
	b.WriteString("Story conversation:\n")
	writeTranscript(&b, later)
	b.WriteString("\nAssess the child's language development from these conversations.")
	return b.String()
}

func writeTranscript(b *strings.Builder, t *transcript.Transcript) {
	for _, u := range t.Utterances() {
		who := "Storyteller"
		if u.Speaker == transcript.SpeakerUser {
			who = "Child"
		}
		fmt.Fprintf(b, "%s: %s\n", who, u.Text)
	}
}
