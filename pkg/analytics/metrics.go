package analytics

import (
	"math"
	"strings"
	"unicode"

	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// VocabularyMetrics describe the words the child used.
type VocabularyMetrics struct {
	TotalWords     int     `json:"total_words"`
	UniqueWords    int     `json:"unique_words"`
	DiversityRatio float64 `json:"diversity_ratio"`
	AvgWordLength  float64 `json:"avg_word_length"`
}

// EngagementMetrics describe the back-and-forth of the story conversation.
type EngagementMetrics struct {
	TotalExchanges   int     `json:"total_exchanges"`
	UserTurns        int     `json:"child_responses"`
	QuestionsAsked   int     `json:"questions_asked"`
	AvgResponseWords float64 `json:"avg_response_words"`
}

// CreativityMetrics count imaginative and descriptive language.
type CreativityMetrics struct {
	ImaginationKeywords int  `json:"imagination_keywords"`
	DescriptiveWords    int  `json:"descriptive_words"`
	IncludesCharacters  bool `json:"includes_characters"`
	IncludesSetting     bool `json:"includes_setting"`
	Score               int  `json:"creativity_score"`
}

// ComprehensionMetrics count causal and inferential reasoning markers.
type ComprehensionMetrics struct {
	CausalIndicators    int `json:"comprehension_indicators"`
	InferenceIndicators int `json:"inference_indicators"`
	RelevantResponses   int `json:"relevant_responses"`
	Score               int `json:"comprehension_score"`
}

// Tokenize splits text on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// normalizeToken lowercases a token and drops everything that is not a
// letter, digit or underscore.
func normalizeToken(tok string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tok) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Vocabulary computes word statistics over the given utterance texts.
func Vocabulary(texts []string) VocabularyMetrics {
	tokens := Tokenize(strings.Join(texts, " "))
	if len(tokens) == 0 {
		return VocabularyMetrics{}
	}

	unique := make(map[string]struct{}, len(tokens))
	chars := 0
	for _, tok := range tokens {
		chars += len([]rune(tok))
		if n := normalizeToken(tok); n != "" {
			unique[n] = struct{}{}
		}
	}

	return VocabularyMetrics{
		TotalWords:     len(tokens),
		UniqueWords:    len(unique),
		DiversityRatio: round(float64(len(unique))/float64(len(tokens)), 2),
		AvgWordLength:  round(float64(chars)/float64(len(tokens)), 1),
	}
}

// Engagement computes turn statistics for one conversation. Questions are
// agent utterances ending in a question mark.
func Engagement(t *transcript.Transcript) EngagementMetrics {
	m := EngagementMetrics{TotalExchanges: t.Len()}

	words := 0
	for _, u := range t.Utterances() {
		switch u.Speaker {
		case transcript.SpeakerUser:
			m.UserTurns++
			words += len(Tokenize(u.Text))
		case transcript.SpeakerAgent:
			if strings.HasSuffix(strings.TrimSpace(u.Text), "?") {
				m.QuestionsAsked++
			}
		}
	}
	if m.UserTurns > 0 {
		m.AvgResponseWords = round(float64(words)/float64(m.UserTurns), 1)
	}
	return m
}

// Creativity scans text for imaginative and descriptive keywords.
func Creativity(text string, kw Keywords) CreativityMetrics {
	lower := strings.ToLower(text)
	m := CreativityMetrics{
		ImaginationKeywords: countPresent(lower, kw.Imagination),
		DescriptiveWords:    countPresent(lower, kw.Descriptive),
		IncludesCharacters:  anyPresent(lower, kw.Characters),
		IncludesSetting:     anyPresent(lower, kw.Settings),
	}
	raw := 2 + float64(m.ImaginationKeywords)*0.5 + float64(m.DescriptiveWords)*0.3
	m.Score = int(math.Min(10, math.Round(raw)))
	return m
}

// Comprehension scans the child's story answers for reasoning markers.
// A response longer than two words counts as relevant.
func Comprehension(userTexts []string, kw Keywords) ComprehensionMetrics {
	lower := strings.ToLower(strings.Join(userTexts, " "))
	m := ComprehensionMetrics{
		CausalIndicators:    countPresent(lower, kw.Causal),
		InferenceIndicators: countPresent(lower, kw.Inference),
	}
	for _, t := range userTexts {
		if len(Tokenize(t)) > 2 {
			m.RelevantResponses++
		}
	}
	m.Score = min(10, m.CausalIndicators*2+m.InferenceIndicators*2)
	return m
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
