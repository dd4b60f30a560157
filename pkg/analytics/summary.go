package analytics

import (
	"fmt"
	"math"
)

// Encouragement messages by overall score band.
const (
	EncourageHigh = "Amazing storytelling! Your child's imagination and words are really shining."
	EncourageMid  = "Great job exploring stories together! Keep reading and imagining."
	EncourageLow  = "Every story is a step forward. Keep talking, reading, and imagining together!"
)

// Summary is the parent-facing digest of a report.
type Summary struct {
	Overall       int      `json:"overall_score"`
	Vocabulary    float64  `json:"vocabulary_score"`
	Engagement    float64  `json:"engagement_score"`
	Creativity    float64  `json:"creativity_score"`
	Comprehension float64  `json:"comprehension_score"`
	Highlights    []string `json:"highlights"`
	Encouragement string   `json:"encouragement"`
}

// VocabularyScore maps vocabulary metrics onto [0,10].
func VocabularyScore(v VocabularyMetrics) float64 {
	return clamp(v.DiversityRatio*10 + float64(v.UniqueWords)/5)
}

// EngagementScore maps engagement metrics onto [0,10].
func EngagementScore(e EngagementMetrics) float64 {
	return clamp(float64(e.UserTurns + e.QuestionsAsked*2))
}

// Summarize fuses the four categories into a Summary.
func Summarize(v VocabularyMetrics, e EngagementMetrics, c CreativityMetrics, comp ComprehensionMetrics) Summary {
	s := Summary{
		Vocabulary:    round(VocabularyScore(v), 1),
		Engagement:    round(EngagementScore(e), 1),
		Creativity:    round(clamp(float64(c.Score)), 1),
		Comprehension: round(clamp(float64(comp.Score)), 1),
		Highlights: []string{
			fmt.Sprintf("Used %d unique words", v.UniqueWords),
			fmt.Sprintf("Responded to %d storyteller questions", e.QuestionsAsked),
			fmt.Sprintf("Showed %d imaginative ideas", c.ImaginationKeywords),
		},
	}
	mean := (s.Vocabulary + s.Engagement + s.Creativity + s.Comprehension) / 4
	s.Overall = int(math.Round(mean))
	s.Encouragement = Encouragement(s.Overall)
	return s
}

// Encouragement picks the message for an overall score.
func Encouragement(overall int) string {
	switch {
	case overall >= 8:
		return EncourageHigh
	case overall >= 5:
		return EncourageMid
	default:
		return EncourageLow
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}
