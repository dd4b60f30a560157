package analytics

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keywords are the phrase lists scanned by the creativity and
// comprehension metrics. Matching is case-insensitive substring presence.
type Keywords struct {
	Imagination []string `yaml:"imagination"`
	Descriptive []string `yaml:"descriptive"`
	Characters  []string `yaml:"characters"`
	Settings    []string `yaml:"settings"`
	Causal      []string `yaml:"causal"`
	Inference   []string `yaml:"inference"`
}

// DefaultKeywords returns the built-in lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Imagination: []string{
			"magic", "magical", "unicorn", "dragon", "fairy", "wizard",
			"castle", "adventure", "imagine", "pretend", "flying", "superhero",
			"princess", "knight", "treasure", "secret", "rainbow",
		},
		Descriptive: []string{
			"big", "small", "beautiful", "scary", "funny", "happy", "sad",
			"colorful", "sparkly", "giant", "tiny", "amazing", "wonderful",
		},
		Characters: []string{"friend", "monster", "animal", "pet", "person"},
		Settings:   []string{"forest", "castle", "house", "school", "ocean", "sky", "mountain"},
		Causal:     []string{"because", "so that", "that's why", "i think", "maybe"},
		Inference:  []string{"what if", "i wonder", "could be", "might be", "probably"},
	}
}

// ParseKeywords decodes a YAML keyword file. Lists the file leaves out
// keep their defaults.
func ParseKeywords(data []byte) (Keywords, error) {
	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("analytics: parse keywords: %w", err)
	}
	return kw.withDefaults(), nil
}

// LoadKeywords reads a YAML keyword file from disk.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("analytics: read keywords: %w", err)
	}
	return ParseKeywords(data)
}

func (k Keywords) withDefaults() Keywords {
	def := DefaultKeywords()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
			return
		}
		norm := make([]string, len(*dst))
		for i, w := range *dst {
			norm[i] = strings.ToLower(strings.TrimSpace(w))
		}
		*dst = norm
	}
	fill(&k.Imagination, def.Imagination)
	fill(&k.Descriptive, def.Descriptive)
	fill(&k.Characters, def.Characters)
	fill(&k.Settings, def.Settings)
	fill(&k.Causal, def.Causal)
	fill(&k.Inference, def.Inference)
	return k
}

// countPresent returns how many phrases occur in the lowercased text.
func countPresent(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, p) {
			n++
		}
	}
	return n
}

func anyPresent(lower string, phrases []string) bool {
	return countPresent(lower, phrases) > 0
}
