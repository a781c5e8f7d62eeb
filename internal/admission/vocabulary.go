package admission

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/source-vetting/internal/dedup"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Vocabulary holds the relevance categories and their terms
type Vocabulary struct {
	Saturation        float64             `yaml:"saturation"`
	RelevantThreshold float64             `yaml:"relevant_threshold"`
	Categories        map[string][]string `yaml:"categories"`

	terms map[string][]string // normalized
}

// LoadVocabulary reads a vocabulary file, or the built-in one when path is empty
func LoadVocabulary(path string) (*Vocabulary, error) {
	data := defaultVocabulary
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vocabulary: %w", err)
		}
		data = b
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes and normalizes a YAML vocabulary
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(v.Categories) == 0 {
		return nil, fmt.Errorf("vocabulary has no categories")
	}
	if v.Saturation <= 0 {
		v.Saturation = 4
	}
	if v.RelevantThreshold <= 0 {
		v.RelevantThreshold = 0.3
	}

	v.terms = make(map[string][]string, len(v.Categories))
	for category, terms := range v.Categories {
		for _, term := range terms {
			if n := dedup.NormalizeText(term); n != "" {
				v.terms[category] = append(v.terms[category], n)
			}
		}
	}
	return &v, nil
}

// Score rates text against every category. The overall score is the best category score.
func (v *Vocabulary) Score(text string) (float64, map[string]float64) {
	padded := " " + dedup.NormalizeText(text) + " "
	scores := make(map[string]float64, len(v.terms))
	best := 0.0

	for category, terms := range v.terms {
		distinct, occurrences := 0, 0
		for _, term := range terms {
			if n := strings.Count(padded, " "+term+" "); n > 0 {
				distinct++
				occurrences += n
			}
		}
		hits := float64(distinct) + 0.25*float64(occurrences-distinct)
		score := hits / v.Saturation
		if score > 1 {
			score = 1
		}
		scores[category] = score
		if score > best {
			best = score
		}
	}
	return best, scores
}

// Relevant reports whether text scores at or above the relevance threshold
func (v *Vocabulary) Relevant(text string) bool {
	best, _ := v.Score(text)
	return best >= v.RelevantThreshold
}

// CategoryNames returns the sorted category names
func (v *Vocabulary) CategoryNames() []string {
	names := make([]string, 0, len(v.Categories))
	for name := range v.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
