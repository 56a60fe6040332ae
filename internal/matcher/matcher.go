// Package matcher turns one or two recognition passes into a verdict.
package matcher

import (
	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
)

// Matcher scores recognition passes against the match threshold.
type Matcher struct {
	threshold float64
}

// New builds a matcher from cfg.
func New(cfg config.Config) *Matcher {
	return &Matcher{threshold: cfg.MatchThreshold}
}

// Score combines passes. A single pass scores its aggregate confidence. Two
// or more passes score the agreement between the first and the last one:
// the mean normalized edit similarity over the union of their field names,
// a field missing from either pass counting zero.
func (m *Matcher) Score(passes []kyc.RecognitionResult) kyc.MatchScore {
	score := kyc.MatchScore{Threshold: m.threshold, Passes: len(passes)}
	switch len(passes) {
	case 0:
	case 1:
		score.Score = passes[0].Confidence()
	default:
		score.Score = agreement(passes[0], passes[len(passes)-1])
	}
	score.Verified = len(passes) > 0 && score.Score >= m.threshold
	return score
}

func agreement(a, b kyc.RecognitionResult) float64 {
	names := make([]string, 0, len(a.Fields)+len(b.Fields))
	seen := make(map[string]bool)
	for _, r := range []kyc.RecognitionResult{a, b} {
		for _, f := range r.Fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				names = append(names, f.Name)
			}
		}
	}
	if len(names) == 0 {
		return 0
	}
	var sum float64
	for _, name := range names {
		fa, okA := a.Field(name)
		fb, okB := b.Field(name)
		if okA && okB {
			sum += Similarity(fa.Text, fb.Text)
		}
	}
	return sum / float64(len(names))
}

// Similarity is 1 - levenshtein(a, b)/max(len(a), len(b)) over runes. Two
// empty strings are identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
