// Package goal implements the goal-tracking subsystem (spec §4.4):
// Goal-DNA fingerprinting and similarity, the five-signal drift engine, the
// multi-resolution loop detector, and the adaptive step/token budget.
package goal

import (
	"strings"
)

// DNA is the fixed-for-the-lifetime-of-the-goal fingerprint: a token set and
// a trigram set extracted from the goal string with stop-words removed.
type DNA struct {
	Tokens   map[string]struct{}
	Trigrams map[string]struct{}
}

// stopWords is the default stop-word list used to build a DNA. Kept small
// and deliberately conservative: dropping a content word would silently
// weaken drift detection.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "and": {}, "or": {}, "is": {}, "are": {}, "with": {}, "be": {},
	"this": {}, "that": {}, "it": {}, "as": {}, "at": {}, "by": {}, "from": {},
}

// NewDNA builds a DNA from text: lower-cased, split on whitespace and
// underscores (identifiers split on underscores per spec §4.4), stop-words
// removed.
func NewDNA(text string) DNA {
	tokens := tokenize(text)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	trigramSet := make(map[string]struct{})
	for _, t := range tokens {
		for _, tg := range trigrams(t) {
			trigramSet[tg] = struct{}{}
		}
	}
	return DNA{Tokens: tokenSet, Trigrams: trigramSet}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func trigrams(token string) []string {
	if len(token) < 3 {
		return []string{token}
	}
	out := make([]string, 0, len(token)-2)
	for i := 0; i+3 <= len(token); i++ {
		out = append(out, token[i:i+3])
	}
	return out
}

// Similarity returns 0.7*Jaccard(tokens) + 0.3*Jaccard(trigrams) between the
// goal DNA d and an action's DNA a. Symmetric by construction (spec property
// 3): similarity(d,a) == similarity(a,d) since Jaccard is symmetric in its
// two set arguments, and similarity(x,x) == 1 since Jaccard(s,s) == 1 for
// any non-empty set s.
func (d DNA) Similarity(a DNA) float64 {
	return 0.7*jaccard(d.Tokens, a.Tokens) + 0.3*jaccard(d.Trigrams, a.Trigrams)
}

// SimilarityToText is a convenience wrapper building a DNA from text and
// comparing it to d. Not O(1): building the DNA is O(len(text)); comparing
// two already-built DNAs is O(min(|tokens|,|trigrams|)).
func (d DNA) SimilarityToText(text string) float64 {
	return d.Similarity(NewDNA(text))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
