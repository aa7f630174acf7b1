package quality

import "strings"

// LengthClassEvaluator scores a response by how its length compares to an
// expected range: too short or excessively long responses score lower.
func LengthClassEvaluator(response string, expectedMin, expectedMax int) Evaluation {
	n := len(response)
	switch {
	case n < expectedMin/2:
		return Evaluation{Name: "length_class", Value: 0.2, Confidence: 0.6}
	case n < expectedMin:
		return Evaluation{Name: "length_class", Value: 0.6, Confidence: 0.6}
	case n <= expectedMax:
		return Evaluation{Name: "length_class", Value: 0.9, Confidence: 0.6}
	default:
		return Evaluation{Name: "length_class", Value: 0.5, Confidence: 0.5}
	}
}

var completenessMarkers = []string{
	"in summary", "to summarize", "in conclusion", "here's the", "here is the",
	"done", "completed", "finished",
}

// CompletenessEvaluator scores higher when the response contains markers
// that typically accompany a finished, non-truncated answer.
func CompletenessEvaluator(response string) Evaluation {
	lower := strings.ToLower(response)
	hits := 0
	for _, m := range completenessMarkers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	value := 0.5
	if hits > 0 {
		value = 0.5 + 0.1*float64(min(hits, 5))
	}
	if len(response) > 0 && !endsWithTerminator(response) {
		value -= 0.2
	}
	return Evaluation{Name: "completeness", Value: clamp01(value), Confidence: 0.5}
}

var refusalMarkers = []string{
	"i cannot help", "i can't help", "i cannot assist", "i'm not able to",
	"i am not able to", "i won't", "i will not", "as an ai", "i cannot provide",
}

// RefusalEvaluator scores low when the response contains typical refusal
// phrasing, since a refusal rarely satisfies the original request.
func RefusalEvaluator(response string) Evaluation {
	lower := strings.ToLower(response)
	for _, m := range refusalMarkers {
		if strings.Contains(lower, m) {
			return Evaluation{Name: "refusal", Value: 0.1, Confidence: 0.8}
		}
	}
	return Evaluation{Name: "refusal", Value: 0.9, Confidence: 0.4}
}

func endsWithTerminator(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?' || last == '`' || last == ')'
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
