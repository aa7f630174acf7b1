package context

import (
	"fmt"
	"strings"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// PreserveVerbatimPatterns lists substrings that, when present in a tool
// output, exempt it from L1 observation masking (e.g. generated code or
// file diffs a later step may need verbatim).
var PreserveVerbatimPatterns = []string{"```", "diff --git", "ERROR:"}

// ToolCharLimits caps the L1 placeholder length per tool name; a missing
// entry falls back to DefaultToolCharLimit.
type ToolCharLimits map[string]int

const DefaultToolCharLimit = 200

// AdvanceCompression raises it.Level based on age thresholds and rewrites
// CurrentText/TokensCurrent for the new level. Level only ever increases
// (spec invariant / property 6); calling this with an age that does not
// cross a new threshold is a no-op.
func AdvanceCompression(it *Item, currentStep int, cfg tunables.ContextConfig, limits ToolCharLimits, toolName string) {
	age := it.AgeSteps(currentStep)
	target := it.Level
	if age >= cfg.L3AgeSteps && target < L3StructuredDigest {
		target = L3StructuredDigest
	} else if age >= cfg.L2AgeSteps && target < L2ProseSummary {
		target = L2ProseSummary
	} else if age >= cfg.L1AgeSteps && target < L1ObservationMasked {
		target = L1ObservationMasked
	}
	if target <= it.Level {
		return
	}
	it.Level = target
	it.CurrentText = compress(it, target, limits, toolName)
	it.TokensCurrent = EstimateTokens(it.CurrentText)
	if it.TokensCurrent > it.TokensL0 {
		it.TokensCurrent = it.TokensL0
	}
}

func compress(it *Item, level CompressionLevel, limits ToolCharLimits, toolName string) string {
	switch level {
	case L1ObservationMasked:
		return maskObservation(it, limits, toolName)
	case L2ProseSummary:
		return proseSummary(it)
	case L3StructuredDigest:
		return structuredDigest(it)
	default:
		return it.OriginalText
	}
}

// maskObservation trims old tool outputs to a small placeholder carrying
// type plus a short summary, unless the text matches a preserve-verbatim
// pattern.
func maskObservation(it *Item, limits ToolCharLimits, toolName string) string {
	if it.Type != ItemToolResult && it.Type != ItemToolCall {
		return it.OriginalText
	}
	for _, p := range PreserveVerbatimPatterns {
		if strings.Contains(it.OriginalText, p) {
			return it.OriginalText
		}
	}
	limit := DefaultToolCharLimit
	if limits != nil {
		if l, ok := limits[toolName]; ok {
			limit = l
		}
	}
	summary := it.OriginalText
	if len(summary) > limit {
		summary = summary[:limit] + "…"
	}
	return fmt.Sprintf("[%s] %s", it.Type, summary)
}

// proseSummary collapses decision/outcome items into a terse prose line. A
// full implementation would invoke the LLM summary call (spec §5's third
// suspension point); this heuristic summary is the synchronous fallback
// used when that call is unavailable or already budgeted out.
func proseSummary(it *Item) string {
	text := it.CurrentText
	if len(text) > 280 {
		text = text[:280] + "…"
	}
	return fmt.Sprintf("step %d (%s): %s", it.StepInserted, it.Type, text)
}

// structuredDigest reduces an item to goals/entities/lessons only — the
// terminal, smallest representation.
func structuredDigest(it *Item) string {
	text := it.CurrentText
	if len(text) > 80 {
		text = text[:80] + "…"
	}
	return fmt.Sprintf("[digest %s] %s", it.Type, text)
}
