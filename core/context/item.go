// Package context implements the context-window packer (spec §4.8):
// hot/warm/cold temperature tiers with independent token budgets, L0-L3
// progressive compression, six-factor importance scoring, and a bounded
// checkpoint ring.
package context

import (
	"strings"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// ItemType classifies a context entry.
type ItemType string

const (
	ItemUser       ItemType = "user"
	ItemAssistant  ItemType = "assistant"
	ItemToolCall   ItemType = "tool_call"
	ItemToolResult ItemType = "tool_result"
	ItemDecision   ItemType = "decision"
)

// CompressionLevel is one of the four progressive compression levels.
type CompressionLevel int

const (
	L0Verbatim CompressionLevel = iota
	L1ObservationMasked
	L2ProseSummary
	L3StructuredDigest
)

// Item is one hot/warm/cold memory entry. OriginalText never changes after
// insertion; CurrentText and Level only ever progress forward.
type Item struct {
	ID               string
	Type             ItemType
	OriginalText     string
	CurrentText      string
	StepInserted     int
	TokensL0         int
	TokensCurrent    int
	Importance       float64
	ReferenceCount   int
	Decision         bool
	Level            CompressionLevel
	Tier             Tier
}

// Tier is the temperature tier an item currently occupies.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// NewItem creates an L0 item at insertion time. Token counts are estimated
// with EstimateTokens; callers with an exact tokenizer may
// overwrite TokensL0/TokensCurrent after construction.
func NewItem(id string, typ ItemType, text string, step int) *Item {
	tokens := EstimateTokens(text)
	return &Item{
		ID: id, Type: typ, OriginalText: text, CurrentText: text,
		StepInserted: step, TokensL0: tokens, TokensCurrent: tokens,
		Level: L0Verbatim, Tier: TierHot,
	}
}

// EstimateTokens is a cheap token-count heuristic: roughly 4 characters per
// token, matching the order of magnitude of common BPE tokenizers without
// depending on a vendor-specific tokenizer (out of scope per spec §1).
func EstimateTokens(text string) int {
	n := len(strings.Fields(text))
	charEstimate := (len(text) + 3) / 4
	if n > charEstimate {
		return n
	}
	return charEstimate
}

// AgeSteps returns currentStep - StepInserted.
func (it *Item) AgeSteps(currentStep int) int {
	return currentStep - it.StepInserted
}

// UpdateTier demotes the item hot->warm->cold based on age thresholds.
func (it *Item) UpdateTier(currentStep int, cfg tunables.ContextConfig) {
	age := it.AgeSteps(currentStep)
	switch {
	case age >= cfg.ColdAgeSteps:
		it.Tier = TierCold
	case age >= cfg.WarmAgeSteps:
		it.Tier = TierWarm
	default:
		it.Tier = TierHot
	}
}
