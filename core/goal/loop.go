package goal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// Step is one logged action fed to the loop detector.
type Step struct {
	Description string
	Output      string
	Error       string
}

// LoopAction is the loop detector's recommended response.
type LoopAction string

const (
	LoopActionNone      LoopAction = "none"
	LoopActionReplan    LoopAction = "replan"
	LoopActionBacktrack LoopAction = "backtrack"
	LoopActionEscalate  LoopAction = "escalate"
)

// LoopResult is the fused output of the four parallel detectors.
type LoopResult struct {
	Confidence  float64
	ActiveCount int
	TotalRepeats int
	Action      LoopAction
	DeadEnd     bool
}

// Detector runs the four parallel loop detectors over bounded windows of
// recent steps: exact-hash, semantic Jaccard, oscillation, and dead-end.
type Detector struct {
	cfg tunables.GoalConfig

	hashWindow []string // normalized "description|output" hashes, oldest first
	hashCounts map[string]int

	semanticWindow []DNA // token sets of recent steps, oldest first

	seqWindow []string // normalized descriptions for oscillation, oldest first

	errorWindow []string // error strings for dead-end, oldest first
}

// NewDetector returns a Detector configured with cfg.
func NewDetector(cfg tunables.GoalConfig) *Detector {
	return &Detector{
		cfg:        cfg,
		hashCounts: make(map[string]int),
	}
}

// Observe feeds one step into all four windows and returns the fused
// detection result.
func (d *Detector) Observe(s Step) LoopResult {
	normalized := strings.ToLower(strings.TrimSpace(s.Description)) + "|" + strings.ToLower(strings.TrimSpace(s.Output))
	h := sha256Hex(normalized)

	exactHits := d.observeHash(h)
	semanticHits := d.observeSemantic(s.Description)
	oscillationHits := d.observeOscillation(s.Description)
	deadEnd, deadEndHits := d.observeDeadEnd(s.Error)

	var active []float64
	if exactHits >= d.cfg.ExactHashRepeats {
		active = append(active, confidenceFromHits(exactHits, d.cfg.ExactHashRepeats))
	}
	if semanticHits >= d.cfg.SemanticMatches {
		active = append(active, confidenceFromHits(semanticHits, d.cfg.SemanticMatches))
	}
	if oscillationHits >= d.cfg.OscillationCycles {
		active = append(active, confidenceFromHits(oscillationHits, d.cfg.OscillationCycles))
	}
	if deadEnd {
		active = append(active, confidenceFromHits(deadEndHits, d.cfg.DeadEndRepeats))
	}

	totalRepeats := exactHits + semanticHits + oscillationHits + deadEndHits

	if len(active) == 0 {
		return LoopResult{Action: LoopActionNone, TotalRepeats: totalRepeats}
	}

	sum := 0.0
	for _, c := range active {
		sum += c
	}
	mean := sum / float64(len(active))
	confidence := mean + 0.1*float64(len(active)-1)
	if confidence > 1 {
		confidence = 1
	}

	action := LoopActionReplan
	switch {
	case confidence > d.cfg.LoopEscalateConf || totalRepeats > d.cfg.LoopEscalateRepeats:
		action = LoopActionEscalate
	case deadEnd:
		action = LoopActionBacktrack
	}

	return LoopResult{
		Confidence:   confidence,
		ActiveCount:  len(active),
		TotalRepeats: totalRepeats,
		Action:       action,
		DeadEnd:      deadEnd,
	}
}

func confidenceFromHits(hits, threshold int) float64 {
	if threshold <= 0 {
		threshold = 1
	}
	c := float64(hits) / float64(threshold)
	if c > 1 {
		c = 1
	}
	return c
}

func (d *Detector) observeHash(h string) int {
	window := d.cfg.ExactHashWindow
	if window <= 0 {
		window = 500
	}
	d.hashWindow = append(d.hashWindow, h)
	d.hashCounts[h]++
	if over := len(d.hashWindow) - window; over > 0 {
		for _, old := range d.hashWindow[:over] {
			d.hashCounts[old]--
			if d.hashCounts[old] <= 0 {
				delete(d.hashCounts, old)
			}
		}
		d.hashWindow = d.hashWindow[over:]
	}
	return d.hashCounts[h]
}

func (d *Detector) observeSemantic(description string) int {
	window := d.cfg.SemanticWindow
	if window <= 0 {
		window = 30
	}
	cur := NewDNA(description)
	matches := 0
	for _, prior := range d.semanticWindow {
		if cur.Similarity(prior) >= d.cfg.SemanticThreshold {
			matches++
		}
	}
	d.semanticWindow = append(d.semanticWindow, cur)
	if over := len(d.semanticWindow) - window; over > 0 {
		d.semanticWindow = d.semanticWindow[over:]
	}
	return matches
}

// observeOscillation looks for an A/B/A/B-style period of 2, 3, or 4 over
// the oscillation window, counting how many full cycles are present.
func (d *Detector) observeOscillation(description string) int {
	window := d.cfg.OscillationWindow
	if window <= 0 {
		window = 20
	}
	norm := strings.ToLower(strings.TrimSpace(description))
	d.seqWindow = append(d.seqWindow, norm)
	if over := len(d.seqWindow) - window; over > 0 {
		d.seqWindow = d.seqWindow[over:]
	}

	best := 0
	for _, period := range []int{2, 3, 4} {
		cycles := oscillationCycles(d.seqWindow, period)
		if cycles > best {
			best = cycles
		}
	}
	return best
}

// oscillationCycles counts how many times the most recent `period` entries
// repeat contiguously, scanning backward from the end of seq.
func oscillationCycles(seq []string, period int) int {
	n := len(seq)
	if n < period*2 {
		return 0
	}
	pattern := seq[n-period:]
	cycles := 1
	for start := n - period*2; start >= 0; start -= period {
		candidate := seq[start : start+period]
		if !equalSlices(candidate, pattern) {
			break
		}
		cycles++
	}
	return cycles - 1
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d *Detector) observeDeadEnd(errStr string) (bool, int) {
	window := d.cfg.DeadEndWindow
	if window <= 0 {
		window = 15
	}
	if errStr == "" {
		d.errorWindow = append(d.errorWindow, "")
		if over := len(d.errorWindow) - window; over > 0 {
			d.errorWindow = d.errorWindow[over:]
		}
		return false, 0
	}
	d.errorWindow = append(d.errorWindow, errStr)
	if over := len(d.errorWindow) - window; over > 0 {
		d.errorWindow = d.errorWindow[over:]
	}
	count := 0
	for _, e := range d.errorWindow {
		if e == errStr {
			count++
		}
	}
	threshold := d.cfg.DeadEndRepeats
	if threshold <= 0 {
		threshold = 3
	}
	return count >= threshold, count
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DetectorSnapshot is the serializable state of a Detector's four windows,
// used by the session-level Snapshot/Restore contract (spec §6).
type DetectorSnapshot struct {
	HashWindow     []string
	HashCounts     map[string]int
	SemanticWindow []DNA
	SeqWindow      []string
	ErrorWindow    []string
}

// Snapshot returns a deep copy of d's window state.
func (d *Detector) Snapshot() DetectorSnapshot {
	snap := DetectorSnapshot{
		HashWindow:  append([]string(nil), d.hashWindow...),
		HashCounts:  make(map[string]int, len(d.hashCounts)),
		SeqWindow:   append([]string(nil), d.seqWindow...),
		ErrorWindow: append([]string(nil), d.errorWindow...),
	}
	for k, v := range d.hashCounts {
		snap.HashCounts[k] = v
	}
	snap.SemanticWindow = append([]DNA(nil), d.semanticWindow...)
	return snap
}

// Restore overwrites d's window state from a deep copy of snap. Callers
// must ensure no concurrent writer.
func (d *Detector) Restore(snap DetectorSnapshot) {
	d.hashWindow = append([]string(nil), snap.HashWindow...)
	d.hashCounts = make(map[string]int, len(snap.HashCounts))
	for k, v := range snap.HashCounts {
		d.hashCounts[k] = v
	}
	d.semanticWindow = append([]DNA(nil), snap.SemanticWindow...)
	d.seqWindow = append([]string(nil), snap.SeqWindow...)
	d.errorWindow = append([]string(nil), snap.ErrorWindow...)
}
