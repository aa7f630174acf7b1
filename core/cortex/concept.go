package cortex

import "strings"

// ConceptGraph activates concepts mentioned in context and spreads
// activation along associative edges, so related-but-unmentioned concepts
// surface with a decayed activation score (cross-modal enrichment, spec
// §4.1 stage 3 "enrich with cross-modal associations").
type ConceptGraph struct {
	arena      *Arena
	activation map[NodeHandle]float64
}

// NewConceptGraph returns an empty ConceptGraph. maxDegree bounds each
// concept's outgoing associative edges.
func NewConceptGraph(maxDegree int) *ConceptGraph {
	return &ConceptGraph{arena: NewArena(maxDegree), activation: make(map[NodeHandle]float64)}
}

// Remember registers label as a known concept without activating or
// connecting it, so a later Activate call recognizes it when it appears in
// text. Used to seed the graph with goal vocabulary so task novelty reflects
// distance from what the session already knows, not just what has been
// explicitly associated.
func (g *ConceptGraph) Remember(label string) {
	g.arena.Node(normalizeLabel(label))
}

// Associate records an associative edge between two concept labels,
// creating either node if new.
func (g *ConceptGraph) Associate(a, b string, weight float64) {
	ha := g.arena.Node(normalizeLabel(a))
	hb := g.arena.Node(normalizeLabel(b))
	g.arena.Connect(ha, hb, EdgeAssociative, weight)
	g.arena.Connect(hb, ha, EdgeAssociative, weight)
}

// Inhibit records an inhibitory edge: activating a suppresses b.
func (g *ConceptGraph) Inhibit(a, b string, weight float64) {
	ha := g.arena.Node(normalizeLabel(a))
	hb := g.arena.Node(normalizeLabel(b))
	g.arena.Connect(ha, hb, EdgeInhibitory, weight)
}

// Activate seeds labels found in text at full activation (1.0) and spreads
// activation one hop along associative edges (decayed by the edge weight)
// and suppresses inhibited targets. Returns the resulting activation map,
// label -> score in [0,1].
func (g *ConceptGraph) Activate(text string) map[string]float64 {
	lower := strings.ToLower(text)
	seeded := make([]NodeHandle, 0)
	for label, h := range g.arena.labelIndex {
		if strings.Contains(lower, label) {
			g.activation[h] = 1.0
			seeded = append(seeded, h)
		}
	}

	spread := make(map[NodeHandle]float64)
	for _, h := range seeded {
		for _, eh := range g.arena.Edges(h) {
			kind, to, weight, ok := g.arena.EdgeInfo(eh)
			if !ok {
				continue
			}
			switch kind {
			case EdgeAssociative:
				score := weight * 0.6 // one-hop decay
				if score > spread[to] {
					spread[to] = score
				}
			case EdgeInhibitory:
				spread[to] -= weight
			}
		}
	}
	for h, delta := range spread {
		current := g.activation[h]
		next := clamp01(current + delta)
		if next > current || delta < 0 {
			g.activation[h] = clamp01(next)
		}
	}

	out := make(map[string]float64, len(g.activation))
	for h, score := range g.activation {
		if score <= 0 {
			continue
		}
		out[g.arena.Label(h)] = score
	}
	return out
}

// Decay multiplies every concept's activation by rate, modeling activation
// fading between turns.
func (g *ConceptGraph) Decay(rate float64) {
	for h, score := range g.activation {
		next := score * rate
		if next < 1e-4 {
			delete(g.activation, h)
		} else {
			g.activation[h] = next
		}
	}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
