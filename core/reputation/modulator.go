package reputation

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ModType is one of the five modulation operators.
type ModType string

const (
	ModActivate ModType = "activate"
	ModSilence  ModType = "silence"
	ModAmplify  ModType = "amplify"
	ModDampen   ModType = "dampen"
	ModClamp    ModType = "clamp"
)

// Scope is the temporal lifetime of a Modulation.
type Scope string

const (
	ScopeTurn        Scope = "turn"
	ScopeGoal        Scope = "goal"
	ScopeSession     Scope = "session"
	ScopePermanent   Scope = "permanent"
	ScopeConditional Scope = "conditional"
)

// SafetyPolicy gates which modulation types the overlay will apply to
// safety-critical keys.
type SafetyPolicy string

const (
	SafetyStandard SafetyPolicy = "standard"
	SafetyStrict   SafetyPolicy = "strict"
	SafetyLocked   SafetyPolicy = "locked"
)

// Modulation is a typed override on one weight key.
type Modulation struct {
	ID        string
	Type      ModType
	Target    string // weight key, possibly a glob pattern for enterprise policies
	Strength  float64 // Activate value / Amplify or Dampen factor / Clamp value
	Scope     Scope
	ScopeParam string // goal id for ScopeGoal, remaining turn count for ScopeTurn, condition expr for ScopeConditional
	Priority  int
	Source    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Condition string // "var op value" for ScopeConditional, evaluated against context vars
}

// Overlay composes modulations and applies them over a weight value set.
type Overlay struct {
	mu          sync.Mutex
	modulations map[string]*Modulation // by ID
	safety      SafetyPolicy
	safetyKeys  map[string]struct{}
}

// NewOverlay returns an Overlay with the given safety policy and
// safety-critical key set.
func NewOverlay(safety SafetyPolicy, safetyCriticalKeys []string) *Overlay {
	keys := make(map[string]struct{}, len(safetyCriticalKeys))
	for _, k := range safetyCriticalKeys {
		keys[k] = struct{}{}
	}
	return &Overlay{modulations: make(map[string]*Modulation), safety: safety, safetyKeys: keys}
}

// Add registers a modulation.
func (o *Overlay) Add(m Modulation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modulations[m.ID] = &m
}

// Remove deletes a modulation by id.
func (o *Overlay) Remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.modulations, id)
}

// Tick decrements turn-scope modulations and removes any that expire,
// removes goal-scope modulations whose ScopeParam no longer matches
// currentGoalID.
func (o *Overlay) Tick(currentGoalID string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, m := range o.modulations {
		if m.ExpiresAt != nil && !now.Before(*m.ExpiresAt) {
			delete(o.modulations, id)
			continue
		}
		switch m.Scope {
		case ScopeTurn:
			remaining, _ := strconv.Atoi(m.ScopeParam)
			remaining--
			if remaining <= 0 {
				delete(o.modulations, id)
				continue
			}
			m.ScopeParam = strconv.Itoa(remaining)
		case ScopeGoal:
			if m.ScopeParam != currentGoalID {
				delete(o.modulations, id)
			}
		}
	}
}

// Context is the variable set conditional modulations and enterprise
// conditions are evaluated against.
type Context map[string]float64

// Apply composes every modulation targeting each key in weights and returns
// the effective weight set. Enterprise policies are expanded from
// enterprisePolicies (glob target patterns, priority >= 100) before
// resolution.
func (o *Overlay) Apply(weights map[string]float64, ctx Context, enterprisePolicies []EnterprisePolicy) map[string]float64 {
	o.mu.Lock()
	mods := make([]*Modulation, 0, len(o.modulations))
	for _, m := range o.modulations {
		mods = append(mods, m)
	}
	o.mu.Unlock()

	derived := expandEnterprisePolicies(enterprisePolicies, weights, ctx)
	mods = append(mods, derived...)

	byKey := make(map[string][]*Modulation)
	for _, m := range mods {
		if m.Scope == ScopeConditional && !evalCondition(m.Condition, ctx) {
			continue
		}
		byKey[m.Target] = append(byKey[m.Target], m)
	}

	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = o.resolve(k, v, byKey[k])
	}
	return out
}

func (o *Overlay) resolve(key string, value float64, candidates []*Modulation) float64 {
	if len(candidates) == 0 {
		return value
	}
	safetyCritical := false
	if _, ok := o.safetyKeys[key]; ok {
		safetyCritical = true
	}
	blocked := safetyCritical && (o.safety == SafetyStrict || o.safety == SafetyLocked)

	var clamps []*Modulation
	var others []*Modulation
	for _, m := range candidates {
		if blocked && (m.Type == ModSilence || m.Type == ModDampen) {
			continue
		}
		if m.Type == ModClamp {
			clamps = append(clamps, m)
		} else {
			others = append(others, m)
		}
	}

	// Clamp always wins; among several Clamps, the most recent wins.
	if len(clamps) > 0 {
		sort.Slice(clamps, func(i, j int) bool { return clamps[i].CreatedAt.After(clamps[j].CreatedAt) })
		return clamps[0].Strength
	}
	if len(others) == 0 {
		return value
	}

	sort.SliceStable(others, func(i, j int) bool {
		if others[i].Priority != others[j].Priority {
			return others[i].Priority > others[j].Priority
		}
		return others[i].CreatedAt.After(others[j].CreatedAt)
	})
	winner := others[0]
	return applyMod(winner, value)
}

func applyMod(m *Modulation, value float64) float64 {
	switch m.Type {
	case ModActivate:
		strength := m.Strength
		if strength < 0 {
			strength = 0
		}
		if strength > 1 {
			strength = 1
		}
		return strength
	case ModSilence:
		return 0
	case ModAmplify:
		factor := m.Strength
		if factor < 1 {
			factor = 1
		}
		return value * factor
	case ModDampen:
		factor := m.Strength
		if factor < 0 {
			factor = 0
		}
		if factor > 1 {
			factor = 1
		}
		return value * factor
	default:
		return value
	}
}

// evalCondition evaluates a simple "var op value" expression against ctx.
// Supported ops: == != < <= > >=. An unparseable expression is treated as
// false (the modulation does not apply) rather than a panic, since
// malformed conditions are an operator error, not an invariant violation.
func evalCondition(expr string, ctx Context) bool {
	if expr == "" {
		return true
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if idx := strings.Index(expr, op); idx >= 0 {
			varName := strings.TrimSpace(expr[:idx])
			rhs := strings.TrimSpace(expr[idx+len(op):])
			lhs, ok := ctx[varName]
			if !ok {
				return false
			}
			rhsVal, err := strconv.ParseFloat(rhs, 64)
			if err != nil {
				return false
			}
			switch op {
			case "==":
				return lhs == rhsVal
			case "!=":
				return lhs != rhsVal
			case "<=":
				return lhs <= rhsVal
			case ">=":
				return lhs >= rhsVal
			case "<":
				return lhs < rhsVal
			case ">":
				return lhs > rhsVal
			}
		}
	}
	return false
}

// EnterprisePolicy is a glob-pattern rule that, when its optional condition
// matches, generates a derived Modulation with priority >= 100.
type EnterprisePolicy struct {
	ID        string
	Pattern   string // key glob with *, ?, […]
	Type      ModType
	Strength  float64
	Priority  int
	Source    string
	// ConditionVar/ConditionSuffix encode qualifiers like "risk__gt" meaning
	// ctx["risk"] > Threshold.
	ConditionVar    string
	ConditionSuffix string // "__lt", "__gt", "__lte", "__gte", "__eq", "__ne", or "" for unconditional
	Threshold       float64
}

func expandEnterprisePolicies(policies []EnterprisePolicy, weights map[string]float64, ctx Context) []*Modulation {
	var derived []*Modulation
	for _, p := range policies {
		if p.Priority < 100 {
			p.Priority = 100
		}
		if p.ConditionVar != "" {
			v, ok := ctx[p.ConditionVar]
			if !ok || !matchesSuffix(p.ConditionSuffix, v, p.Threshold) {
				continue
			}
		}
		for key := range weights {
			if globMatch(p.Pattern, key) {
				derived = append(derived, &Modulation{
					ID: p.ID + ":" + key, Type: p.Type, Target: key, Strength: p.Strength,
					Scope: ScopePermanent, Priority: p.Priority, Source: p.Source, CreatedAt: time.Now(),
				})
			}
		}
	}
	return derived
}

func matchesSuffix(suffix string, v, threshold float64) bool {
	switch suffix {
	case "__lt":
		return v < threshold
	case "__gt":
		return v > threshold
	case "__lte":
		return v <= threshold
	case "__gte":
		return v >= threshold
	case "__ne":
		return v != threshold
	case "", "__eq":
		return v == threshold
	default:
		return false
	}
}

// globMatch matches pattern (supporting *, ?, […] via filepath.Match
// semantics) against a dotted weight key.
func globMatch(pattern, key string) bool {
	ok, err := filepath.Match(pattern, key)
	return err == nil && ok
}
