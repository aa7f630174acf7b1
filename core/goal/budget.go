package goal

import "github.com/goa-ai-labs/synapsecore/core/tunables"

// BudgetDecision is the adaptive budget's recommended adjustment.
type BudgetDecision string

const (
	BudgetHold   BudgetDecision = "hold"
	BudgetExtend BudgetDecision = "extend"
	BudgetTighten BudgetDecision = "tighten"
	BudgetStuck  BudgetDecision = "stuck"
	BudgetSoftCap BudgetDecision = "soft_cap"
	BudgetHardCap BudgetDecision = "hard_cap"
)

// Budget tracks remaining step/token budget, velocity (progress per step),
// and acceleration, and recommends extend/tighten/stuck/cap decisions.
type Budget struct {
	cfg tunables.GoalConfig

	initialSteps  int
	initialTokens int

	remainingSteps  int
	remainingTokens int
	totalSteps      int
	totalTokens     int

	velocityWindow []float64 // progress-per-step samples, oldest first
	lastVelocity   float64
	zeroVelocityRun int
}

// NewBudget returns a Budget seeded with the initial step/token allocation.
func NewBudget(cfg tunables.GoalConfig, steps, tokens int) *Budget {
	return &Budget{
		cfg:             cfg,
		initialSteps:    steps,
		initialTokens:   tokens,
		remainingSteps:  steps,
		remainingTokens: tokens,
		totalSteps:      steps,
		totalTokens:     tokens,
	}
}

// Observe records one step's progress (0..1, how much closer to the goal
// this step moved) and token spend, updates velocity/acceleration, and
// returns the recommended decision. Utilization caps (soft at 80%, hard at
// 100%) take precedence over velocity-driven extend/tighten.
func (b *Budget) Observe(progress float64, tokensSpent int) BudgetDecision {
	b.remainingSteps--
	b.remainingTokens -= tokensSpent

	b.velocityWindow = append(b.velocityWindow, progress)
	const velocityWindowSize = 5
	if over := len(b.velocityWindow) - velocityWindowSize; over > 0 {
		b.velocityWindow = b.velocityWindow[over:]
	}
	velocity := mean(b.velocityWindow)
	acceleration := velocity - b.lastVelocity
	b.lastVelocity = velocity

	if progress == 0 {
		b.zeroVelocityRun++
	} else {
		b.zeroVelocityRun = 0
	}

	utilization := b.utilization()

	switch {
	case utilization >= 1.0:
		return BudgetHardCap
	case b.cfg.StuckStepsThreshold > 0 && b.zeroVelocityRun >= b.cfg.StuckStepsThreshold:
		return BudgetStuck
	case utilization >= b.cfg.SoftCapUtilization:
		return BudgetSoftCap
	case velocity > b.cfg.VelocityExtendFactor*expectedVelocity(b):
		return b.extend()
	case velocity < b.cfg.VelocityTightenFactor*expectedVelocity(b) && acceleration <= 0:
		// A recovering velocity (acceleration > 0) holds instead of
		// tightening, so a dip below threshold that is already climbing
		// back out is not tightened until it stops accelerating.
		return b.tighten()
	default:
		return BudgetHold
	}
}

// expectedVelocity is a flat 1/initialSteps baseline: the progress per step
// that would exactly consume the initial step budget by completion.
func expectedVelocity(b *Budget) float64 {
	if b.initialSteps <= 0 {
		return 0
	}
	return 1.0 / float64(b.initialSteps)
}

func (b *Budget) extend() BudgetDecision {
	maxSteps := int(float64(b.initialSteps) * b.cfg.MaxExpansionFactor)
	maxTokens := int(float64(b.initialTokens) * b.cfg.MaxExpansionFactor)
	if b.totalSteps+b.cfg.ExtendSteps <= maxSteps {
		b.totalSteps += b.cfg.ExtendSteps
		b.remainingSteps += b.cfg.ExtendSteps
	}
	extraTokens := int(float64(b.initialTokens) * b.cfg.ExtendTokenRatio)
	if b.totalTokens+extraTokens <= maxTokens {
		b.totalTokens += extraTokens
		b.remainingTokens += extraTokens
	}
	return BudgetExtend
}

func (b *Budget) tighten() BudgetDecision {
	b.totalSteps -= b.cfg.TightenSteps
	if b.totalSteps < 1 {
		b.totalSteps = 1
	}
	return BudgetTighten
}

// utilization returns the fraction of the total step/token budget consumed
// so far, the max of the two dimensions.
func (b *Budget) utilization() float64 {
	stepUtil, tokenUtil := 0.0, 0.0
	if b.totalSteps > 0 {
		stepUtil = 1 - float64(b.remainingSteps)/float64(b.totalSteps)
	}
	if b.totalTokens > 0 {
		tokenUtil = 1 - float64(b.remainingTokens)/float64(b.totalTokens)
	}
	if stepUtil > tokenUtil {
		return stepUtil
	}
	return tokenUtil
}

// Remaining returns the current remaining step and token allocation.
func (b *Budget) Remaining() (steps, tokens int) {
	return b.remainingSteps, b.remainingTokens
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// BudgetSnapshot is the serializable state of a Budget, used by the
// session-level Snapshot/Restore contract (spec §6).
type BudgetSnapshot struct {
	InitialSteps    int
	InitialTokens   int
	RemainingSteps  int
	RemainingTokens int
	TotalSteps      int
	TotalTokens     int
	VelocityWindow  []float64
	LastVelocity    float64
	ZeroVelocityRun int
}

// Snapshot returns a copy of b's mutable state.
func (b *Budget) Snapshot() BudgetSnapshot {
	return BudgetSnapshot{
		InitialSteps:    b.initialSteps,
		InitialTokens:   b.initialTokens,
		RemainingSteps:  b.remainingSteps,
		RemainingTokens: b.remainingTokens,
		TotalSteps:      b.totalSteps,
		TotalTokens:     b.totalTokens,
		VelocityWindow:  append([]float64(nil), b.velocityWindow...),
		LastVelocity:    b.lastVelocity,
		ZeroVelocityRun: b.zeroVelocityRun,
	}
}

// Restore overwrites b's mutable state from snap. Callers must ensure no
// concurrent writer.
func (b *Budget) Restore(snap BudgetSnapshot) {
	b.initialSteps = snap.InitialSteps
	b.initialTokens = snap.InitialTokens
	b.remainingSteps = snap.RemainingSteps
	b.remainingTokens = snap.RemainingTokens
	b.totalSteps = snap.TotalSteps
	b.totalTokens = snap.TotalTokens
	b.velocityWindow = append([]float64(nil), snap.VelocityWindow...)
	b.lastVelocity = snap.LastVelocity
	b.zeroVelocityRun = snap.ZeroVelocityRun
}
