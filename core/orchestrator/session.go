// Package orchestrator drives the fourteen-stage per-turn pipeline (spec
// §4.1) that ties every other core package into one Session: implicit
// feedback, goal tracking, attention/concept enrichment, prediction,
// dual-process routing, tool filtering, the LLM call, tool execution,
// response assembly, token accounting, quality estimation, plasticity
// updates, goal alignment, and consolidation.
package orchestrator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/adaptation"
	"github.com/goa-ai-labs/synapsecore/core/calibration"
	"github.com/goa-ai-labs/synapsecore/core/context"
	"github.com/goa-ai-labs/synapsecore/core/cortex"
	"github.com/goa-ai-labs/synapsecore/core/goal"
	"github.com/goa-ai-labs/synapsecore/core/llmcontract"
	"github.com/goa-ai-labs/synapsecore/core/observability"
	"github.com/goa-ai-labs/synapsecore/core/quality"
	"github.com/goa-ai-labs/synapsecore/core/reputation"
	"github.com/goa-ai-labs/synapsecore/core/router"
	"github.com/goa-ai-labs/synapsecore/core/streaming"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	"github.com/goa-ai-labs/synapsecore/core/trajectory"
	"github.com/goa-ai-labs/synapsecore/core/tunables"
	"github.com/goa-ai-labs/synapsecore/core/weights"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/reminder"
)

// Config bundles everything a Session needs beyond its two external
// collaborators (the LLM client and the tool executor).
type Config struct {
	Tunables tunables.Config

	SystemPrompt        string
	ModelContextWindow  int
	OutputReservation   int
	SystemPromptBudget  int
	InitialBudgetSteps  int
	InitialBudgetTokens int

	// ThompsonSpeedWeight blends latency into tool-selection sampling; 0
	// selects purely on the success-rate posterior.
	ThompsonSpeedWeight float64

	ToolCharLimits context.ToolCharLimits
	Columns        []cortex.Column
	ConceptMaxDegree int
	ResourceBase   cortex.Envelope

	EnterprisePolicies []reputation.EnterprisePolicy
	SafetyCriticalKeys []string
	Safety             reputation.SafetyPolicy

	// Logger, Metrics, and Tracer wire the Session to the ambient
	// observability stack; a nil field defaults to the corresponding Noop
	// implementation in New.
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer
}

// DefaultConfig returns a Config wired to the spec defaults, a single
// "general" column, and a permissive safety policy.
func DefaultConfig() Config {
	return Config{
		Tunables:            tunables.Default(),
		ModelContextWindow:  128000,
		OutputReservation:   4000,
		SystemPromptBudget:  1000,
		InitialBudgetSteps:  20,
		InitialBudgetTokens: 60000,
		ThompsonSpeedWeight: 0.2,
		Columns: []cortex.Column{
			{Name: "general", ModelTier: "worker"},
		},
		ConceptMaxDegree: 12,
		ResourceBase:     cortex.Envelope{PromptTokens: 8000, RetrievalTokens: 2000, DeadlineMs: 30000},
		Safety:           reputation.SafetyStandard,
	}
}

// Session owns every per-conversation engine instance and drives RunTurn.
// Engines below the weights/reputation/calibration line are cheap enough
// to be per-session rather than process-wide; core/trajectory is the
// process-wide counterpart that seeds cross-session priors.
type Session struct {
	mu sync.Mutex

	ID  string
	cfg Config

	Weights     *weights.Engine
	Router      *router.Router
	Calibration *calibration.Engine
	Reputation  *reputation.Engine
	Overlay     *reputation.Overlay
	Quality     tunables.QualityConfig

	ContextStore *context.Store
	Concepts     *cortex.ConceptGraph
	Columns      *cortex.Manager
	Resources    *cortex.ResourceMap
	Adaptation   *adaptation.Filters

	Goal *goal.State

	// Reminders holds the moderate-drift "inject goal reminder" response
	// (spec §4.4): stage 13 adds a reminder when drift severity is
	// moderate, and buildRequest splices the current snapshot into the
	// next turn's assembled messages.
	Reminders *reminder.Engine

	LLM   *llmcontract.Client
	Tools toolcontract.Executor

	// Health is optional: when set, stage 5 folds Health.Degraded() into
	// the enterprise-safety signal so a circuit-open provider biases
	// routing toward System-2 instead of silently retrying forever
	// (spec §9 supplemented feature, core/llmcontract.HealthMonitor).
	Health *llmcontract.HealthMonitor

	// StreamOut is optional: when set, stage 7 calls LLM.Stream instead of
	// LLM.Complete and republishes each Chunk here as it arrives, backing
	// the `stream_turn` external operation (spec §6). Nil means ordinary
	// non-streaming turns.
	StreamOut streaming.Publisher

	// Aggregator is optional: when set, stage 12 blends the opt-in
	// process-wide weight aggregator's GlobalNudge into its Update calls and
	// reports this session's own deltas back to it (spec §5 "Shared
	// resources" (b)). weightReporter is created lazily on first use so a
	// Session that never opts in never allocates one.
	Aggregator     *weights.Aggregator
	weightReporter *weights.Reporter

	// Trajectory is optional: when set, it is this session's handle onto
	// the process-wide, per-user trajectory model (spec §5(a)). Stage 5
	// prefers Trajectory.Novelty over the concept-graph activation fallback
	// for the task-novelty routing signal, and each turn's message is fed
	// back in via ObserveTask so later turns' predictions improve.
	Trajectory *trajectory.Handle

	// Bus, Decisions, and Audit are the on_decision/on_metric/on_audit
	// surface (spec §6). RunTurn publishes each stage's routing/drift/
	// budget decision to Bus; Decisions is registered as a Bus subscriber
	// and Audit is appended to directly through observability.PublishAudit,
	// so a caller can replay a session's decisions or read its chain-hashed
	// audit trail without threading them through every stage call.
	Bus       observability.Bus
	Decisions *observability.DecisionLog
	Audit     *observability.AuditLog

	// Logger, Metrics, and Tracer are the ambient OTEL-facing observability
	// stack (spec's ambient "logging the way the teacher does it"): unlike
	// Bus/Decisions/Audit, which are structured and replayable, these back
	// ordinary operational logs, counters/timers/gauges, and trace spans.
	// New defaults all three to their Noop implementation, so a Session
	// that never configures them costs nothing; set them directly (or via
	// Config) to route to Clue/OTEL.
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer

	step int

	// prevAgreement starts at 1.0 (full agreement): a session's first turn
	// has no prior population estimate, and the router's agreement signal
	// escalates on low agreement, so an unseen prior must read as "no
	// reason to escalate" rather than as disagreement.
	prevAgreement    float64
	prevStepErrored  bool
	qualityHistory   []float64
	enterpriseSafety float64
	lastRole         router.Role
	lastDriftScore   float64

	rng *rand.Rand
}

// SessionSnapshot is the serializable form of a Session's engine state,
// used by the session-level Snapshot/Restore contract (spec §6). It holds
// the weight engine, the goal state, the step counter, and the per-turn
// routing signals only. The Router, Calibration, Reputation, Overlay,
// ContextStore, Concepts, Columns, Resources, Adaptation, and Reminders
// state is not captured, and Restore leaves those engines as they are in
// the receiving Session.
type SessionSnapshot struct {
	Weights         weights.EngineSnapshot
	Goal            *goal.Snapshot
	Step            int
	PrevAgreement   float64
	PrevStepErrored bool
	QualityHistory  []float64
	EnterpriseSafety float64
	LastRole        router.Role
	LastDriftScore  float64
}

// Snapshot returns a deep copy of s's restorable state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var goalSnap *goal.Snapshot
	if s.Goal != nil {
		snap := s.Goal.Snapshot()
		goalSnap = &snap
	}
	return SessionSnapshot{
		Weights:          s.Weights.Snapshot(),
		Goal:             goalSnap,
		Step:             s.step,
		PrevAgreement:    s.prevAgreement,
		PrevStepErrored:  s.prevStepErrored,
		QualityHistory:   append([]float64(nil), s.qualityHistory...),
		EnterpriseSafety: s.enterpriseSafety,
		LastRole:         s.lastRole,
		LastDriftScore:   s.lastDriftScore,
	}
}

// Restore overwrites s's state from snap. If snap.Goal is non-nil and s has
// no live Goal yet, Restore allocates one from snap.Goal.Text and the
// session's configured budget before restoring into it.
func (s *Session) Restore(snap SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Weights.Restore(snap.Weights)
	if snap.Goal != nil {
		if s.Goal == nil {
			s.Goal = goal.NewState(s.cfg.Tunables.Goal, snap.Goal.Text, s.cfg.InitialBudgetSteps, s.cfg.InitialBudgetTokens)
		}
		s.Goal.Restore(*snap.Goal)
	}
	s.step = snap.Step
	s.prevAgreement = snap.PrevAgreement
	s.prevStepErrored = snap.PrevStepErrored
	s.qualityHistory = append([]float64(nil), snap.QualityHistory...)
	s.enterpriseSafety = snap.EnterpriseSafety
	s.lastRole = snap.LastRole
	s.lastDriftScore = snap.LastDriftScore
	return nil
}

// StepCount returns the session's current step counter.
func (s *Session) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// New returns a Session wired to cfg, a fresh set of per-session engines, and
// the two external collaborators. id should be the durable session/run
// identifier used for snapshot and observability correlation.
func New(id string, cfg Config, llm *llmcontract.Client, tools toolcontract.Executor) *Session {
	t := cfg.Tunables

	bus := observability.NewBus()
	decisions := observability.NewDecisionLog()
	// audit is appended to directly via PublishAudit, which publishes the
	// resulting entry itself; it is not also registered as a bus
	// subscriber, or every entry would be appended twice.
	audit := observability.NewAuditLog()
	// Registration errors can only come from a closed subscription, which
	// cannot happen for a subscriber registered at construction time.
	_, _ = bus.Register(decisions)

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}

	return &Session{
		ID:            id,
		cfg:           cfg,
		Weights:       weights.New(t.Weights),
		Router:        router.New(t.Router),
		Calibration:   calibration.New(t.Calibration),
		Reputation:    reputation.New(t.Reputation),
		Overlay:       reputation.NewOverlay(cfg.Safety, cfg.SafetyCriticalKeys),
		Quality:       t.Quality,
		ContextStore:  context.NewStore(t.Context, cfg.ToolCharLimits),
		Concepts:      cortex.NewConceptGraph(cfg.ConceptMaxDegree),
		Columns:       cortex.NewManager(cfg.Columns),
		Resources:     cortex.NewResourceMap(cfg.ResourceBase),
		Bus:           bus,
		Decisions:     decisions,
		Audit:         audit,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
		Adaptation:    adaptation.NewFilters(),
		Reminders:     reminder.NewEngine(),
		LLM:           llm,
		Tools:         tools,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		prevAgreement: 1.0,
	}
}
