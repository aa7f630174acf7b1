// Package tunables centralizes the numeric defaults and thresholds spec §4
// names as constants, exposing them as a single loadable configuration so an
// operator can retune the drift, calibration, and reputation subsystems
// without a code change. Default returns the spec's defaults, and Load
// overlays a YAML file on them, so the file only needs to set the values an
// operator wants to override.
package tunables

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config collects the tunable constants referenced across core/weights,
// core/router, core/goal, core/calibration, and core/reputation.
type Config struct {
	Weights     WeightsConfig     `yaml:"weights"`
	Router      RouterConfig      `yaml:"router"`
	Goal        GoalConfig        `yaml:"goal"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Reputation  ReputationConfig  `yaml:"reputation"`
	Quality     QualityConfig     `yaml:"quality"`
	Context     ContextConfig     `yaml:"context"`
}

type WeightsConfig struct {
	// MomentumFactor weights the previous delta when applying a new update.
	MomentumFactor float64 `yaml:"momentum_factor"`
	// HomeostaticPull is the fraction of the current value pulled back
	// toward zero on every update.
	HomeostaticPull float64 `yaml:"homeostatic_pull"`
	// PosteriorDecay multiplies Beta/Gamma posteriors to model
	// non-stationarity.
	PosteriorDecay float64 `yaml:"posterior_decay"`
	// MaxAnchorPseudocount bounds the effective prior pseudo-count an anchor
	// can seed (alpha+beta <= this).
	MaxAnchorPseudocount float64 `yaml:"max_anchor_pseudocount"`
	// LossAversionFactor is the prospect-theory loss multiplier (2.25).
	LossAversionFactor float64 `yaml:"loss_aversion_factor"`
	// ProspectGainExponent and ProspectLossExponent are the prospect-theory
	// value-function exponents (0.88 by default, shared in this spec).
	ProspectGainExponent float64 `yaml:"prospect_gain_exponent"`
	ProspectLossExponent float64 `yaml:"prospect_loss_exponent"`
	// ProbabilityWeightExponent is the probability-weighting curvature
	// parameter (0.61).
	ProbabilityWeightExponent float64 `yaml:"probability_weight_exponent"`
	// AvailabilityDeviationThreshold flags a tool anomalous when its
	// recent-window success rate deviates from the long window by more.
	AvailabilityDeviationThreshold float64 `yaml:"availability_deviation_threshold"`
	// RingBufferSize bounds the WeightUpdate event ring buffer.
	RingBufferSize int `yaml:"ring_buffer_size"`
	// LearningRates maps a weight category to its base learning rate.
	LearningRates map[string]float64 `yaml:"learning_rates"`
}

type RouterConfig struct {
	SurpriseThreshold    float64 `yaml:"surprise_threshold"`
	AgreementThreshold   float64 `yaml:"agreement_threshold"`
	NoveltyThreshold     float64 `yaml:"novelty_threshold"`
	EnterpriseThreshold  float64 `yaml:"enterprise_threshold"`
	DriftThreshold       float64 `yaml:"drift_threshold"`
	SurpriseWindow       int     `yaml:"surprise_window"`
}

type GoalConfig struct {
	RelevanceWeight        float64 `yaml:"relevance_weight"`
	BudgetRatioWeight       float64 `yaml:"budget_ratio_weight"`
	TopicDivergenceWeight   float64 `yaml:"topic_divergence_weight"`
	QualityTrendWeight      float64 `yaml:"quality_trend_weight"`
	SurpriseWeight          float64 `yaml:"surprise_weight"`
	ConsecutiveDriftBonus   float64 `yaml:"consecutive_drift_bonus"`
	ConsecutiveDriftWindow  int     `yaml:"consecutive_drift_window"`
	LowDriftMax             float64 `yaml:"low_drift_max"`
	ModerateDriftMax        float64 `yaml:"moderate_drift_max"`
	HighDriftMax            float64 `yaml:"high_drift_max"`
	CriticalDriftMax        float64 `yaml:"critical_drift_max"`

	ExactHashWindow     int     `yaml:"exact_hash_window"`
	ExactHashRepeats    int     `yaml:"exact_hash_repeats"`
	SemanticWindow      int     `yaml:"semantic_window"`
	SemanticThreshold   float64 `yaml:"semantic_threshold"`
	SemanticMatches     int     `yaml:"semantic_matches"`
	OscillationWindow   int     `yaml:"oscillation_window"`
	OscillationCycles   int     `yaml:"oscillation_cycles"`
	DeadEndWindow       int     `yaml:"dead_end_window"`
	DeadEndRepeats      int     `yaml:"dead_end_repeats"`
	LoopEscalateConf    float64 `yaml:"loop_escalate_confidence"`
	LoopEscalateRepeats int     `yaml:"loop_escalate_repeats"`

	VelocityExtendFactor  float64 `yaml:"velocity_extend_factor"`
	VelocityTightenFactor float64 `yaml:"velocity_tighten_factor"`
	ExtendSteps           int     `yaml:"extend_steps"`
	ExtendTokenRatio      float64 `yaml:"extend_token_ratio"`
	TightenSteps          int     `yaml:"tighten_steps"`
	StuckStepsThreshold   int     `yaml:"stuck_steps_threshold"`
	SoftCapUtilization    float64 `yaml:"soft_cap_utilization"`
	MaxExpansionFactor    float64 `yaml:"max_expansion_factor"`
}

type CalibrationConfig struct {
	BinWidth            float64 `yaml:"bin_width"`
	TrustedMinObs       int     `yaml:"trusted_min_observations"`
	ECEAlarmThreshold   float64 `yaml:"ece_alarm_threshold"`
	CalibrationInterval int     `yaml:"calibration_interval"`
	PlattIterations     int     `yaml:"platt_iterations"`
	PlattLearningRate   float64 `yaml:"platt_learning_rate"`
	PlattEpsilon        float64 `yaml:"platt_epsilon"`
	OscillationWindow   int     `yaml:"oscillation_window"`
	OscillationFlipPct  float64 `yaml:"oscillation_flip_pct"`
	StagnationThreshold float64 `yaml:"stagnation_threshold"`
}

type ReputationConfig struct {
	TrustAlpha          float64 `yaml:"trust_alpha"`
	ConsistencyBeta     float64 `yaml:"consistency_beta"`
	ConsistencyWindow   int     `yaml:"consistency_window"`
	QuarantineThreshold int     `yaml:"quarantine_threshold"`
	BaseQuarantineSecs  float64 `yaml:"base_quarantine_seconds"`
	PostQuarantineFloor float64 `yaml:"post_quarantine_floor"`
	ForgiveTrust        float64 `yaml:"forgive_trust"`
}

type QualityConfig struct {
	OutlierZScore        float64 `yaml:"outlier_zscore"`
	OutlierConfidenceMul float64 `yaml:"outlier_confidence_multiplier"`
	WeightLLMSelfReport  float64 `yaml:"weight_llm_self_report"`
	WeightPopulation     float64 `yaml:"weight_population"`
	WeightCalibration    float64 `yaml:"weight_calibration"`
	WeightSurprise       float64 `yaml:"weight_surprise"`
	EscalateHumanUrgency float64 `yaml:"escalate_human_urgency"`
	EscalateSystem2      float64 `yaml:"escalate_system2_confidence"`
	RetryStrongerMax     float64 `yaml:"retry_stronger_model_max_confidence"`
	VerifyAgreementMax   float64 `yaml:"verify_output_max_agreement"`
	ProceedConfidentMin  float64 `yaml:"proceed_confident_min_confidence"`
	ProceedConfidentAgr  float64 `yaml:"proceed_confident_min_agreement"`
}

type ContextConfig struct {
	HotRatio             float64 `yaml:"hot_ratio"`
	WarmRatio            float64 `yaml:"warm_ratio"`
	ColdRatio            float64 `yaml:"cold_ratio"`
	WarmAgeSteps         int     `yaml:"warm_age_steps"`
	ColdAgeSteps         int     `yaml:"cold_age_steps"`
	L1AgeSteps           int     `yaml:"l1_age_steps"`
	L2AgeSteps           int     `yaml:"l2_age_steps"`
	L3AgeSteps           int     `yaml:"l3_age_steps"`
	RecencyHalfLifeSteps float64 `yaml:"recency_half_life_steps"`
	ImportanceWeights    [6]float64 `yaml:"importance_weights"`
	CheckpointInterval   int     `yaml:"checkpoint_interval"`
	CheckpointRingSize   int     `yaml:"checkpoint_ring_size"`
}

// Default returns the spec-mandated default configuration.
func Default() Config {
	return Config{
		Weights: WeightsConfig{
			MomentumFactor:                 0.7,
			HomeostaticPull:                0.01,
			PosteriorDecay:                 0.99,
			MaxAnchorPseudocount:           22,
			LossAversionFactor:             2.25,
			ProspectGainExponent:           0.88,
			ProspectLossExponent:           0.88,
			ProbabilityWeightExponent:      0.61,
			AvailabilityDeviationThreshold: 0.3,
			RingBufferSize:                 2048,
			LearningRates: map[string]float64{
				"behavioral":       0.05,
				"tool_preference":  0.1,
				"model_selection":  0.1,
				"goal_alignment":   0.05,
				"user_insight":     0.02,
				"enterprise":       0.01,
				"global":           0.02,
			},
		},
		Router: RouterConfig{
			SurpriseThreshold:   0.6,
			AgreementThreshold:  0.4,
			NoveltyThreshold:    0.7,
			EnterpriseThreshold: 0.8,
			DriftThreshold:      0.4,
			SurpriseWindow:      10,
		},
		Goal: GoalConfig{
			RelevanceWeight:        0.35,
			BudgetRatioWeight:      0.15,
			TopicDivergenceWeight:  0.20,
			QualityTrendWeight:     0.15,
			SurpriseWeight:         0.15,
			ConsecutiveDriftBonus:  0.15,
			ConsecutiveDriftWindow: 3,
			LowDriftMax:            0.3,
			ModerateDriftMax:       0.5,
			HighDriftMax:           0.7,
			CriticalDriftMax:       0.85,

			ExactHashWindow:     500,
			ExactHashRepeats:    3,
			SemanticWindow:      30,
			SemanticThreshold:   0.65,
			SemanticMatches:     2,
			OscillationWindow:   20,
			OscillationCycles:   2,
			DeadEndWindow:       15,
			DeadEndRepeats:      3,
			LoopEscalateConf:    0.85,
			LoopEscalateRepeats: 5,

			VelocityExtendFactor:  1.5,
			VelocityTightenFactor: 0.3,
			ExtendSteps:           3,
			ExtendTokenRatio:      0.10,
			TightenSteps:          2,
			StuckStepsThreshold:   3,
			SoftCapUtilization:    0.8,
			MaxExpansionFactor:    3.0,
		},
		Calibration: CalibrationConfig{
			BinWidth:            0.1,
			TrustedMinObs:       5,
			ECEAlarmThreshold:   0.15,
			CalibrationInterval: 20,
			PlattIterations:     20,
			PlattLearningRate:   0.1,
			PlattEpsilon:        1e-4,
			OscillationWindow:   20,
			OscillationFlipPct:  0.6,
			StagnationThreshold: 0.02,
		},
		Reputation: ReputationConfig{
			TrustAlpha:          0.1,
			ConsistencyBeta:     0.05,
			ConsistencyWindow:   20,
			QuarantineThreshold: 3,
			BaseQuarantineSecs:  60,
			PostQuarantineFloor: 0.2,
			ForgiveTrust:        0.3,
		},
		Quality: QualityConfig{
			OutlierZScore:        2.0,
			OutlierConfidenceMul: 0.2,
			WeightLLMSelfReport:  0.30,
			WeightPopulation:     0.30,
			WeightCalibration:    0.25,
			WeightSurprise:       0.15,
			EscalateHumanUrgency: 0.7,
			EscalateSystem2:      0.5,
			RetryStrongerMax:     0.3,
			VerifyAgreementMax:   0.4,
			ProceedConfidentMin:  0.8,
			ProceedConfidentAgr:  0.7,
		},
		Context: ContextConfig{
			HotRatio:             0.40,
			WarmRatio:            0.35,
			ColdRatio:            0.25,
			WarmAgeSteps:         10,
			ColdAgeSteps:         50,
			L1AgeSteps:           10,
			L2AgeSteps:           50,
			L3AgeSteps:           200,
			RecencyHalfLifeSteps: 30,
			ImportanceWeights:    [6]float64{0.25, 0.25, 0.20, 0.10, 0.10, 0.10},
			CheckpointInterval:   50,
			CheckpointRingSize:   20,
		},
	}
}

// Load reads a YAML file and overlays it on the spec defaults. A missing
// file is not an error; Default() is returned unchanged so deployments
// without a tunables file still get the documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("tunables: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("tunables: parse %s: %w", path, err)
	}
	return cfg, nil
}
