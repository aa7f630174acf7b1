package calibration

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestScenarioFCalibrationCycle(t *testing.T) {
	cfg := tunables.Default().Calibration
	cfg.CalibrationInterval = 25
	e := New(cfg)

	for i := 0; i < 25; i++ {
		success := i < 15
		e.RecordBin("tool_success", 0.9, success)
	}

	ece := e.ECE("tool_success")
	require.InDelta(t, 0.3, ece, 0.01)
	require.True(t, e.ECEAlarm("tool_success"))

	adjusted := e.Adjust("tool_success", 0.9)
	require.Less(t, adjusted, 0.9)
}

func TestPlattBoundsAlwaysInOpenUnitInterval(t *testing.T) {
	cfg := tunables.Default().Calibration
	e := New(cfg)
	for i := 0; i < 30; i++ {
		e.RecordBin("d", 0.5, i%3 == 0)
	}

	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)
	props.Property("adjust(p) in (0,1) for any raw p", prop.ForAll(
		func(p float64) bool {
			adjusted := e.Adjust("d", p)
			return adjusted > 0 && adjusted < 1
		},
		gen.Float64Range(0, 1),
	))
	props.TestingRun(t)
}

func TestPredictionOutcomeMatchedAtMostOnce(t *testing.T) {
	e := New(tunables.Default().Calibration)
	p := e.Predict("tool_success", RankSuccess, 0.8, 500, 0.9, "t", "m")

	_, ok := e.Compare(p.ID, Outcome{ActualRank: RankSuccess, ActualLatency: 1000, ActualQuality: 0.9})
	require.True(t, ok)

	_, ok = e.Compare(p.ID, Outcome{ActualRank: RankSuccess, ActualLatency: 1000, ActualQuality: 0.9})
	require.False(t, ok)
}
