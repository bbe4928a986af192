package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_Summary(t *testing.T) {
	s := NewStats(4)
	for _, ms := range []time.Duration{1, 2, 3, 10} {
		s.Record(ms*time.Millisecond, 2*ms*time.Millisecond, time.Millisecond)
	}

	pre, err := s.Summary(StagePreprocess)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, pre.Mean, 1e-9)
	assert.InDelta(t, 10.0, pre.P95, 1e-9)
	assert.InDelta(t, 10.0, pre.Max, 1e-9)

	inf, err := s.Summary(StageInference)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, inf.Mean, 1e-9)

	dec, err := s.Summary(StageDecode)
	require.NoError(t, err)
	assert.Equal(t, StageSummary{Mean: 1, P95: 1, Max: 1}, dec)
	assert.EqualValues(t, 4, s.Frames())
}

// TestStats_Window checks that only the most recent frames are summarised.
func TestStats_Window(t *testing.T) {
	s := NewStats(2)
	for _, ms := range []time.Duration{100, 1, 3} {
		s.Record(ms*time.Millisecond, 0, 0)
	}

	pre, err := s.Summary(StagePreprocess)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pre.Mean, 1e-9)
	assert.InDelta(t, 3.0, pre.Max, 1e-9)
	assert.EqualValues(t, 3, s.Frames(), "the frame count is not bounded by the window")
}

func TestStats_Empty(t *testing.T) {
	s := NewStats(0)
	_, err := s.Summary(StageInference)
	assert.Error(t, err)
	assert.Equal(t, "frames: 0", s.String())
}

func TestStats_Reset(t *testing.T) {
	s := NewStats(8)
	s.Record(time.Millisecond, time.Millisecond, time.Millisecond)
	s.Reset()

	assert.Zero(t, s.Frames())
	_, err := s.Summary(StageDecode)
	assert.Error(t, err)
}

func TestStats_String(t *testing.T) {
	s := NewStats(8)
	s.Record(1500*time.Microsecond, 20*time.Millisecond, 250*time.Microsecond)

	expected := "frames: 1\n" +
		"preprocess: mean 1.50ms p95 1.50ms max 1.50ms\n" +
		"inference: mean 20.00ms p95 20.00ms max 20.00ms\n" +
		"decode: mean 0.25ms p95 0.25ms max 0.25ms"
	assert.Equal(t, expected, s.String())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "preprocess", StagePreprocess.String())
	assert.Equal(t, "inference", StageInference.String())
	assert.Equal(t, "decode", StageDecode.String())
	assert.Equal(t, "stage(7)", Stage(7).String())
}
