package alerting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdDenominators(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, mean(values), 1e-12)
	assert.InDelta(t, 2.0, populationStd(values), 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), sampleStd(values), 1e-12)

	assert.Zero(t, sampleStd([]float64{1}))
	assert.Zero(t, populationStd(nil))
}

func TestLogReturns(t *testing.T) {
	returns, err := logReturns([]float64{100, 110, 99})
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.InDelta(t, math.Log(1.1), returns[0], 1e-12)
	assert.InDelta(t, math.Log(0.9), returns[1], 1e-12)

	_, err = logReturns([]float64{100, 0, 100})
	assert.ErrorIs(t, err, errNonPositivePrice)
}
