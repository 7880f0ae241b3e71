package curve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeries(testLoss, trainLoss []float64) *Series {
	n := len(testLoss)
	return &Series{
		ModelID:   "20240101-120000.tar.gz",
		Epochs:    epochRange(n),
		TrainAcc:  linear(n, 0.1, 0.01),
		TestAcc:   linear(n, 0.1, 0.009),
		TrainLoss: trainLoss,
		TestLoss:  testLoss,
	}
}

func TestAnalyze(t *testing.T) {
	t.Run("computes best epoch and both bands", func(t *testing.T) {
		testLoss, trainLoss := overfitAfter30()
		s := newSeries(testLoss, trainLoss)

		in, err := Analyze(s, DefaultPatience)
		require.NoError(t, err)
		assert.Equal(t, 30, in.BestEpoch)
		assert.Equal(t, 60, in.Epochs)
		assert.Equal(t, DefaultPatience, in.Patience)
		assert.Equal(t, s.ModelID, in.ModelID)
		require.NotNil(t, in.BestTestLoss)
		assert.InDelta(t, 0.42, *in.BestTestLoss, 1e-9)
		assert.Len(t, in.TrainBand.Upper, 60)
		assert.Len(t, in.TestBand.Lower, 60)
		assert.False(t, in.TrainBand.Upper.Defined(DefaultPatience-2))
		assert.True(t, in.TrainBand.Upper.Defined(DefaultPatience-1))
	})

	t.Run("fewer than 50 epochs is unavailable", func(t *testing.T) {
		loss := linear(49, 1.0, -0.01)
		_, err := Analyze(newSeries(loss, loss), DefaultPatience)
		assert.ErrorIs(t, err, ErrInsufficientEpochs)
	})

	t.Run("patience out of range", func(t *testing.T) {
		loss := linear(50, 1.0, -0.01)
		_, err := Analyze(newSeries(loss, loss), 30)
		assert.ErrorIs(t, err, ErrPatienceOutOfRange)
	})

	t.Run("malformed series is not computable", func(t *testing.T) {
		loss := linear(60, 1.0, -0.01)
		s := newSeries(loss, loss)
		s.TestAcc = s.TestAcc[:10]

		_, err := Analyze(s, DefaultPatience)
		assert.ErrorIs(t, err, ErrNotComputable)
		assert.ErrorIs(t, err, ErrInvalidSeries)
	})

	t.Run("nil series is not computable", func(t *testing.T) {
		_, err := Analyze(nil, DefaultPatience)
		assert.ErrorIs(t, err, ErrNotComputable)
	})

	t.Run("marshals with null band entries", func(t *testing.T) {
		testLoss, trainLoss := overfitAfter30()
		in, err := Analyze(newSeries(testLoss, trainLoss), 5)
		require.NoError(t, err)

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.EqualValues(t, 30, decoded["best_epoch"])
		band := decoded["train_band"].(map[string]any)
		upper := band["upper"].([]any)
		assert.Nil(t, upper[0])
		assert.NotNil(t, upper[4])
	})
}

func TestReason(t *testing.T) {
	assert.Empty(t, Reason(nil))
	assert.Equal(t, "Insights cannot be displayed for less than 50 epochs", Reason(ErrInsufficientEpochs))
	assert.Equal(t, "Insights cannot be displayed", Reason(ErrNotComputable))
	assert.Contains(t, Reason(ErrPatienceOutOfRange), "between 5 and 25")
}

func TestSelection(t *testing.T) {
	testLoss, trainLoss := overfitAfter30()
	sel := NewSelection(newSeries(testLoss, trainLoss))

	assert.Equal(t, DefaultPatience, sel.Patience())
	assert.True(t, sel.Available())
	assert.Equal(t, 30, sel.BestEpoch())
	assert.NoError(t, sel.Err())

	sel.SetPatience(2)
	assert.Equal(t, MinPatience, sel.Patience())
	assert.Equal(t, 30, sel.BestEpoch())

	sel.SetPatience(40)
	assert.Equal(t, MaxPatience, sel.Patience())
	assert.True(t, sel.Available())

	short := linear(20, 1.0, -0.01)
	sel.SetSeries(newSeries(short, short))
	assert.False(t, sel.Available())
	assert.Equal(t, 0, sel.BestEpoch())
	assert.ErrorIs(t, sel.Err(), ErrInsufficientEpochs)
	assert.Nil(t, sel.Insights())

	sel.SetSeries(nil)
	assert.ErrorIs(t, sel.Err(), ErrNotComputable)
}
