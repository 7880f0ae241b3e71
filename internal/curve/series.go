// Package curve holds per-model learning curves and the analysis run over
// them: trailing Bollinger bands and best-epoch selection.
package curve

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSeries indicates a curve payload that violates the Series shape.
var ErrInvalidSeries = errors.New("invalid curve series")

// Series is the immutable set of per-epoch curves fetched for one model.
type Series struct {
	ModelID   string    `json:"model_id,omitempty"`
	Epochs    []int     `json:"epochs"`
	TrainAcc  []float64 `json:"train_acc"`
	TestAcc   []float64 `json:"test_acc"`
	TrainLoss []float64 `json:"train_loss"`
	TestLoss  []float64 `json:"test_loss"`
}

// Len returns the number of epochs in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Epochs)
}

// Validate checks that the series has at least one epoch, that epochs run
// 1..N, and that every numeric curve has one value per epoch.
func (s *Series) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil series", ErrInvalidSeries)
	}
	n := len(s.Epochs)
	if n == 0 {
		return fmt.Errorf("%w: no epochs", ErrInvalidSeries)
	}
	for i, e := range s.Epochs {
		if e != i+1 {
			return fmt.Errorf("%w: epoch at position %d is %d, expected %d", ErrInvalidSeries, i, e, i+1)
		}
	}

	curves := []struct {
		name   string
		values []float64
	}{
		{"train_acc", s.TrainAcc},
		{"test_acc", s.TestAcc},
		{"train_loss", s.TrainLoss},
		{"test_loss", s.TestLoss},
	}
	for _, c := range curves {
		if len(c.values) != n {
			return fmt.Errorf("%w: %s has %d values for %d epochs", ErrInvalidSeries, c.name, len(c.values), n)
		}
	}
	return nil
}

// seriesJSON is the wire form of Series. Non-numeric values travel as null.
type seriesJSON struct {
	ModelID   string `json:"model_id,omitempty"`
	Epochs    []int  `json:"epochs"`
	TrainAcc  Values `json:"train_acc"`
	TestAcc   Values `json:"test_acc"`
	TrainLoss Values `json:"train_loss"`
	TestLoss  Values `json:"test_loss"`
}

// MarshalJSON writes NaN entries as null.
func (s Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesJSON{
		ModelID:   s.ModelID,
		Epochs:    s.Epochs,
		TrainAcc:  s.TrainAcc,
		TestAcc:   s.TestAcc,
		TrainLoss: s.TrainLoss,
		TestLoss:  s.TestLoss,
	})
}

// UnmarshalJSON reads null entries as NaN. It does not validate.
func (s *Series) UnmarshalJSON(data []byte) error {
	var w struct {
		ModelID   string     `json:"model_id"`
		Epochs    []int      `json:"epochs"`
		TrainAcc  []*float64 `json:"train_acc"`
		TestAcc   []*float64 `json:"test_acc"`
		TrainLoss []*float64 `json:"train_loss"`
		TestLoss  []*float64 `json:"test_loss"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeries, err)
	}
	*s = Series{
		ModelID:   w.ModelID,
		Epochs:    w.Epochs,
		TrainAcc:  nullToNaN(w.TrainAcc),
		TestAcc:   nullToNaN(w.TestAcc),
		TrainLoss: nullToNaN(w.TrainLoss),
		TestLoss:  nullToNaN(w.TestLoss),
	}
	return nil
}

func nullToNaN(in []*float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

// Clone returns a deep copy so callers can hand the selector fresh slices.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	return &Series{
		ModelID:   s.ModelID,
		Epochs:    append([]int(nil), s.Epochs...),
		TrainAcc:  append([]float64(nil), s.TrainAcc...),
		TestAcc:   append([]float64(nil), s.TestAcc...),
		TrainLoss: append([]float64(nil), s.TrainLoss...),
		TestLoss:  append([]float64(nil), s.TestLoss...),
	}
}

// Last returns the final value of a curve, or NaN when it is empty.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// isNumeric reports whether v is a usable loss value.
func isNumeric(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
