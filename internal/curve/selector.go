package curve

import (
	"errors"
	"fmt"
	"math"
)

// Patience interval bounds. The patience interval is both the Bollinger
// window and the number of epochs inspected after a band breach.
const (
	MinPatience     = 5
	MaxPatience     = 25
	DefaultPatience = 10
)

// minSelectablePoints is twice the smallest band window.
const minSelectablePoints = 2 * MinPatience

var (
	// ErrNotComputable is returned when the loss curves cannot support a
	// best-epoch decision (empty, mismatched or non-numeric input).
	ErrNotComputable = errors.New("best epoch not computable")

	// ErrPatienceOutOfRange is returned for a patience interval outside
	// [MinPatience, MaxPatience].
	ErrPatienceOutOfRange = errors.New("patience interval out of range")
)

// ValidatePatience checks p against [MinPatience, MaxPatience].
func ValidatePatience(p int) error {
	if p < MinPatience || p > MaxPatience {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrPatienceOutOfRange, p, MinPatience, MaxPatience)
	}
	return nil
}

// ClampPatience forces p into [MinPatience, MaxPatience].
func ClampPatience(p int) int {
	if p < MinPatience {
		return MinPatience
	}
	if p > MaxPatience {
		return MaxPatience
	}
	return p
}

// SelectBestEpoch returns the 1-based epoch with the lowest test loss seen
// before the model is judged to overfit.
//
// A trailing Bollinger band over the train loss acts as a noise envelope.
// While the test loss stays under the upper band the running minimum is
// tracked. When it breaks above the band, up to patience further epochs are
// inspected; the first one that both improves on the minimum and sits under
// its own upper band resumes the scan from there. If none does, the scan
// stops and the current best epoch is final. Ties keep the earlier epoch.
func SelectBestEpoch(testLoss, trainLoss []float64, epochs []int, patience int) (int, error) {
	return selector{recheck: true}.selectBest(testLoss, trainLoss, epochs, patience)
}

// selector carries scan options. recheck re-applies the running minimum to
// the cursor position after every step.
type selector struct {
	recheck bool
}

func (s selector) selectBest(testLoss, trainLoss []float64, epochs []int, patience int) (int, error) {
	if err := checkSelectable(testLoss, trainLoss, epochs, patience); err != nil {
		return 0, err
	}

	upper := Bollinger(trainLoss, patience, BandWidth).Upper
	n := len(epochs)

	minLoss := testLoss[0]
	if !isNumeric(minLoss) {
		minLoss = math.Inf(1)
	}
	best := 1

	track := func(i int) {
		if testLoss[i] < minLoss {
			minLoss = testLoss[i]
			best = i + 1
		}
	}

	cursor := 0
	for cursor < n {
		switch {
		case cursor < patience-1:
			track(cursor)
		case testLoss[cursor] < upper.At(cursor):
			track(cursor)
		default:
			j, ok := findRecovery(testLoss, upper, cursor, patience, minLoss)
			if !ok {
				return best, nil
			}
			minLoss = testLoss[j]
			best = j + 1
			cursor = j
		}

		if s.recheck {
			track(cursor)
		}
		cursor++
	}
	return best, nil
}

// findRecovery looks at the patience epochs after a breach at i and returns
// the first one that improves on minLoss while staying under its upper band.
// Indices past the end of the series never qualify.
func findRecovery(testLoss []float64, upper Values, i, patience int, minLoss float64) (int, bool) {
	for j := i + 1; j <= i+patience && j < len(testLoss); j++ {
		if testLoss[j] < minLoss && testLoss[j] < upper.At(j) {
			return j, true
		}
	}
	return 0, false
}

func checkSelectable(testLoss, trainLoss []float64, epochs []int, patience int) error {
	n := len(epochs)
	switch {
	case n == 0 || len(testLoss) == 0:
		return fmt.Errorf("%w: empty series", ErrNotComputable)
	case len(testLoss) != n || len(trainLoss) != n:
		return fmt.Errorf("%w: series lengths differ (epochs=%d test_loss=%d train_loss=%d)",
			ErrNotComputable, n, len(testLoss), len(trainLoss))
	case n < minSelectablePoints:
		return fmt.Errorf("%w: %d epochs, need at least %d", ErrNotComputable, n, minSelectablePoints)
	case patience < 1:
		return fmt.Errorf("%w: patience %d", ErrNotComputable, patience)
	}

	for _, v := range testLoss {
		if isNumeric(v) {
			return nil
		}
	}
	return fmt.Errorf("%w: test loss has no numeric values", ErrNotComputable)
}
