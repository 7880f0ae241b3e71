package curve

import (
	"errors"
	"fmt"
)

// MinEpochsForInsights is the smallest series the epoch selector is run on.
// Shorter curves make a trailing band meaningless.
const MinEpochsForInsights = 50

// ErrInsufficientEpochs is returned by Analyze for series shorter than
// MinEpochsForInsights. The selector is not invoked.
var ErrInsufficientEpochs = errors.New("insights unavailable")

// Insights is the derived analysis of one series at one patience interval.
type Insights struct {
	ModelID      string   `json:"model_id,omitempty"`
	Epochs       int      `json:"epochs"`
	Patience     int      `json:"patience_interval"`
	BestEpoch    int      `json:"best_epoch"`
	BestTestLoss *float64 `json:"best_test_loss,omitempty"`
	TrainBand    Band     `json:"train_band"`
	TestBand     Band     `json:"test_band"`
}

// Analyze validates s, applies the activation gate and runs the epoch
// selector. Both loss bands are returned for charting.
func Analyze(s *Series, patience int) (*Insights, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotComputable, err)
	}
	if s.Len() < MinEpochsForInsights {
		return nil, fmt.Errorf("%w: %d epochs, need at least %d", ErrInsufficientEpochs, s.Len(), MinEpochsForInsights)
	}
	if err := ValidatePatience(patience); err != nil {
		return nil, err
	}

	in := s.Clone()
	best, err := SelectBestEpoch(in.TestLoss, in.TrainLoss, in.Epochs, patience)
	if err != nil {
		return nil, err
	}

	insights := &Insights{
		ModelID:   s.ModelID,
		Epochs:    s.Len(),
		Patience:  patience,
		BestEpoch: best,
		TrainBand: Bollinger(in.TrainLoss, patience, BandWidth),
		TestBand:  Bollinger(in.TestLoss, patience, BandWidth),
	}
	if v := in.TestLoss[best-1]; isNumeric(v) {
		insights.BestTestLoss = &v
	}
	return insights, nil
}

// Reason returns the user-facing explanation for an Analyze error.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientEpochs):
		return fmt.Sprintf("Insights cannot be displayed for less than %d epochs", MinEpochsForInsights)
	case errors.Is(err, ErrPatienceOutOfRange):
		return fmt.Sprintf("Patience interval must be between %d and %d", MinPatience, MaxPatience)
	default:
		return "Insights cannot be displayed"
	}
}

// Selection is the mutable insight state of one curve view. Every change
// recomputes from scratch.
type Selection struct {
	series   *Series
	patience int
	insights *Insights
	err      error
}

// NewSelection starts a selection at DefaultPatience.
func NewSelection(s *Series) *Selection {
	sel := &Selection{patience: DefaultPatience}
	sel.SetSeries(s)
	return sel
}

// SetSeries replaces the series and recomputes.
func (s *Selection) SetSeries(series *Series) {
	s.series = series
	s.recompute()
}

// SetPatience clamps p into range and recomputes.
func (s *Selection) SetPatience(p int) {
	s.patience = ClampPatience(p)
	s.recompute()
}

// Patience returns the current patience interval.
func (s *Selection) Patience() int { return s.patience }

// Series returns the current series.
func (s *Selection) Series() *Series { return s.series }

// Insights returns the last result, or nil when unavailable.
func (s *Selection) Insights() *Insights { return s.insights }

// Err returns why insights are unavailable.
func (s *Selection) Err() error { return s.err }

// Available reports whether a best epoch is defined.
func (s *Selection) Available() bool { return s.insights != nil }

// BestEpoch returns the best epoch, or 0 when unavailable.
func (s *Selection) BestEpoch() int {
	if s.insights == nil {
		return 0
	}
	return s.insights.BestEpoch
}

func (s *Selection) recompute() {
	if s.series == nil {
		s.insights, s.err = nil, fmt.Errorf("%w: no series", ErrNotComputable)
		return
	}
	s.insights, s.err = Analyze(s.series, s.patience)
}
