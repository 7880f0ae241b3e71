package botstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/rasac/internal/curve"
)

// ModelExtension is the artifact suffix of every model id.
const ModelExtension = ".tar.gz"

// modelTimestampLayout is the prefix of a model id, e.g. 20240101-120000.
const modelTimestampLayout = "20060102-150405"

// Metric is a final-epoch score. Models without training logs report
// "" on the wire, which decodes to an invalid Metric.
type Metric struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts a number, a numeric string, "" or null.
func (m *Metric) UnmarshalJSON(data []byte) error {
	*m = Metric{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("metric %q is not a number", s)
		}
		*m = Metric{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Metric{Value: v, Valid: true}
	return nil
}

// MarshalJSON writes null for an invalid metric.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// String formats the metric with four decimals, or "-" when absent.
func (m Metric) String() string {
	if !m.Valid {
		return "-"
	}
	return strconv.FormatFloat(m.Value, 'f', 4, 64)
}

// ModelSummary is one row of the model list.
type ModelSummary struct {
	ModelID   string `json:"model_id"`
	TestAcc   Metric `json:"test_acc"`
	TrainAcc  Metric `json:"train_acc"`
	TestLoss  Metric `json:"test_loss"`
	TrainLoss Metric `json:"train_loss"`
	Epochs    int    `json:"epochs"`
}

// UnmarshalJSON accepts the epoch list the backend sends, or "".
func (s *ModelSummary) UnmarshalJSON(data []byte) error {
	type plain ModelSummary
	var wire struct {
		plain
		Epochs json.RawMessage `json:"epochs"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = ModelSummary(wire.plain)
	s.Epochs = 0

	raw := bytes.TrimSpace(wire.Epochs)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte(`""`)):
	case raw[0] == '[':
		var epochs []json.RawMessage
		if err := json.Unmarshal(raw, &epochs); err != nil {
			return fmt.Errorf("epochs: %w", err)
		}
		s.Epochs = len(epochs)
	default:
		if err := json.Unmarshal(raw, &s.Epochs); err != nil {
			return fmt.Errorf("epochs: %w", err)
		}
	}
	return nil
}

// TrainedAt parses the timestamp encoded in the model id.
func (s ModelSummary) TrainedAt() (time.Time, bool) {
	return ModelTime(s.ModelID)
}

// HasCurve reports whether the backend has training logs for the model.
func (s ModelSummary) HasCurve() bool {
	return s.Epochs > 0
}

// ModelTime parses ids like 20240101-120000.tar.gz.
func ModelTime(modelID string) (time.Time, bool) {
	name := strings.TrimSuffix(modelID, ModelExtension)
	if len(name) < len(modelTimestampLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(modelTimestampLayout, name[:len(modelTimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ModelList is the model_list/latest_model pair most routes return.
type ModelList struct {
	Models []ModelSummary `json:"model_list"`
	Latest string         `json:"latest_model"`
}

// Find returns the summary for modelID.
func (l *ModelList) Find(modelID string) (ModelSummary, bool) {
	for _, m := range l.Models {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return ModelSummary{}, false
}

// SortNewestFirst orders models by the timestamp in their id. Ids without
// a timestamp go last, in name order.
func SortNewestFirst(models []ModelSummary) {
	sort.SliceStable(models, func(i, j int) bool {
		ti, oki := ModelTime(models[i].ModelID)
		tj, okj := ModelTime(models[j].ModelID)
		switch {
		case oki && okj:
			return ti.After(tj)
		case oki != okj:
			return oki
		default:
			return models[i].ModelID < models[j].ModelID
		}
	})
}

// ModelConfig is the pipeline and policy configuration a model was
// trained with.
type ModelConfig map[string]any

// TrainRequest starts a training run. The backend answers when training
// finishes.
type TrainRequest struct {
	RequestID     string         `json:"request_id"`
	Configs       map[string]any `json:"configs"`
	TestingStatus bool           `json:"testing_status"`
}

// NLUData maps intents to their testing examples.
type NLUData map[string][]string

// Intents returns the intent names in order.
func (d NLUData) Intents() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// curveWire is the curve_data payload before validation.
type curveWire struct {
	ModelID   string          `json:"model_id"`
	Epochs    json.RawMessage `json:"epochs"`
	TrainAcc  json.RawMessage `json:"train_acc"`
	TestAcc   json.RawMessage `json:"test_acc"`
	TrainLoss json.RawMessage `json:"train_loss"`
	TestLoss  json.RawMessage `json:"test_loss"`
}

var errNoCurve = fmt.Errorf("model has no curve data: %w", curve.ErrInvalidSeries)

// series converts and validates the payload. Null entries inside a
// sequence become NaN, which the selector treats as non-numeric.
func (w *curveWire) series() (*curve.Series, error) {
	s := &curve.Series{ModelID: w.ModelID}

	epochs, err := decodeFloats("epochs", w.Epochs)
	if err != nil {
		return nil, err
	}
	s.Epochs = make([]int, len(epochs))
	for i, e := range epochs {
		if e != math.Trunc(e) || math.IsNaN(e) {
			return nil, fmt.Errorf("epochs[%d] = %v is not an integer: %w", i, e, curve.ErrInvalidSeries)
		}
		s.Epochs[i] = int(e)
	}

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *[]float64
	}{
		{"train_acc", w.TrainAcc, &s.TrainAcc},
		{"test_acc", w.TestAcc, &s.TestAcc},
		{"train_loss", w.TrainLoss, &s.TrainLoss},
		{"test_loss", w.TestLoss, &s.TestLoss},
	}
	for _, f := range fields {
		if *f.dst, err = decodeFloats(f.name, f.raw); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeFloats(name string, raw json.RawMessage) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, errNoCurve
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, curve.ErrInvalidSeries)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out, nil
}
