package botstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetric_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{`0.875`, Metric{Value: 0.875, Valid: true}, false},
		{`"0.5"`, Metric{Value: 0.5, Valid: true}, false},
		{`""`, Metric{}, false},
		{`null`, Metric{}, false},
		{`"n/a"`, Metric{}, true},
		{`[1]`, Metric{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m Metric
			err := json.Unmarshal([]byte(tt.in), &m)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestMetric_String(t *testing.T) {
	assert.Equal(t, "-", Metric{}.String())
	assert.Equal(t, "0.8750", Metric{Value: 0.875, Valid: true}.String())

	data, err := json.Marshal(Metric{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestModelSummary_Epochs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"list", `{"model_id": "a.tar.gz", "epochs": [1, 2, 3, 4]}`, 4},
		{"empty string", `{"model_id": "a.tar.gz", "epochs": ""}`, 0},
		{"count", `{"model_id": "a.tar.gz", "epochs": 7}`, 7},
		{"absent", `{"model_id": "a.tar.gz"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s ModelSummary
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, "a.tar.gz", s.ModelID)
			assert.Equal(t, tt.want, s.Epochs)
			assert.Equal(t, tt.want > 0, s.HasCurve())
		})
	}
}

func TestModelTime(t *testing.T) {
	ts, ok := ModelTime("20240305-083015.tar.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 30, 15, 0, time.Local), ts)

	_, ok = ModelTime("custom-model.tar.gz")
	assert.False(t, ok)
	_, ok = ModelTime("")
	assert.False(t, ok)
}

func TestSortNewestFirst(t *testing.T) {
	models := []ModelSummary{
		{ModelID: "20230101-000000.tar.gz"},
		{ModelID: "zeta.tar.gz"},
		{ModelID: "20240101-000000.tar.gz"},
		{ModelID: "alpha.tar.gz"},
		{ModelID: "20231231-235959.tar.gz"},
	}
	SortNewestFirst(models)

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ModelID
	}
	assert.Equal(t, []string{
		"20240101-000000.tar.gz",
		"20231231-235959.tar.gz",
		"20230101-000000.tar.gz",
		"alpha.tar.gz",
		"zeta.tar.gz",
	}, ids)
}

func TestCurveWire_EpochsMustBeIntegers(t *testing.T) {
	w := curveWire{
		Epochs:    json.RawMessage(`[1.5]`),
		TrainAcc:  json.RawMessage(`[0.1]`),
		TestAcc:   json.RawMessage(`[0.1]`),
		TrainLoss: json.RawMessage(`[1]`),
		TestLoss:  json.RawMessage(`[1]`),
	}
	_, err := w.series()
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "missing_payload", Outcome(missingPayload("op", "k")))
	assert.Equal(t, "malformed_payload", Outcome(malformedPayload("op", "k", nil)))
	assert.Equal(t, "backend_error", Outcome(backendError("op", "")))
	assert.Equal(t, "transport_error", Outcome(transportError("op", 0, nil)))
	assert.Equal(t, "error", Outcome(ErrInvalidModelID))
}
