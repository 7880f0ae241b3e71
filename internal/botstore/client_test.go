package botstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/telemetry"
)

const modelListJSON = `{
  "model_list": [
    {"model_id": "20240101-120000.tar.gz", "test_acc": 0.81, "train_acc": 0.93, "test_loss": 0.52, "train_loss": 0.21, "epochs": [1, 2, 3]},
    {"model_id": "20240305-083000.tar.gz", "test_acc": "", "train_acc": "", "test_loss": "", "train_loss": "", "epochs": ""},
    {"model_id": "20240210-101010.tar.gz", "test_acc": 0.9, "train_acc": 0.95, "test_loss": 0.3, "train_loss": 0.1, "epochs": [1, 2]}
  ],
  "latest_model": "20240305-083000.tar.gz"
}`

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig().API
	cfg.BaseURL = srv.URL
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c, srv
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func curveJSON(n int) string {
	epochs := make([]int, n)
	loss := make([]float64, n)
	acc := make([]float64, n)
	for i := range epochs {
		epochs[i] = i + 1
		loss[i] = 1 - 0.01*float64(i)
		acc[i] = 0.01 * float64(i)
	}
	data, _ := json.Marshal(map[string]any{
		"curve_data": map[string]any{
			"model_id":   "20240101-120000.tar.gz",
			"epochs":     epochs,
			"train_acc":  acc,
			"test_acc":   acc,
			"train_loss": loss,
			"test_loss":  loss,
		},
	})
	return string(data)
}

func TestClient_ListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rasac/botstore/models", jsonHandler(modelListJSON))
	c, _ := newTestClient(t, mux)

	list, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Models, 3)

	assert.Equal(t, "20240305-083000.tar.gz", list.Models[0].ModelID)
	assert.Equal(t, "20240210-101010.tar.gz", list.Models[1].ModelID)
	assert.Equal(t, "20240101-120000.tar.gz", list.Models[2].ModelID)
	assert.Equal(t, "20240305-083000.tar.gz", list.Latest)

	assert.False(t, list.Models[0].TestAcc.Valid)
	assert.False(t, list.Models[0].HasCurve())
	assert.Equal(t, 2, list.Models[1].Epochs)
	assert.InDelta(t, 0.9, list.Models[1].TestAcc.Value, 1e-12)

	m, ok := list.Find("20240101-120000.tar.gz")
	require.True(t, ok)
	assert.Equal(t, 3, m.Epochs)
}

func TestClient_LatestModel(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(modelListJSON))
		latest, err := c.LatestModel(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "20240305-083000.tar.gz", latest)
	})

	t.Run("null", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(`{"model_list": [], "latest_model": null}`))
		_, err := c.LatestModel(context.Background())
		assert.ErrorIs(t, err, ErrMissingPayload)
	})
}

func TestClient_ErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    []error
		notWant error
	}{
		{
			name:    "status key is a backend error",
			handler: jsonHandler(`{"status": "error", "response": "model"}`),
			want:    []error{ErrBackend},
			notWant: ErrTransport,
		},
		{
			name:    "missing key",
			handler: jsonHandler(`{"something_else": []}`),
			want:    []error{ErrMissingPayload, ErrBackend},
			notWant: ErrTransport,
		},
		{
			name:    "null payload",
			handler: jsonHandler(`{"model_list": null}`),
			want:    []error{ErrMissingPayload, ErrBackend},
			notWant: ErrTransport,
		},
		{
			name:    "wrong payload type",
			handler: jsonHandler(`{"model_list": "nope"}`),
			want:    []error{ErrMalformedPayload, ErrBackend},
			notWant: ErrTransport,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want:    []error{ErrTransport},
			notWant: ErrBackend,
		},
		{
			name:    "undecodable body",
			handler: jsonHandler(`<html>`),
			want:    []error{ErrTransport},
			notWant: ErrBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)
			_, err := c.ListModels(context.Background())
			require.Error(t, err)
			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
			assert.NotErrorIs(t, err, tt.notWant)

			var berr *Error
			require.True(t, errors.As(err, &berr))
			assert.Equal(t, "ListModels", berr.Op)
		})
	}
}

func TestClient_BackendErrorDetail(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(`{"status": "error", "response": "model"}`))
	_, err := c.Train(context.Background(), TrainRequest{RequestID: "r1"})

	var berr *Error
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "model", berr.Detail)
	assert.Equal(t, "backend_error", Outcome(err))
}

func TestClient_TransportFailure(t *testing.T) {
	c, srv := newTestClient(t, jsonHandler(modelListJSON))
	srv.Close()

	_, err := c.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "transport_error", Outcome(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	defer close(release)

	_, err := c.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_Curve(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var method string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			assert.Equal(t, "/api/rasac/botstore/curve/20240101-120000.tar.gz", r.URL.Path)
			jsonHandler(curveJSON(60))(w, r)
		}))

		s, err := c.Curve(context.Background(), "20240101-120000.tar.gz")
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, 60, s.Len())
		assert.Equal(t, "20240101-120000.tar.gz", s.ModelID)

		in, err := curve.Analyze(s, curve.DefaultPatience)
		require.NoError(t, err)
		assert.Equal(t, 60, in.BestEpoch)
	})

	t.Run("model without logs", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(`{"curve_data": {"model_id": "m.tar.gz", "epochs": "", "train_acc": "", "test_acc": "", "train_loss": "", "test_loss": "", "curve_insights": ""}}`))
		_, err := c.Curve(context.Background(), "m.tar.gz")
		assert.ErrorIs(t, err, ErrMalformedPayload)
		assert.ErrorIs(t, err, curve.ErrInvalidSeries)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(`{"curve_data": {"epochs": [1, 2], "train_acc": [0.1, 0.2], "test_acc": [0.1], "train_loss": [1, 0.9], "test_loss": [1, 0.9]}}`))
		_, err := c.Curve(context.Background(), "m.tar.gz")
		assert.ErrorIs(t, err, curve.ErrInvalidSeries)
	})

	t.Run("null entries become NaN", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(`{"curve_data": {"epochs": [1, 2], "train_acc": [0.1, 0.2], "test_acc": [0.1, 0.2], "train_loss": [1, 0.9], "test_loss": [null, 0.9]}}`))
		s, err := c.Curve(context.Background(), "m.tar.gz")
		require.NoError(t, err)
		assert.True(t, s.TestLoss[0] != s.TestLoss[0])
		assert.Equal(t, "m.tar.gz", s.ModelID)
	})

	t.Run("invalid model id", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(curveJSON(60)))
		_, err := c.Curve(context.Background(), "../secrets")
		assert.ErrorIs(t, err, ErrInvalidModelID)
	})
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*curve.Series
}

func (m *memCache) key(baseURL, modelID string) string { return baseURL + "|" + modelID }

func (m *memCache) Get(_ context.Context, baseURL, modelID string) (*curve.Series, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[m.key(baseURL, modelID)]
	return s, ok
}

func (m *memCache) Put(_ context.Context, baseURL, modelID string, s *curve.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.key(baseURL, modelID)] = s.Clone()
	return nil
}

func (m *memCache) Delete(_ context.Context, baseURL, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, m.key(baseURL, modelID))
	return nil
}

func TestClient_CurveCache(t *testing.T) {
	var curveHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rasac/botstore/curve/{id}", func(w http.ResponseWriter, r *http.Request) {
		curveHits.Add(1)
		jsonHandler(curveJSON(55))(w, r)
	})
	mux.HandleFunc("DELETE /api/rasac/botstore/models/{id}", jsonHandler(`{"model_list": [], "latest_model": ""}`))

	cache := &memCache{entries: map[string]*curve.Series{}}
	c, _ := newTestClient(t, mux, WithCache(cache))
	ctx := context.Background()

	_, err := c.Curve(ctx, "20240101-120000.tar.gz")
	require.NoError(t, err)
	s, err := c.Curve(ctx, "20240101-120000.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, 55, s.Len())
	assert.Equal(t, int32(1), curveHits.Load())

	_, err = c.DeleteModel(ctx, "20240101-120000.tar.gz")
	require.NoError(t, err)
	_, ok := cache.Get(ctx, c.BaseURL(), "20240101-120000.tar.gz")
	assert.False(t, ok)
}

func TestClient_ModelConfig(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(`{"model_config": {"config": {"language": "en", "pipeline": [{"name": "DIETClassifier", "epochs": 100}], "policies": [{"name": "TEDPolicy"}]}}}`))

	cfg, err := c.ModelConfig(context.Background(), "20240101-120000.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "en", cfg["language"])
	require.Len(t, cfg["pipeline"], 1)

	c, _ = newTestClient(t, jsonHandler(`{"model_config": {}}`))
	_, err = c.ModelConfig(context.Background(), "20240101-120000.tar.gz")
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestClient_TrainAndAbort(t *testing.T) {
	var trainBody TrainRequest
	var abortBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rasac/bot/train", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&trainBody))
		jsonHandler(modelListJSON)(w, r)
	})
	mux.HandleFunc("POST /api/rasac/bot/abort", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&abortBody))
		jsonHandler(modelListJSON)(w, r)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	list, err := c.Train(ctx, TrainRequest{
		RequestID:     "req-1",
		Configs:       map[string]any{"language": "en"},
		TestingStatus: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "20240305-083000.tar.gz", list.Latest)
	assert.Equal(t, "req-1", trainBody.RequestID)
	assert.True(t, trainBody.TestingStatus)
	assert.Equal(t, "en", trainBody.Configs["language"])

	_, err = c.Abort(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", abortBody["request_id"])

	_, err = c.Abort(ctx, "")
	assert.Error(t, err)
	_, err = c.Train(ctx, TrainRequest{})
	assert.Error(t, err)
}

func TestClient_DownloadModel(t *testing.T) {
	artifact := bytes.Repeat([]byte{0x1f, 0x8b, 0x08}, 1000)

	t.Run("streams the artifact", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/gzip")
			_, _ = w.Write(artifact)
		}))

		var buf bytes.Buffer
		n, err := c.DownloadModel(context.Background(), "20240101-120000.tar.gz", &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(len(artifact)), n)
		assert.Equal(t, artifact, buf.Bytes())
	})

	t.Run("json body is a backend error", func(t *testing.T) {
		c, _ := newTestClient(t, jsonHandler(`{"status": "error"}`))
		var buf bytes.Buffer
		_, err := c.DownloadModel(context.Background(), "20240101-120000.tar.gz", &buf)
		assert.ErrorIs(t, err, ErrBackend)
		assert.Zero(t, buf.Len())
	})
}

func TestClient_NLUData(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(`{"nlu_data": {"greet": ["hi", "hello"], "affirm": ["yes"]}}`))
	data, err := c.NLUData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"affirm", "greet"}, data.Intents())
	assert.Len(t, data["greet"], 2)
}

func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(modelListJSON))
	defer srv.Close()

	cfg := config.NewDefaultConfig().API
	cfg.BaseURL = srv.URL
	cfg.RateLimit = 0.01
	cfg.Burst = 1
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.ListModels(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListModels(ctx)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_Instrumentation(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	logger := logging.NewTestLogger()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rasac/botstore/models", jsonHandler(modelListJSON))
	mux.HandleFunc("POST /api/rasac/botstore/curve/{id}", jsonHandler(`{"status": "error"}`))
	c, _ := newTestClient(t, mux, WithTelemetry(tel.Telemetry), WithLogger(logger.Logger))
	ctx := context.Background()

	_, err := c.ListModels(ctx)
	require.NoError(t, err)
	_, err = c.Curve(ctx, "20240101-120000.tar.gz")
	require.Error(t, err)

	tel.AssertSpanExists(t, "botstore.ListModels")
	tel.AssertSpanAttribute(t, "botstore.Curve", "http.route", "/api/rasac/botstore/curve/{model_id}")
	tel.AssertSpanAttribute(t, "botstore.Curve", "rasac.model_id", "20240101-120000.tar.gz")

	total, ok := tel.Int64Sum(t, "rasac.botstore.requests")
	require.True(t, ok)
	assert.Equal(t, int64(2), total)

	logger.AssertLogged(t, zapcore.DebugLevel, "backend request failed")
	logger.AssertField(t, "backend request failed", "outcome", "backend_error")
}

func TestNew_InvalidBaseURL(t *testing.T) {
	cfg := config.NewDefaultConfig().API
	cfg.BaseURL = "not a url"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestError_Message(t *testing.T) {
	err := backendError("Train", "model")
	assert.Equal(t, "Train: backend reported an error (model)", err.Error())

	err = transportError("ListModels", 502, fmt.Errorf("unexpected status code 502"))
	assert.Contains(t, err.Error(), "backend unreachable")
	assert.Contains(t, err.Error(), "502")
}
