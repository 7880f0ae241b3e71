// Package botstore is the REST client for the model training and storage
// backend.
package botstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/rasac/internal/botstore"

// maxEnvelopeSize bounds JSON responses; model artifacts are streamed.
const maxEnvelopeSize = 64 << 20

// CurveCache stores immutable curves keyed by backend and model id.
type CurveCache interface {
	Get(ctx context.Context, baseURL, modelID string) (*curve.Series, bool)
	Put(ctx context.Context, baseURL, modelID string, s *curve.Series) error
	Delete(ctx context.Context, baseURL, modelID string) error
}

// Client talks to the backend. It never retries; callers decide.
type Client struct {
	baseURL   string
	endpoints config.EndpointsConfig
	http      *http.Client
	train     *http.Client
	limiter   *rate.Limiter
	cache     CurveCache
	logger    *logging.Logger

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for short requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTrainHTTPClient replaces the client used for train requests.
func WithTrainHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.train = hc }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("botstore") }
}

// WithTelemetry traces and counts every request.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Client) {
		c.tracer = tel.Tracer(instrumentationName)
		meter := tel.Meter(instrumentationName)
		c.requests, _ = meter.Int64Counter("rasac.botstore.requests",
			metric.WithDescription("Backend requests by operation and outcome"))
		c.duration, _ = meter.Float64Histogram("rasac.botstore.duration",
			metric.WithDescription("Backend request duration"),
			metric.WithUnit("s"))
	}
}

// WithCache consults cache before fetching curves.
func WithCache(cache CurveCache) Option {
	return func(c *Client) { c.cache = cache }
}

// New creates a client for cfg.
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		endpoints: cfg.Endpoints,
		http:      &http.Client{Timeout: cfg.Timeout.Duration()},
		train:     &http.Client{Timeout: cfg.TrainTimeout.Duration()},
		logger:    logging.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	WithTelemetry(nil)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ListModels returns every model, newest first.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	const op = "ListModels"
	env, err := c.call(ctx, op, http.MethodGet, c.endpoints.Models, nil, c.http)
	if err != nil {
		return nil, err
	}
	return decodeModelList(op, env)
}

// LatestModel returns the id of the most recently trained model.
func (c *Client) LatestModel(ctx context.Context) (string, error) {
	const op = "LatestModel"
	env, err := c.call(ctx, op, http.MethodGet, c.endpoints.Models, nil, c.http)
	if err != nil {
		return "", err
	}
	raw, err := payload(op, env, "latest_model")
	if err != nil {
		return "", err
	}
	var latest string
	if err := json.Unmarshal(raw, &latest); err != nil {
		return "", malformedPayload(op, "latest_model", err)
	}
	if latest == "" {
		return "", missingPayload(op, "latest_model")
	}
	return latest, nil
}

// Curve returns the validated training curves of modelID.
func (c *Client) Curve(ctx context.Context, modelID string) (*curve.Series, error) {
	const op = "Curve"
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}
	ctx = logging.WithModelID(ctx, modelID)

	if c.cache != nil {
		if s, ok := c.cache.Get(ctx, c.baseURL, modelID); ok {
			c.logger.Debug(ctx, "curve cache hit")
			return s, nil
		}
	}

	env, err := c.call(ctx, op, http.MethodPost, modelPath(c.endpoints.Curve, modelID), nil, c.http)
	if err != nil {
		return nil, err
	}
	raw, err := payload(op, env, "curve_data")
	if err != nil {
		return nil, err
	}
	var wire curveWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformedPayload(op, "curve_data", fmt.Errorf("%v: %w", err, curve.ErrInvalidSeries))
	}
	s, err := wire.series()
	if err != nil {
		return nil, malformedPayload(op, "curve_data", err)
	}
	if s.ModelID == "" {
		s.ModelID = modelID
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, c.baseURL, modelID, s); err != nil {
			c.logger.Warn(ctx, "curve cache write failed", zap.Error(err))
		}
	}
	return s, nil
}

// ModelConfig returns the configuration modelID was trained with.
func (c *Client) ModelConfig(ctx context.Context, modelID string) (ModelConfig, error) {
	const op = "ModelConfig"
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}
	ctx = logging.WithModelID(ctx, modelID)

	env, err := c.call(ctx, op, http.MethodPost, modelPath(c.endpoints.Config, modelID), nil, c.http)
	if err != nil {
		return nil, err
	}
	raw, err := payload(op, env, "model_config")
	if err != nil {
		return nil, err
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, malformedPayload(op, "model_config", err)
	}
	inner, ok := wrapped["config"]
	if !ok || isNull(inner) {
		return nil, missingPayload(op, "model_config.config")
	}
	var cfg ModelConfig
	if err := json.Unmarshal(inner, &cfg); err != nil {
		return nil, malformedPayload(op, "model_config.config", err)
	}
	return cfg, nil
}

// Train starts a training run and blocks until the backend finishes it.
func (c *Client) Train(ctx context.Context, req TrainRequest) (*ModelList, error) {
	const op = "Train"
	if req.RequestID == "" {
		return nil, errors.New("train request id is required")
	}
	ctx = logging.WithRequestID(ctx, req.RequestID)

	env, err := c.call(ctx, op, http.MethodPost, c.endpoints.Train, req, c.train)
	if err != nil {
		return nil, err
	}
	return decodeModelList(op, env)
}

// Abort cancels the training run started with requestID.
func (c *Client) Abort(ctx context.Context, requestID string) (*ModelList, error) {
	const op = "Abort"
	if requestID == "" {
		return nil, errors.New("abort request id is required")
	}
	ctx = logging.WithRequestID(ctx, requestID)

	body := map[string]string{"request_id": requestID}
	env, err := c.call(ctx, op, http.MethodPost, c.endpoints.Abort, body, c.http)
	if err != nil {
		return nil, err
	}
	return decodeModelList(op, env)
}

// DeleteModel removes modelID and returns the remaining models.
func (c *Client) DeleteModel(ctx context.Context, modelID string) (*ModelList, error) {
	const op = "DeleteModel"
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}
	ctx = logging.WithModelID(ctx, modelID)

	env, err := c.call(ctx, op, http.MethodDelete, modelPath(c.endpoints.Models, modelID), nil, c.http)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Delete(ctx, c.baseURL, modelID); err != nil {
			c.logger.Warn(ctx, "curve cache invalidation failed", zap.Error(err))
		}
	}
	return decodeModelList(op, env)
}

// NLUData returns the testing examples per intent.
func (c *Client) NLUData(ctx context.Context) (NLUData, error) {
	const op = "NLUData"
	env, err := c.call(ctx, op, http.MethodGet, c.endpoints.NLU, nil, c.http)
	if err != nil {
		return nil, err
	}
	raw, err := payload(op, env, "nlu_data")
	if err != nil {
		return nil, err
	}
	var data NLUData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, malformedPayload(op, "nlu_data", err)
	}
	return data, nil
}

// DownloadModel streams the artifact of modelID to w. A JSON response is
// the backend's error envelope.
func (c *Client) DownloadModel(ctx context.Context, modelID string, w io.Writer) (int64, error) {
	const op = "DownloadModel"
	if err := validateModelID(modelID); err != nil {
		return 0, err
	}
	ctx = logging.WithModelID(ctx, modelID)

	var written int64
	path := modelPath(c.endpoints.Models, modelID)
	err := c.instrument(ctx, op, http.MethodGet, c.routeBase(path), func(ctx context.Context) (int, error) {
		resp, err := c.send(ctx, op, http.MethodGet, path, nil, c.http)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if isJSON(resp.Header.Get("Content-Type")) {
			env, err := decodeEnvelope(op, resp)
			if err != nil {
				return resp.StatusCode, err
			}
			if err := checkStatus(op, env); err != nil {
				return resp.StatusCode, err
			}
			return resp.StatusCode, missingPayload(op, "artifact")
		}

		written, err = io.Copy(w, resp.Body)
		if err != nil {
			return resp.StatusCode, transportError(op, resp.StatusCode, err)
		}
		return resp.StatusCode, nil
	})
	return written, err
}

func decodeModelList(op string, env map[string]json.RawMessage) (*ModelList, error) {
	raw, err := payload(op, env, "model_list")
	if err != nil {
		return nil, err
	}
	list := &ModelList{}
	if err := json.Unmarshal(raw, &list.Models); err != nil {
		return nil, malformedPayload(op, "model_list", err)
	}
	if latest, ok := env["latest_model"]; ok && !isNull(latest) {
		if err := json.Unmarshal(latest, &list.Latest); err != nil {
			return nil, malformedPayload(op, "latest_model", err)
		}
	}
	SortNewestFirst(list.Models)
	return list, nil
}

// call sends a JSON request and returns the decoded envelope after the
// status check.
func (c *Client) call(ctx context.Context, op, method, path string, body any, hc *http.Client) (map[string]json.RawMessage, error) {
	var env map[string]json.RawMessage
	err := c.instrument(ctx, op, method, c.routeBase(path), func(ctx context.Context) (int, error) {
		resp, err := c.send(ctx, op, method, path, body, hc)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		env, err = decodeEnvelope(op, resp)
		if err != nil {
			return resp.StatusCode, err
		}
		c.logger.Trace(ctx, "backend response", zap.Int("keys", len(env)))
		return resp.StatusCode, checkStatus(op, env)
	})
	return env, err
}

// routeBase strips the model id so spans and metrics keep a bounded
// route cardinality.
func (c *Client) routeBase(path string) string {
	for _, base := range []string{c.endpoints.Curve, c.endpoints.Config, c.endpoints.Models} {
		if strings.HasPrefix(path, base+"/") {
			return base + "/{model_id}"
		}
	}
	return path
}

func (c *Client) send(ctx context.Context, op, method, path string, body any, hc *http.Client) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError(op, 0, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(op, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, transportError(op, resp.StatusCode, fmt.Errorf("unexpected status code %d", resp.StatusCode))
	}
	return resp, nil
}

// instrument wraps fn with a span, metrics and a debug log line.
func (c *Client) instrument(ctx context.Context, op, method, route string, fn func(context.Context) (int, error)) error {
	ctx, span := c.tracer.Start(ctx, "botstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
	defer span.End()
	if id := logging.ModelIDFromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("rasac.model_id", id))
	}

	start := time.Now()
	status, err := fn(ctx)
	elapsed := time.Since(start)
	outcome := Outcome(err)

	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, elapsed.Seconds(), attrs)

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("outcome", outcome),
	}
	if err != nil {
		c.logger.Debug(ctx, "backend request failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug(ctx, "backend request", fields...)
	}
	return err
}

func decodeEnvelope(op string, resp *http.Response) (map[string]json.RawMessage, error) {
	var env map[string]json.RawMessage
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxEnvelopeSize))
	if err := dec.Decode(&env); err != nil {
		return nil, transportError(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	if env == nil {
		return nil, transportError(op, resp.StatusCode, errors.New("response is not a JSON object"))
	}
	return env, nil
}

// checkStatus turns a body with a "status" key into a backend error.
func checkStatus(op string, env map[string]json.RawMessage) error {
	if _, ok := env["status"]; !ok {
		return nil
	}
	var detail string
	if raw, ok := env["response"]; ok {
		if err := json.Unmarshal(raw, &detail); err != nil {
			detail = string(raw)
		}
	}
	return backendError(op, detail)
}

func payload(op string, env map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, ok := env[key]
	if !ok || isNull(raw) {
		return nil, missingPayload(op, key)
	}
	return raw, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func validateModelID(modelID string) error {
	if modelID == "" || modelID == "." || modelID == ".." || strings.ContainsAny(modelID, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	return nil
}

func modelPath(base, modelID string) string {
	return base + "/" + url.PathEscape(modelID)
}
