// Package insights serves best-epoch analysis over HTTP and NATS.
package insights

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/rasac/internal/insights"

var (
	// ErrBadRequest marks requests the caller must fix.
	ErrBadRequest = errors.New("bad request")
	// ErrUpstream marks failures fetching a curve from the backend.
	ErrUpstream = errors.New("backend request failed")
)

// CurveFetcher loads a model's curves. *botstore.Client implements it.
type CurveFetcher interface {
	Curve(ctx context.Context, modelID string) (*curve.Series, error)
}

// Request asks for the best epoch of a curve. Patience falls back to the
// service default when nil.
type Request struct {
	ModelID   string        `json:"model_id,omitempty"`
	CurveData *curve.Series `json:"curve_data,omitempty"`
	Patience  *int          `json:"patience_interval,omitempty"`
}

// Response carries the analysis. Available is false, with a Reason, when
// the curve cannot be analyzed.
type Response struct {
	ModelID   string          `json:"model_id,omitempty"`
	Available bool            `json:"available"`
	Reason    string          `json:"reason,omitempty"`
	Patience  int             `json:"patience_interval"`
	BestEpoch int             `json:"best_epoch,omitempty"`
	Insights  *curve.Insights `json:"insights,omitempty"`
}

// Service runs the epoch selector for remote callers. It is safe for
// concurrent use.
type Service struct {
	fetcher  CurveFetcher
	patience atomic.Int64
	metrics  *Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher enables analysis by model id.
func WithFetcher(f CurveFetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l.Named("insights") }
}

// WithTelemetry traces every computation.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Service) { s.tracer = tel.Tracer(instrumentationName) }
}

// NewService creates a service with the given default patience.
func NewService(defaultPatience int, opts ...Option) (*Service, error) {
	if err := curve.ValidatePatience(defaultPatience); err != nil {
		return nil, err
	}
	s := &Service{logger: logging.NewNop()}
	WithTelemetry(nil)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.patience.Store(int64(defaultPatience))
	s.metrics.setDefaultPatience(defaultPatience)
	return s, nil
}

// DefaultPatience returns the patience used when a request has none.
func (s *Service) DefaultPatience() int {
	return int(s.patience.Load())
}

// SetDefaultPatience changes the default for subsequent requests.
func (s *Service) SetDefaultPatience(p int) error {
	if err := curve.ValidatePatience(p); err != nil {
		return err
	}
	if old := s.patience.Swap(int64(p)); int(old) != p {
		s.logger.Info(context.Background(), "default patience changed", zap.Int("from", int(old)), zap.Int("to", p))
	}
	s.metrics.setDefaultPatience(p)
	return nil
}

// Compute analyzes req. Requests with curve_data use it directly; otherwise
// the curve of req.ModelID is fetched.
func (s *Service) Compute(ctx context.Context, transport string, req *Request) (*Response, error) {
	start := time.Now()
	if req.ModelID != "" {
		ctx = logging.WithModelID(ctx, req.ModelID)
	}
	ctx, span := s.tracer.Start(ctx, "insights.Compute",
		trace.WithAttributes(attribute.String("rasac.transport", transport)))
	defer span.End()

	resp, err := s.compute(ctx, req)

	outcome := outcomeOf(resp, err)
	s.metrics.observe(transport, outcome, time.Since(start), resp)
	span.SetAttributes(attribute.String("rasac.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Warn(ctx, "insights request failed", zap.String("transport", transport), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("rasac.best_epoch", resp.BestEpoch))
	s.logger.Debug(ctx, "insights computed",
		zap.String("transport", transport),
		zap.Bool("available", resp.Available),
		zap.Int("best_epoch", resp.BestEpoch),
		zap.Int("patience", resp.Patience))
	return resp, nil
}

func (s *Service) compute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrBadRequest)
	}
	patience := s.DefaultPatience()
	if req.Patience != nil {
		patience = *req.Patience
	}
	if err := curve.ValidatePatience(patience); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	series := req.CurveData
	switch {
	case series != nil:
	case req.ModelID == "":
		return nil, fmt.Errorf("%w: curve_data or model_id is required", ErrBadRequest)
	case s.fetcher == nil:
		return nil, fmt.Errorf("%w: lookup by model id is not enabled", ErrBadRequest)
	default:
		var err error
		series, err = s.fetcher.Curve(ctx, req.ModelID)
		switch {
		case errors.Is(err, botstore.ErrInvalidModelID):
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		case errors.Is(err, curve.ErrInvalidSeries):
			// The model exists but has no usable training logs.
			return unavailable(req.ModelID, patience, err), nil
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = series.ModelID
	}
	in, err := curve.Analyze(series, patience)
	if err != nil {
		return unavailable(modelID, patience, err), nil
	}
	in.ModelID = modelID
	return &Response{
		ModelID:   modelID,
		Available: true,
		Patience:  patience,
		BestEpoch: in.BestEpoch,
		Insights:  in,
	}, nil
}

func unavailable(modelID string, patience int, err error) *Response {
	return &Response{
		ModelID:  modelID,
		Patience: patience,
		Reason:   curve.Reason(err),
	}
}

func outcomeOf(resp *Response, err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case err != nil:
		return "error"
	case !resp.Available:
		return "unavailable"
	default:
		return "ok"
	}
}
