// Package training starts and aborts backend training runs and keeps the
// local journal in step with them.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/trainqueue"
)

// Backend is the part of the botstore client the runner needs.
type Backend interface {
	Train(ctx context.Context, req botstore.TrainRequest) (*botstore.ModelList, error)
	Abort(ctx context.Context, requestID string) (*botstore.ModelList, error)
}

// Journal records training requests.
type Journal interface {
	Push(ctx context.Context, requestID string, configs map[string]any, testing bool) (*trainqueue.Entry, error)
	Complete(ctx context.Context, requestID, modelID string) error
	Fail(ctx context.Context, requestID string, cause error) error
	MarkAborted(ctx context.Context, requestID string) error
	LatestRunning(ctx context.Context) (*trainqueue.Entry, error)
}

// Result describes a finished training run.
type Result struct {
	RequestID string
	ModelID   string
	Models    *botstore.ModelList
	Duration  time.Duration
}

// Runner drives training requests.
type Runner struct {
	backend Backend
	journal Journal
	logger  *logging.Logger
	newID   func() string
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(backend Backend, journal Journal, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		backend: backend,
		journal: journal,
		logger:  logger.Named("training"),
		newID:   func() string { return uuid.New().String() },
	}
}

// NewRequestID returns a fresh training request id.
func (r *Runner) NewRequestID() string { return r.newID() }

// Start trains with configs and blocks until the backend answers. The
// request id is journaled before the call so Abort can find it.
func (r *Runner) Start(ctx context.Context, configs map[string]any, testing bool) (*Result, error) {
	return r.StartWithID(ctx, r.newID(), configs, testing)
}

// StartWithID is Start with a caller-chosen request id.
func (r *Runner) StartWithID(ctx context.Context, requestID string, configs map[string]any, testing bool) (*Result, error) {
	if len(configs) == 0 {
		return nil, errors.New("training configs are required")
	}
	ctx = logging.WithRequestID(ctx, requestID)

	entry, err := r.journal.Push(ctx, requestID, configs, testing)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "training started", zap.Bool("testing", testing))

	list, err := r.backend.Train(ctx, botstore.TrainRequest{
		RequestID:     requestID,
		Configs:       configs,
		TestingStatus: testing,
	})
	elapsed := time.Since(entry.StartedAt)
	if err != nil {
		// The journal is settled even when ctx is cancelled.
		if jerr := r.journal.Fail(context.WithoutCancel(ctx), requestID, err); jerr != nil && !errors.Is(jerr, trainqueue.ErrNotRunning) {
			r.logger.Warn(ctx, "failed to journal training failure", zap.Error(jerr))
		}
		r.logger.Error(ctx, "training failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, fmt.Errorf("training %s: %w", requestID, err)
	}

	if err := r.journal.Complete(ctx, requestID, list.Latest); err != nil && !errors.Is(err, trainqueue.ErrNotRunning) {
		r.logger.Warn(ctx, "failed to journal training completion", zap.Error(err))
	}
	r.logger.Info(ctx, "training finished",
		zap.String("model_id", list.Latest),
		zap.Duration("duration", elapsed))

	return &Result{
		RequestID: requestID,
		ModelID:   list.Latest,
		Models:    list,
		Duration:  elapsed,
	}, nil
}

// Abort cancels requestID, or the latest running request when requestID
// is empty. It returns the id that was aborted.
func (r *Runner) Abort(ctx context.Context, requestID string) (string, *botstore.ModelList, error) {
	if requestID == "" {
		entry, err := r.journal.LatestRunning(ctx)
		if err != nil {
			return "", nil, err
		}
		requestID = entry.RequestID
	}
	ctx = logging.WithRequestID(ctx, requestID)

	list, err := r.backend.Abort(ctx, requestID)
	if err != nil {
		return requestID, nil, fmt.Errorf("abort %s: %w", requestID, err)
	}
	if err := r.journal.MarkAborted(ctx, requestID); err != nil && !errors.Is(err, trainqueue.ErrNotFound) && !errors.Is(err, trainqueue.ErrNotRunning) {
		r.logger.Warn(ctx, "failed to journal abort", zap.Error(err))
	}
	r.logger.Info(ctx, "training aborted")
	return requestID, list, nil
}
