package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/logging"
)

// Connect dials the configured NATS server.
func Connect(cfg config.NATSConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	opts := []nats.Option{
		nats.Name("rasac-insights"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// Reply is the NATS response envelope. Code mirrors the HTTP status the
// same request would get.
type Reply struct {
	*Response
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
}

// Responder answers insights requests on a NATS subject.
type Responder struct {
	nc      *nats.Conn
	service *Service
	logger  *logging.Logger
	subject string
	queue   string
	timeout time.Duration
	sub     *nats.Subscription
}

// NewResponder creates a responder. Members of the same queue group share
// the load.
func NewResponder(nc *nats.Conn, service *Service, subject, queue string, logger *logging.Logger) (*Responder, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Responder{
		nc:      nc,
		service: service,
		logger:  logger.Named("nats"),
		subject: subject,
		queue:   queue,
		timeout: 30 * time.Second,
	}, nil
}

// Start subscribes. Requests are handled on the subscription goroutine.
func (r *Responder) Start() error {
	var (
		sub *nats.Subscription
		err error
	)
	if r.queue != "" {
		sub, err = r.nc.QueueSubscribe(r.subject, r.queue, r.handle)
	} else {
		sub, err = r.nc.Subscribe(r.subject, r.handle)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}
	r.sub = sub
	r.logger.Info(context.Background(), "nats responder started",
		zap.String("subject", r.subject),
		zap.String("queue", r.queue))
	return nil
}

// Stop drains the subscription.
func (r *Responder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

func (r *Responder) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := r.answer(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error(ctx, "failed to encode nats reply", zap.Error(err))
		data, _ = json.Marshal(Reply{Code: 500, Error: "internal error"})
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn(ctx, "failed to send nats reply", zap.Error(err))
	}
}

func (r *Responder) answer(ctx context.Context, data []byte) Reply {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Code: 400, Error: "invalid request body"}
	}
	resp, err := r.service.Compute(ctx, "nats", &req)
	switch {
	case errors.Is(err, ErrBadRequest):
		return Reply{Code: 400, Error: err.Error()}
	case errors.Is(err, ErrUpstream):
		return Reply{Code: 502, Error: err.Error()}
	case err != nil:
		return Reply{Code: 500, Error: err.Error()}
	}
	return Reply{Response: resp, Code: 200}
}

// Ask sends req to subject and waits for the reply.
func Ask(ctx context.Context, nc *nats.Conn, subject string, req *Request) (*Reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request: %w", err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("invalid nats reply: %w", err)
	}
	return &reply, nil
}
