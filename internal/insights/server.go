package insights

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/telemetry"
)

// maxBodySize bounds request bodies; curves of a few thousand epochs fit.
const maxBodySize = "8M"

// Server is the insights HTTP API.
type Server struct {
	echo    *echo.Echo
	service *Service
	metrics *Metrics
	tel     *telemetry.Telemetry
	logger  *logging.Logger
	config  *ServerConfig
	version string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	Version         string
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	DefaultPatience int    `json:"default_patience"`
	Telemetry       string `json:"telemetry"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the HTTP server. metrics and tel may be nil.
func NewServer(service *Service, metrics *Metrics, tel *telemetry.Telemetry, logger *logging.Logger, cfg *ServerConfig) (*Server, error) {
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg == nil {
		cfg = &ServerConfig{Host: "127.0.0.1", Port: 6070, ShutdownTimeout: 10 * time.Second}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{
		echo:    e,
		service: service,
		metrics: metrics,
		tel:     tel,
		logger:  logger.Named("http"),
		config:  cfg,
		version: cfg.Version,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(NewHTTPMetrics(tel).Middleware())
	e.Use(s.logRequests)

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/insights", s.handleInsights)
	v1.POST("/insights/:model_id", s.handleModelInsights)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(c.Request().WithContext(ctx))

		if err := next(c); err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:          "ok",
		Version:         s.version,
		DefaultPatience: s.service.DefaultPatience(),
		Telemetry:       "disabled",
	}
	if s.tel != nil && s.tel.IsEnabled() {
		resp.Telemetry = "ok"
		if h := s.tel.Health(); h.Degraded {
			resp.Telemetry = "degraded"
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInsights(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CurveData == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "curve_data is required")
	}
	return s.respond(c, &req)
}

func (s *Server) handleModelInsights(c echo.Context) error {
	req := Request{ModelID: c.Param("model_id")}
	if c.Request().ContentLength != 0 {
		var body struct {
			Patience *int `json:"patience_interval"`
		}
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		req.Patience = body.Patience
	}
	if q := c.QueryParam("patience"); q != "" {
		p, err := strconv.Atoi(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patience must be an integer")
		}
		req.Patience = &p
	}
	return s.respond(c, &req)
}

func (s *Server) respond(c echo.Context, req *Request) error {
	resp, err := s.service.Compute(c.Request().Context(), "http", req)
	switch {
	case errors.Is(err, ErrBadRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// errorHandler writes every error as ErrorResponse.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorResponse{Error: msg})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.echo.Listener = l
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", l.Addr().String()))
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down within the configured
// timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
