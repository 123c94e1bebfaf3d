// Package server exposes the analysis, chat and readings API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/chat"
	"github.com/ppiankov/twinsight/internal/citation"
	"github.com/ppiankov/twinsight/internal/metrics"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
	"github.com/ppiankov/twinsight/internal/trigger"
	"github.com/ppiankov/twinsight/internal/worker"
)

// Analyzer runs alert and manual analyses
type Analyzer interface {
	ProcessAlert(ctx context.Context, alert model.Alert, opts pipeline.AlertOptions) (*model.AnalysisResult, error)
	Analyze(ctx context.Context, req pipeline.ManualRequest) (*model.AnalysisResult, error)
}

// Chatter answers chat turns
type Chatter interface {
	Process(ctx context.Context, req chat.Request) (*model.ChatResponse, error)
}

// RuleEvaluator checks readings against the trigger rules
type RuleEvaluator interface {
	Evaluate(ctx context.Context, reading model.Reading, rc trigger.ReadingContext) (*trigger.EvaluationReport, error)
}

// EvidenceGatherer collects evidence for a location
type EvidenceGatherer interface {
	Gather(ctx context.Context, loc model.Location) (*model.Evidence, error)
}

// CitationResolver finalizes generated text
type CitationResolver interface {
	Resolve(ctx context.Context, text string, backend model.SourceIndexMap, docs []model.EvidenceDocument) (*citation.Result, error)
}

// HealthChecker reports whether an upstream is reachable
type HealthChecker interface {
	Health(ctx context.Context) bool
}

// Deps are the services behind the routes
type Deps struct {
	Analyzer  Analyzer
	Chat      Chatter
	Evaluator RuleEvaluator
	Gatherer  EvidenceGatherer
	Knowledge pipeline.KnowledgeLookup
	Resolver  CitationResolver
	Health    map[string]HealthChecker
	Metrics   *metrics.Metrics
	Registry  prometheus.Gatherer // served on /metrics when set
}

// Server is the HTTP API
type Server struct {
	echo    *echo.Echo
	deps    Deps
	cfg     model.ServerConfig
	limiter *worker.Limiter
	logger  *zap.Logger
}

// New builds the server and registers its routes
func New(deps Deps, cfg model.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = worker.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestID())
	e.Use(s.observe())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	api := e.Group("/api")
	if s.limiter != nil {
		api.Use(s.rateLimit())
	}

	ai := api.Group("/ai")
	ai.GET("/health", s.handleHealth)
	ai.POST("/temperature-alert", s.handleTemperatureAlert)
	ai.POST("/analyze", s.handleAnalyze)
	ai.GET("/context", s.handleContext)
	ai.POST("/context", s.handleContext)
	ai.POST("/format-citations", s.handleFormatCitations)
	ai.POST("/chat", s.handleChat)

	api.POST("/iot/readings", s.handleReadings)

	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if s.limiter != nil {
		go s.sweepLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := time.Duration(s.cfg.ShutdownTO) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(5 * time.Minute); n > 0 {
				s.logger.Debug("rate limiter swept", zap.Int("removed", n))
			}
		}
	}
}
