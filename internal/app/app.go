// Package app wires the services behind the CLI commands.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/cache"
	"github.com/ppiankov/twinsight/internal/chat"
	"github.com/ppiankov/twinsight/internal/citation"
	"github.com/ppiankov/twinsight/internal/evidence"
	"github.com/ppiankov/twinsight/internal/metrics"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
	"github.com/ppiankov/twinsight/internal/rag"
	"github.com/ppiankov/twinsight/internal/server"
	"github.com/ppiankov/twinsight/internal/settings"
	"github.com/ppiankov/twinsight/internal/store"
	"github.com/ppiankov/twinsight/internal/timeseries"
	"github.com/ppiankov/twinsight/internal/trigger"
	"github.com/ppiankov/twinsight/internal/util"
)

// DispatchMode says how fired alerts reach the pipeline
type DispatchMode int

const (
	// DispatchAsync runs each analysis in the background; the reading
	// request returns as soon as the rules are checked.
	DispatchAsync DispatchMode = iota
	// DispatchSync waits for the analysis and reports its error
	DispatchSync
	// DispatchNone only records fired alerts
	DispatchNone
)

const dispatchTimeout = 3 * time.Minute

// App holds the wired services
type App struct {
	Config    *model.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     *store.Store
	Settings  *settings.Store
	Series    *timeseries.Client
	RAG       *rag.Service
	Workflow  *pipeline.WorkflowAdapter
	Gatherer  *evidence.Gatherer
	Resolver  *citation.Resolver
	Pipeline  *pipeline.Pipeline
	Chat      *chat.Loop
	Evaluator *trigger.Evaluator

	db         *pgxpool.Pool
	background sync.WaitGroup
}

// New connects to the database and builds every service
func New(ctx context.Context, cfg *model.Config, mode DispatchMode, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := store.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Store:    store.New(db),
		db:       db,
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	ttl := time.Duration(cfg.Settings.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	a.Settings = settings.New(a.Store, cache.NewMemoryCache(ttl, 2*ttl), logger.Named("settings"))

	ragTimeout := time.Duration(cfg.RAG.Timeout) * time.Second
	a.RAG = rag.NewService(a.Settings, cfg.RAG, cache.NewMemoryCache(10*time.Minute, 20*time.Minute),
		util.NewHTTPClient(cfg.HTTP, ragTimeout), logger.Named("rag"))

	workflowTimeout := time.Duration(cfg.Workflow.Timeout) * time.Second
	a.Workflow = pipeline.NewWorkflowAdapter(util.NewHTTPClient(cfg.HTTP, workflowTimeout), a.Settings,
		cfg.Workflow, cfg.Server.BaseURL, logger.Named("workflow"))

	a.Series = timeseries.NewClient(a.Settings, cfg.TimeSeries, logger.Named("timeseries"))
	a.Gatherer = evidence.NewGatherer(a.Store, cfg.Analysis.DocumentLimit, logger.Named("evidence"))
	a.Resolver = citation.NewResolver(a.Store, citation.Options{
		PreviewURL:       cfg.Citation.PreviewURL,
		DownloadURL:      cfg.Citation.DownloadURL,
		ReferenceSection: cfg.Citation.ReferenceSection,
	}, logger.Named("citation"))

	selector := pipeline.NewSelector(a.Store, a.Settings, cfg.Analysis, logger.Named("selector"))
	a.Pipeline = pipeline.New(selector, a.Gatherer, a.Resolver, map[model.EngineKind]pipeline.Adapter{
		model.EngineWorkflow: a.Workflow,
		model.EngineDirect:   pipeline.NewDirectAdapter(a.RAG, a.Store, logger.Named("direct")),
	}, a.Metrics, logger.Named("pipeline"))

	skills, err := chat.LoadRegistry(cfg.Chat.SkillsDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load skills: %w", err)
	}
	a.Chat = chat.NewLoop(chat.Deps{
		Chat:      a.RAG,
		Gatherer:  a.Gatherer,
		Resolver:  a.Resolver,
		Knowledge: a.Store,
		Catalog:   a.Store,
		Series:    a.Series,
		Skills:    skills,
		Metrics:   a.Metrics,
	}, cfg.Chat, logger.Named("chat"))

	a.Evaluator = trigger.NewEvaluator(a.Store,
		NewDispatcher(a.Pipeline, mode, cfg.Server.BaseURL, &a.background, logger.Named("dispatch")),
		a.Store, a.Metrics, logger.Named("trigger"))

	return a, nil
}

// Server builds the HTTP API over the wired services
func (a *App) Server() *server.Server {
	return server.New(server.Deps{
		Analyzer:  a.Pipeline,
		Chat:      a.Chat,
		Evaluator: a.Evaluator,
		Gatherer:  a.Gatherer,
		Knowledge: a.Store,
		Resolver:  a.Resolver,
		Health: map[string]server.HealthChecker{
			"rag":      a.RAG,
			"workflow": a.Workflow,
		},
		Metrics:  a.Metrics,
		Registry: a.Registry,
	}, a.Config.Server, a.Logger.Named("http"))
}

// Close waits for background analyses, then releases the time-series
// client and the database pool.
func (a *App) Close() {
	a.background.Wait()
	if a.Series != nil {
		a.Series.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// AlertProcessor is the part of the pipeline the dispatcher calls
type AlertProcessor interface {
	ProcessAlert(ctx context.Context, alert model.Alert, opts pipeline.AlertOptions) (*model.AnalysisResult, error)
}

// NewDispatcher returns the dispatcher for mode. Background analyses are
// detached from the request context and bounded by their own timeout.
// Each one is tracked in wg so shutdown can drain them.
func NewDispatcher(p AlertProcessor, mode DispatchMode, baseURL string, wg *sync.WaitGroup, logger *zap.Logger) trigger.Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	opts := pipeline.AlertOptions{APIBaseURL: baseURL}

	switch mode {
	case DispatchNone:
		return trigger.DispatchFunc(func(ctx context.Context, alert model.Alert) error {
			logger.Info("alert fired",
				zap.String("location", alert.LocationCode),
				zap.String("field", alert.Field),
				zap.Float64("value", alert.Value),
			)
			return nil
		})
	case DispatchSync:
		return trigger.DispatchFunc(func(ctx context.Context, alert model.Alert) error {
			_, err := p.ProcessAlert(ctx, alert, opts)
			return err
		})
	default:
		return trigger.DispatchFunc(func(ctx context.Context, alert model.Alert) error {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer cancel()
				if _, err := p.ProcessAlert(bg, alert, opts); err != nil {
					logger.Warn("background analysis failed",
						zap.String("location", alert.LocationCode),
						zap.Int64("rule", alert.RuleID),
						zap.Error(err),
					)
				}
			}()
			return nil
		})
	}
}
