package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/twinsight/internal/citation"
	"github.com/ppiankov/twinsight/internal/metrics"
	"github.com/ppiankov/twinsight/internal/model"
)

// EvidenceGatherer collects evidence for a location
type EvidenceGatherer interface {
	Gather(ctx context.Context, loc model.Location) (*model.Evidence, error)
}

// CitationResolver finalizes backend text into linked text and sources
type CitationResolver interface {
	Resolve(ctx context.Context, text string, backend model.SourceIndexMap, docs []model.EvidenceDocument) (*citation.Result, error)
}

// Pipeline orchestrates one analysis: engine selection and evidence
// gathering, the backend call, then citation resolution
type Pipeline struct {
	selector *Selector
	gatherer EvidenceGatherer
	adapters map[model.EngineKind]Adapter
	resolver CitationResolver
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a pipeline. adapters maps each engine kind to its backend.
func New(selector *Selector, gatherer EvidenceGatherer, resolver CitationResolver, adapters map[model.EngineKind]Adapter, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		selector: selector,
		gatherer: gatherer,
		adapters: adapters,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
}

// AlertOptions carries request-scoped extras for an alert analysis
type AlertOptions struct {
	APIBaseURL string
}

// ProcessAlert analyzes a fired alert. The alert's RuleID, when set,
// selects the engine.
func (p *Pipeline) ProcessAlert(ctx context.Context, alert model.Alert, opts AlertOptions) (*model.AnalysisResult, error) {
	if strings.TrimSpace(alert.LocationCode) == "" {
		return nil, fmt.Errorf("alert has no location code")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.LocationName == "" {
		alert.LocationName = alert.LocationCode
	}
	if alert.Direction == "" {
		alert.Direction = model.DirectionFor(model.OpGreater, alert.Value, alert.Threshold)
	}

	subj := Subject{
		Kind:       SubjectAlert,
		Alert:      &alert,
		ModelID:    alert.ModelID,
		APIBaseURL: opts.APIBaseURL,
	}
	sel := SelectRequest{
		RuleID:       alert.RuleID,
		LocationCode: alert.LocationCode,
		Direction:    alert.Direction,
	}
	return p.run(ctx, subj, sel, nil)
}

// ManualRequest asks for an analysis of a space or asset
type ManualRequest struct {
	Target     model.Target
	Question   string
	ModelID    int64
	Engine     string // optional explicit engine
	APIBaseURL string
}

// Analyze runs a manual analysis
func (p *Pipeline) Analyze(ctx context.Context, req ManualRequest) (*model.AnalysisResult, error) {
	if strings.TrimSpace(req.Target.Code) == "" && strings.TrimSpace(req.Target.Name) == "" {
		return nil, fmt.Errorf("target has no code or name")
	}

	var forced *model.Engine
	if req.Engine != "" {
		kind, err := model.ParseEngineKind(req.Engine)
		if err != nil {
			return nil, err
		}
		forced = &model.Engine{Kind: kind}
	}

	target := req.Target
	subj := Subject{
		Kind:       SubjectManual,
		Target:     &target,
		Question:   req.Question,
		ModelID:    req.ModelID,
		APIBaseURL: req.APIBaseURL,
	}
	return p.run(ctx, subj, SelectRequest{}, forced)
}

func (p *Pipeline) run(ctx context.Context, subj Subject, sel SelectRequest, forced *model.Engine) (*model.AnalysisResult, error) {
	start := time.Now()
	engine, ev, err := p.prepare(ctx, subj, sel, forced)
	if err != nil {
		p.metrics.RecordAnalysis("unselected", 0, time.Since(start), err)
		return nil, err
	}

	result, err := p.execute(ctx, engine, subj, ev)
	sources := 0
	if result != nil {
		sources = len(result.Sources)
	}
	p.metrics.RecordAnalysis(string(engine.Kind), sources, time.Since(start), err)
	if err != nil {
		p.logger.Error("analysis failed",
			zap.String("engine", engine.String()),
			zap.String("location", subj.Location().Code),
			zap.Error(err),
		)
		return nil, err
	}

	p.logger.Info("analysis complete",
		zap.String("engine", engine.String()),
		zap.String("location", subj.Location().Code),
		zap.Int("documents", len(ev.Documents)),
		zap.Int("sources", sources),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// prepare selects the engine and gathers evidence concurrently. Evidence
// failures degrade to an empty bundle; selection failures abort.
func (p *Pipeline) prepare(ctx context.Context, subj Subject, sel SelectRequest, forced *model.Engine) (model.Engine, *model.Evidence, error) {
	var engine model.Engine
	ev := &model.Evidence{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if forced != nil {
			engine = *forced
			return nil
		}
		e, err := p.selector.Select(gctx, sel)
		if err != nil {
			return fmt.Errorf("select engine: %w", err)
		}
		engine = e
		return nil
	})
	g.Go(func() error {
		if p.gatherer == nil {
			return nil
		}
		gathered, err := p.gatherer.Gather(gctx, subj.Location())
		if err != nil {
			p.logger.Warn("evidence unavailable, continuing without it",
				zap.String("location", subj.Location().Code),
				zap.Error(err),
			)
			return nil
		}
		ev = gathered
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Engine{}, nil, err
	}
	return engine, ev, nil
}

func (p *Pipeline) execute(ctx context.Context, engine model.Engine, subj Subject, ev *model.Evidence) (*model.AnalysisResult, error) {
	adapter, ok := p.adapters[engine.Kind]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("no adapter for engine %s", engine.Kind)
	}

	out, err := adapter.Run(ctx, Request{
		Subject:      subj,
		Evidence:     ev,
		WorkflowPath: engine.WorkflowPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%s analysis: %w", engine.Kind, err)
	}

	resolved, err := p.resolver.Resolve(ctx, out.Text, out.SourceIndexMap, ev.Documents)
	if err != nil {
		return nil, fmt.Errorf("resolve citations: %w", err)
	}

	return &model.AnalysisResult{
		Text:     resolved.Text,
		Sources:  resolved.Sources,
		Engine:   engine,
		Alert:    subj.Alert,
		Evidence: ev,
	}, nil
}
