// Package chat implements the tool-augmented conversational loop: a RAG
// chat turn that can pull sensor history, emit client actions, and cite
// evidence documents.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/citation"
	"github.com/ppiankov/twinsight/internal/metrics"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
	"github.com/ppiankov/twinsight/internal/rag"
	"github.com/ppiankov/twinsight/internal/timeseries"
)

// ToolTemperature names the temperature tool in metrics
const ToolTemperature = "get_temperature"

// EvidenceGatherer collects evidence for a location
type EvidenceGatherer interface {
	Gather(ctx context.Context, loc model.Location) (*model.Evidence, error)
}

// CitationResolver finalizes generated text
type CitationResolver interface {
	Resolve(ctx context.Context, text string, backend model.SourceIndexMap, docs []model.EvidenceDocument) (*citation.Result, error)
}

// Request is one chat turn
type Request struct {
	Message string        `json:"message"`
	Context *model.Target `json:"context,omitempty"`
	ModelID int64         `json:"fileId,omitempty"`
	History []rag.Message `json:"history,omitempty"`
}

// Deps are the collaborators of a Loop. Catalog, Series, Knowledge and
// Metrics may be nil.
type Deps struct {
	Chat      pipeline.ChatService
	Gatherer  EvidenceGatherer
	Resolver  CitationResolver
	Knowledge pipeline.KnowledgeLookup
	Catalog   Catalog
	Series    SeriesSource
	Skills    *Registry
	Metrics   *metrics.Metrics
}

// Loop runs chat turns
type Loop struct {
	deps   Deps
	tags   *TagResolver
	cfg    model.ChatConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewLoop creates a chat loop
func NewLoop(deps Deps, cfg model.ChatConfig, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PrefetchHours <= 0 {
		cfg.PrefetchHours = 24
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	l := &Loop{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	if deps.Series != nil {
		l.tags = NewTagResolver(deps.Catalog, deps.Series, logger)
	}
	return l
}

// turn carries the state of one Process call
type turn struct {
	req        Request
	evidence   *model.Evidence
	vocabulary []model.CatalogEntry
	vocabDone  bool
	chart      *model.ChartSeries
}

// Process answers one chat message
func (l *Loop) Process(ctx context.Context, req Request) (resp *model.ChatResponse, err error) {
	defer func() { l.deps.Metrics.RecordChat(err) }()

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, errors.New("message is required")
	}

	t := &turn{req: req, evidence: l.gatherEvidence(ctx, req)}

	system := systemPrompt(req.Context, t.evidence, l.deps.Skills)
	if addendum := l.prefetch(ctx, t); addendum != "" {
		system += "\n" + addendum
	}

	collection, files := pipeline.ResolveScope(ctx, l.deps.Knowledge, req.ModelID, t.evidence.DocumentIDs(), l.logger)

	messages := make([]rag.Message, 0, len(req.History)+2)
	messages = append(messages, rag.Message{Role: "system", Content: system})
	messages = append(messages, l.history(req.History)...)
	messages = append(messages, rag.Message{Role: "user", Content: req.Message})

	first, err := l.deps.Chat.Chat(ctx, rag.ChatRequest{
		Messages:     messages,
		FileIDs:      files,
		CollectionID: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	text, sources := first.Content, first.Sources
	if call, ok := DetectToolCall(first.Content); ok {
		second, err := l.runTool(ctx, t, call, messages, first.Content, files, collection)
		l.deps.Metrics.RecordToolCall(ToolTemperature, err)
		switch {
		case err != nil:
			l.logger.Warn("temperature tool failed", zap.String("tag", call.Tag), zap.Error(err))
		case second != nil:
			text = second.Content
			if len(second.Sources) > 0 {
				sources = second.Sources
			}
		}
	}

	text, actions := ExtractActions(text, l.logger)
	actions = withoutAction(actions, ActionQueryTemperature)
	text = StripToolCalls(text)

	resolved, err := l.deps.Resolver.Resolve(ctx, text, sources, t.evidence.Documents)
	if err != nil {
		return nil, fmt.Errorf("resolve citations: %w", err)
	}

	l.logger.Info("chat turn complete",
		zap.Int("sources", len(resolved.Sources)),
		zap.Int("actions", len(actions)),
		zap.Bool("chart", t.chart != nil),
	)

	return &model.ChatResponse{
		Role:      "assistant",
		Content:   resolved.Text,
		Sources:   resolved.Sources,
		ChartData: t.chart,
		Actions:   actions,
		Timestamp: l.now().UTC(),
	}, nil
}

// gatherEvidence collects evidence for the selected entity's location.
// Failures leave the evidence empty.
func (l *Loop) gatherEvidence(ctx context.Context, req Request) *model.Evidence {
	empty := &model.Evidence{}
	code := locationOf(req.Context)
	if code == "" || l.deps.Gatherer == nil {
		return empty
	}

	loc := model.Location{Code: code, ModelID: req.ModelID}
	if req.Context.Type != "asset" {
		loc.Name = req.Context.Name
	}
	ev, err := l.deps.Gatherer.Gather(ctx, loc)
	if err != nil || ev == nil {
		l.logger.Warn("chat evidence gathering failed", zap.String("location", code), zap.Error(err))
		return empty
	}
	return ev
}

// locationOf returns the location code of a selected entity. Spaces use
// properties.code before their own code; assets use their room.
func locationOf(t *model.Target) string {
	if t == nil {
		return ""
	}
	if t.Type == "asset" {
		if t.Room != "" {
			return t.Room
		}
		return propString(t.Properties, "room")
	}
	if code := propString(t.Properties, "code"); code != "" {
		return code
	}
	return t.Code
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// history keeps the most recent user and assistant messages
func (l *Loop) history(msgs []rag.Message) []rag.Message {
	kept := make([]rag.Message, 0, len(msgs))
	for _, m := range msgs {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) > l.cfg.HistoryLimit {
		kept = kept[len(kept)-l.cfg.HistoryLimit:]
	}
	return kept
}

// prefetch loads recent sensor data when the message asks about it and
// returns the prompt addendum, or "" when nothing was fetched
func (l *Loop) prefetch(ctx context.Context, t *turn) string {
	if l.tags == nil || !HasSeriesIntent(t.req.Message) || !l.deps.Series.Enabled(ctx) {
		return ""
	}

	tag, ok := l.resolveTag(ctx, t, "")
	if !ok {
		return ""
	}

	chart, err := l.fetch(ctx, tag, time.Duration(l.cfg.PrefetchHours)*time.Hour)
	if err != nil {
		l.logger.Warn("prefetch failed", zap.String("tag", tag), zap.Error(err))
		return ""
	}
	t.chart = chart

	return "## 实时数据（请优先使用以下数据回答，无需再调用温度查询工具）\n" + seriesSummary(chart)
}

// resolveTag maps the requested tag, or failing that the message, onto a
// sensor tag
func (l *Loop) resolveTag(ctx context.Context, t *turn, requested string) (string, bool) {
	var selected string
	if t.req.Context != nil {
		selected = firstNonEmpty(locationOf(t.req.Context), t.req.Context.Code)
	}

	candidates := make([]string, 0, 6)
	if requested != "" {
		candidates = append(candidates, requested)
	}
	candidates = append(candidates, Candidates(t.req.Message, l.vocabulary(ctx, t), selected)...)

	tag, ok, err := l.tags.Resolve(ctx, candidates, t.req.ModelID)
	if err != nil {
		l.logger.Warn("tag resolution failed", zap.Error(err))
		return "", false
	}
	return tag, ok
}

func (l *Loop) vocabulary(ctx context.Context, t *turn) []model.CatalogEntry {
	if t.vocabDone || l.deps.Catalog == nil {
		return t.vocabulary
	}
	t.vocabDone = true

	entries, err := l.deps.Catalog.LocationVocabulary(ctx, t.req.ModelID)
	if err != nil {
		l.logger.Warn("location vocabulary lookup failed", zap.Error(err))
		return nil
	}
	t.vocabulary = entries
	return entries
}

// fetch reads span of history for tag and builds the chart series
func (l *Loop) fetch(ctx context.Context, tag string, span time.Duration) (*model.ChartSeries, error) {
	end := l.now()
	start := end.Add(-span)

	points, err := l.deps.Series.QueryRange(ctx, tag, start, end, timeseries.AggregateWindow(span))
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	stats, err := l.deps.Series.Stats(ctx, tag, start, end)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	return &model.ChartSeries{
		Type:   "temperature",
		Tag:    tag,
		Title:  fmt.Sprintf("%s 温度趋势", tag),
		Points: points,
		Range:  model.TimeRange{StartMs: start.UnixMilli(), EndMs: end.UnixMilli()},
		Stats:  stats,
	}, nil
}

// runTool answers a temperature tool call with a second pass. It returns
// nil, nil when no sensor tag matched; the first answer then stands.
func (l *Loop) runTool(ctx context.Context, t *turn, call *ToolCall, messages []rag.Message, firstText string, files []string, collection string) (*rag.ChatResponse, error) {
	if l.tags == nil {
		return nil, errors.New("time-series backend not configured")
	}

	tag, ok := l.resolveTag(ctx, t, call.Tag)
	if !ok {
		l.logger.Info("tool call matched no sensor", zap.String("requested", call.Tag))
		return nil, nil
	}

	chart, err := l.fetch(ctx, tag, timeseries.ParseLookback(call.Duration, 24*time.Hour))
	if err != nil {
		return nil, err
	}
	t.chart = chart

	followUp := make([]rag.Message, 0, len(messages)+2)
	followUp = append(followUp, messages...)
	followUp = append(followUp,
		rag.Message{Role: "assistant", Content: firstText},
		rag.Message{Role: "system", Content: "工具返回结果：\n" + seriesSummary(chart) + "\n请基于以上数据直接回答用户的问题，不要再调用工具。"},
	)

	second, err := l.deps.Chat.Chat(ctx, rag.ChatRequest{
		Messages:     followUp,
		FileIDs:      files,
		CollectionID: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("second pass: %w", err)
	}
	return second, nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
