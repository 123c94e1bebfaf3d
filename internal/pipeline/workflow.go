package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

const (
	payloadSource  = "twinsight"
	payloadVersion = "1.0"

	maxWorkflowResponse = 4 << 20
)

// WorkflowAdapter delegates analysis to an external workflow webhook
type WorkflowAdapter struct {
	httpClient *http.Client
	settings   SettingsReader
	cfg        model.WorkflowConfig
	apiBaseURL string
	logger     *zap.Logger
}

// NewWorkflowAdapter creates a workflow adapter. apiBaseURL is the
// callback base sent to the workflow when neither the request nor the
// API_BASE_URL setting provides one.
func NewWorkflowAdapter(httpClient *http.Client, s SettingsReader, cfg model.WorkflowConfig, apiBaseURL string, logger *zap.Logger) *WorkflowAdapter {
	if httpClient == nil {
		timeout := time.Duration(cfg.Timeout) * time.Second
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowAdapter{
		httpClient: httpClient,
		settings:   s,
		cfg:        cfg,
		apiBaseURL: apiBaseURL,
		logger:     logger,
	}
}

type workflowMetadata struct {
	Source   string        `json:"source"`
	Version  string        `json:"version"`
	Field    string        `json:"field,omitempty"`
	Severity string        `json:"severity,omitempty"`
	Question string        `json:"question,omitempty"`
	Target   *model.Target `json:"target,omitempty"`
}

type workflowPayload struct {
	EventType    string           `json:"eventType"`
	LocationCode string           `json:"locationCode"`
	LocationName string           `json:"locationName"`
	Value        *float64         `json:"value,omitempty"`
	Threshold    *float64         `json:"threshold,omitempty"`
	Direction    model.Direction  `json:"direction,omitempty"`
	ModelID      int64            `json:"modelId,omitempty"`
	APIBaseURL   string           `json:"apiBaseUrl"`
	Timestamp    string           `json:"timestamp"`
	Metadata     workflowMetadata `json:"metadata"`
}

type workflowResponse struct {
	Analysis       *string              `json:"analysis"`
	SourceIndexMap model.SourceIndexMap `json:"sourceIndexMap"`
	Alert          json.RawMessage      `json:"alert"`
}

func (a *WorkflowAdapter) get(ctx context.Context, key, def string) string {
	if a.settings == nil {
		return def
	}
	return a.settings.Get(ctx, key, def)
}

// endpoint joins the webhook base with the request path. A path that is
// already an absolute URL is used as is.
func (a *WorkflowAdapter) endpoint(ctx context.Context, req Request) (string, error) {
	path := req.WorkflowPath
	if path == "" {
		if req.Subject.Kind == SubjectManual {
			path = a.cfg.ManualPath
		} else {
			path = a.cfg.AlertPath
		}
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}

	base := strings.TrimSuffix(a.get(ctx, settings.KeyWorkflowURL, a.cfg.BaseURL), "/")
	if base == "" {
		return "", model.MissingConfig(settings.KeyWorkflowURL)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

func (a *WorkflowAdapter) payload(ctx context.Context, subj Subject) workflowPayload {
	loc := subj.Location()
	p := workflowPayload{
		EventType:    string(subj.Kind),
		LocationCode: loc.Code,
		LocationName: loc.Name,
		ModelID:      subj.modelID(),
		APIBaseURL:   firstNonEmpty(subj.APIBaseURL, a.get(ctx, settings.KeyAPIBaseURL, a.apiBaseURL)),
		Timestamp:    subj.timestamp().Format(time.RFC3339),
		Metadata: workflowMetadata{
			Source:  payloadSource,
			Version: payloadVersion,
		},
	}
	if p.EventType == "" {
		p.EventType = string(SubjectAlert)
	}

	if al := subj.Alert; al != nil {
		value, threshold := al.Value, al.Threshold
		p.Value = &value
		p.Threshold = &threshold
		p.Direction = al.Direction
		p.Metadata.Field = al.Field
		p.Metadata.Severity = string(al.Severity())
	}
	if subj.Target != nil {
		p.Metadata.Target = subj.Target
		if p.LocationName == "" {
			p.LocationName = subj.Target.Name
		}
	}
	p.Metadata.Question = subj.Question
	return p
}

// Run posts the subject to the workflow and parses its answer. Failures
// are not retried.
func (a *WorkflowAdapter) Run(ctx context.Context, req Request) (*Output, error) {
	url, err := a.endpoint(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(a.payload(ctx, req.Subject))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.Info("invoking workflow",
		zap.String("url", url),
		zap.String("event", string(req.Subject.Kind)),
	)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workflow request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxWorkflowResponse))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.UpstreamError{
			Service:    "workflow",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	return parseWorkflowResponse(respBody)
}

func parseWorkflowResponse(data []byte) (*Output, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return &Output{Text: text, SourceIndexMap: model.SourceIndexMap{}}, nil
	}

	var wr workflowResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, &model.MalformedResponseError{Service: "workflow", Err: err}
	}
	if wr.Analysis == nil {
		return nil, &model.MalformedResponseError{Service: "workflow", Err: errors.New("missing analysis")}
	}
	if wr.SourceIndexMap == nil {
		wr.SourceIndexMap = model.SourceIndexMap{}
	}
	return &Output{Text: *wr.Analysis, SourceIndexMap: wr.SourceIndexMap}, nil
}

// Health probes the workflow engine's health endpoint
func (a *WorkflowAdapter) Health(ctx context.Context) bool {
	base := strings.TrimSuffix(a.get(ctx, settings.KeyWorkflowURL, a.cfg.BaseURL), "/")
	if base == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
