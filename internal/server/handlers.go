package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/chat"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
	"github.com/ppiankov/twinsight/internal/trigger"
)

const healthTimeout = 5 * time.Second

func respond(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

// baseURL is the externally visible base of this request, handed to
// workflows that call back into the API
func baseURL(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host
}

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.deps.Health))
	for name := range s.deps.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{
		Status:    "ok",
		Services:  make(map[string]string, len(names)),
		Timestamp: time.Now().UTC(),
	}
	for _, name := range names {
		if s.deps.Health[name].Health(ctx) {
			resp.Services[name] = "connected"
			continue
		}
		resp.Services[name] = "disconnected"
		resp.Status = "degraded"
	}
	return respond(c, resp)
}

type alertRequest struct {
	RoomCode    string   `json:"roomCode"`
	RoomName    string   `json:"roomName"`
	Temperature *float64 `json:"temperature"`
	Threshold   float64  `json:"threshold"`
	AlertType   string   `json:"alertType"`
	Field       string   `json:"field"`
	FileID      int64    `json:"fileId"`
	RuleID      int64    `json:"ruleId"`
}

func (s *Server) handleTemperatureAlert(c echo.Context) error {
	var req alertRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	if strings.TrimSpace(req.RoomCode) == "" || req.Temperature == nil {
		return invalid("missing required parameters: roomCode, temperature")
	}

	alert := model.Alert{
		LocationCode: req.RoomCode,
		LocationName: req.RoomName,
		Field:        req.Field,
		Value:        *req.Temperature,
		Threshold:    req.Threshold,
		ModelID:      req.FileID,
		RuleID:       req.RuleID,
	}
	if alert.Field == "" {
		alert.Field = "temperature"
	}
	switch model.Direction(strings.ToLower(req.AlertType)) {
	case model.DirectionHigh:
		alert.Direction = model.DirectionHigh
	case model.DirectionLow:
		alert.Direction = model.DirectionLow
	case "":
	default:
		return invalid(fmt.Sprintf("invalid alertType %q", req.AlertType))
	}

	result, err := s.deps.Analyzer.ProcessAlert(c.Request().Context(), alert, pipeline.AlertOptions{APIBaseURL: baseURL(c)})
	if err != nil {
		return err
	}
	return respond(c, result)
}

type analyzeRequest struct {
	Type     string        `json:"type"`
	Target   *model.Target `json:"target"`
	Question string        `json:"question"`
	FileID   int64         `json:"fileId"`
	Engine   string        `json:"engine"`
}

func (s *Server) handleAnalyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	if req.Type == "" || req.Target == nil {
		return invalid("missing required parameters: type, target")
	}

	target := *req.Target
	switch strings.ToLower(req.Type) {
	case "asset":
		target.Type = "asset"
	case "space", "room":
		target.Type = "space"
	default:
		return invalid(fmt.Sprintf("invalid type %q", req.Type))
	}
	if strings.TrimSpace(target.Code) == "" && strings.TrimSpace(target.Name) == "" {
		return invalid("target needs a code or name")
	}
	if req.Engine != "" {
		if _, err := model.ParseEngineKind(req.Engine); err != nil {
			return invalid(err.Error())
		}
	}

	result, err := s.deps.Analyzer.Analyze(c.Request().Context(), pipeline.ManualRequest{
		Target:     target,
		Question:   req.Question,
		ModelID:    req.FileID,
		Engine:     req.Engine,
		APIBaseURL: baseURL(c),
	})
	if err != nil {
		return err
	}
	return respond(c, result)
}

type contextRequest struct {
	RoomCode string `json:"roomCode"`
	RoomName string `json:"roomName"`
	FileID   int64  `json:"fileId"`
}

// contextResponse keeps the flat shape workflows read
type contextResponse struct {
	Success        bool                     `json:"success"`
	Assets         []model.EvidenceAsset    `json:"assets"`
	Documents      []model.EvidenceDocument `json:"documents"`
	SearchPatterns []string                 `json:"searchPatterns"`
	KBID           *string                  `json:"kbId"`
	FileIDs        []string                 `json:"fileIds"`
}

func (s *Server) handleContext(c echo.Context) error {
	var req contextRequest
	if c.Request().Method == http.MethodGet {
		req.RoomCode = c.QueryParam("roomCode")
		req.RoomName = c.QueryParam("roomName")
		if v := c.QueryParam("fileId"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return invalid("fileId must be a number")
			}
			req.FileID = id
		}
	} else if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	if strings.TrimSpace(req.RoomCode) == "" {
		return invalid("missing required parameters: roomCode")
	}

	ctx := c.Request().Context()
	ev, err := s.deps.Gatherer.Gather(ctx, model.Location{Code: req.RoomCode, Name: req.RoomName, ModelID: req.FileID})
	if err != nil {
		return fmt.Errorf("gather context: %w", err)
	}

	resp := contextResponse{
		Success:        true,
		Assets:         ev.Assets,
		Documents:      ev.Documents,
		SearchPatterns: ev.SearchPatterns,
		FileIDs:        []string{},
	}
	if req.FileID != 0 && s.deps.Knowledge != nil {
		collection, files := pipeline.ResolveScope(ctx, s.deps.Knowledge, req.FileID, ev.DocumentIDs(), s.logger)
		if collection != "" {
			resp.KBID = &collection
		}
		if files != nil {
			resp.FileIDs = files
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type formatRequest struct {
	AnalysisText   string                   `json:"analysisText"`
	SourceIndexMap model.SourceIndexMap     `json:"sourceIndexMap"`
	Documents      []model.EvidenceDocument `json:"documents"`
}

type formatResponse struct {
	Success       bool           `json:"success"`
	FormattedText string         `json:"formattedText"`
	Sources       []model.Source `json:"sources"`
}

func (s *Server) handleFormatCitations(c echo.Context) error {
	var req formatRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	if strings.TrimSpace(req.AnalysisText) == "" {
		return invalid("missing analysisText")
	}

	res, err := s.deps.Resolver.Resolve(c.Request().Context(), req.AnalysisText, req.SourceIndexMap, req.Documents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, formatResponse{
		Success:       true,
		FormattedText: res.Text,
		Sources:       res.Sources,
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return invalid("missing message")
	}

	resp, err := s.deps.Chat.Process(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond(c, resp)
}

func (s *Server) handleReadings(c echo.Context) error {
	var sub trigger.Submission
	if err := c.Bind(&sub); err != nil {
		return invalid("invalid request body")
	}
	if strings.TrimSpace(sub.LocationCode) == "" {
		return invalid("missing locationCode")
	}
	if len(sub.Values) == 0 {
		return invalid("missing values")
	}

	report, err := s.deps.Evaluator.Evaluate(c.Request().Context(), sub.Values, sub.ReadingContext)
	if err != nil {
		return err
	}
	if report.Fired > 0 {
		s.logger.Info("readings fired rules",
			zap.String("location", sub.LocationCode),
			zap.Int("fired", report.Fired),
		)
	}
	return respond(c, report)
}
