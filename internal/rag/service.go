package rag

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/cache"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

// fallbackModel is used when nothing is configured and the model list is unavailable
const fallbackModel = "gemini-2.0-flash"

// SettingsReader exposes runtime settings
type SettingsReader interface {
	Get(ctx context.Context, key, def string) string
}

// Service resolves the connection settings on every call and keeps one
// client per distinct URL and key.
type Service struct {
	settings   SettingsReader
	cfg        model.RAGConfig
	cache      cache.Cache
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	client *Client
}

// NewService creates a RAG service. cache may be nil, in which case the
// auto-selected model is looked up on every call.
func NewService(s SettingsReader, cfg model.RAGConfig, c cache.Cache, httpClient *http.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		timeout := time.Duration(cfg.Timeout) * time.Second
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Service{
		settings:   s,
		cfg:        cfg,
		cache:      c,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (s *Service) get(ctx context.Context, key, def string) string {
	if s.settings == nil {
		return def
	}
	return s.settings.Get(ctx, key, def)
}

// Client returns a client for the current settings
func (s *Service) Client(ctx context.Context) (*Client, error) {
	baseURL := strings.TrimSuffix(s.get(ctx, settings.KeyRAGURL, s.cfg.BaseURL), "/")
	apiKey := s.get(ctx, settings.KeyRAGAPIKey, s.cfg.APIKey)

	if baseURL == "" {
		return nil, model.MissingConfig(settings.KeyRAGURL)
	}
	if apiKey == "" {
		return nil, model.MissingConfig(settings.KeyRAGAPIKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || s.client.baseURL != baseURL || s.client.apiKey != apiKey {
		s.client = NewClient(baseURL, apiKey, s.httpClient)
		s.logger.Info("RAG client created", zap.String("url", baseURL))
	}
	return s.client, nil
}

// Chat sends a request, filling in the model when the caller left it empty
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = s.selectModel(ctx, c)
	}

	s.logger.Debug("RAG chat",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("files", len(req.FileIDs)),
		zap.Bool("collection", req.CollectionID != ""),
	)
	return c.Chat(ctx, req)
}

// SelectModel returns the model to use: the LLM_MODEL setting, the
// configured model, or one picked from the service's model list by
// preference order.
func (s *Service) SelectModel(ctx context.Context) (string, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	return s.selectModel(ctx, c), nil
}

func (s *Service) selectModel(ctx context.Context, c *Client) string {
	if m := s.get(ctx, settings.KeyLLMModel, s.cfg.Model); m != "" {
		return m
	}

	key := cache.Key("rag", "model", c.baseURL)
	if s.cache != nil {
		if m, ok := s.cache.Get(key); ok && m != "" {
			return m
		}
	}

	available, err := c.ListModels(ctx)
	if err != nil {
		s.logger.Warn("model list unavailable, using fallback",
			zap.String("fallback", s.fallback()),
			zap.Error(err),
		)
		return s.fallback()
	}

	picked := PickModel(s.cfg.PreferredModels, available)
	if picked == "" {
		return s.fallback()
	}
	if s.cache != nil {
		s.cache.Set(key, picked)
	}
	s.logger.Info("model auto-selected", zap.String("model", picked), zap.Int("available", len(available)))
	return picked
}

func (s *Service) fallback() string {
	if len(s.cfg.PreferredModels) > 0 {
		return s.cfg.PreferredModels[0]
	}
	return fallbackModel
}

// Health reports whether the service is configured and reachable
func (s *Service) Health(ctx context.Context) bool {
	c, err := s.Client(ctx)
	if err != nil {
		return false
	}
	return c.Health(ctx)
}

// PickModel chooses from available by preference order. An exact id match
// wins over a substring match; with no match the first available model is
// returned.
func PickModel(preferred, available []string) string {
	if len(available) == 0 {
		return ""
	}
	for _, p := range preferred {
		for _, a := range available {
			if strings.EqualFold(a, p) {
				return a
			}
		}
	}
	for _, p := range preferred {
		lp := strings.ToLower(p)
		for _, a := range available {
			if strings.Contains(strings.ToLower(a), lp) {
				return a
			}
		}
	}
	return available[0]
}
