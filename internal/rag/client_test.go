package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/twinsight/internal/cache"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

func TestClient_Chat_RequestShape(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer [1]"}}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "key", nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:        "m",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		FileIDs:      []string{"f1", "f2"},
		CollectionID: "kb",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer [1]", resp.Content)

	files, ok := got["files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 3)
	assert.Equal(t, map[string]any{"type": "file", "id": "f1"}, files[0])
	assert.Equal(t, map[string]any{"type": "collection", "id": "kb"}, files[2])
}

func TestClient_Chat_OmitsEmptyFiles(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"content":"ok"}}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "key", nil).Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	_, present := got["files"]
	assert.False(t, present)
}

func TestClient_Chat_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "key", nil).Chat(context.Background(), ChatRequest{Model: "m"})
	var upstream *model.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadGateway, upstream.StatusCode)
	assert.Equal(t, "down", upstream.Body)
}

func TestParseChatResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"choices", `{"choices":[{"message":{"content":"a"}}]}`, "a", false},
		{"message", `{"message":{"content":"b"}}`, "b", false},
		{"bare string", `"c"`, "c", false},
		{"no content", `{"choices":[]}`, "", true},
		{"not json", `<html>`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseChatResponse([]byte(tt.body))
			if tt.wantErr {
				var malformed *model.MalformedResponseError
				assert.True(t, errors.As(err, &malformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
		})
	}
}

func TestParseChatResponse_Sources(t *testing.T) {
	body := `{
		"choices":[{"message":{"content":"x"}}],
		"sources":[
			{"source":{"id":"f1"},"metadata":[{"name":"manual.pdf"}]},
			{"metadata":[{"source":"spec.docx"}]},
			{"metadata":[{"file_id":"f3","source":"drawing.dwg"}]},
			{"source":{"id":"f4"}}
		]
	}`
	resp, err := ParseChatResponse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, model.SourceIndexMap{
		1: {ExternalFileID: "f1", Name: "manual.pdf"},
		3: {ExternalFileID: "f3", Name: "drawing.dwg"},
		4: {ExternalFileID: "f4", Name: "Source 4"},
	}, resp.Sources)
}

func TestClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3:8b"},{"id":"gpt-4o"}]}`))
	}))
	defer server.Close()

	ids, err := NewClient(server.URL, "key", nil).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "gpt-4o"}, ids)
}

func TestPickModel(t *testing.T) {
	preferred := []string{"gemini-2.0-flash", "gpt-4o", "llama3"}

	assert.Equal(t, "gpt-4o", PickModel(preferred, []string{"llama3:8b", "gpt-4o"}))
	assert.Equal(t, "llama3:8b", PickModel(preferred, []string{"mistral", "llama3:8b"}))
	assert.Equal(t, "mistral", PickModel(preferred, []string{"mistral"}))
	assert.Equal(t, "", PickModel(preferred, nil))
}

type mapSettings map[string]string

func (m mapSettings) Get(ctx context.Context, key, def string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return def
}

func TestService_ConfigurationMissing(t *testing.T) {
	s := NewService(mapSettings{settings.KeyRAGURL: "http://x"}, model.RAGConfig{}, nil, nil, nil)
	_, err := s.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfigurationMissing))
	assert.False(t, s.Health(context.Background()))
}

func TestService_ClientRebuiltOnChange(t *testing.T) {
	m := mapSettings{settings.KeyRAGURL: "http://a", settings.KeyRAGAPIKey: "k"}
	s := NewService(m, model.RAGConfig{}, nil, nil, nil)

	c1, err := s.Client(context.Background())
	require.NoError(t, err)
	c2, _ := s.Client(context.Background())
	assert.Same(t, c1, c2)

	m[settings.KeyRAGAPIKey] = "k2"
	c3, _ := s.Client(context.Background())
	assert.NotSame(t, c1, c3)
}

func TestService_AutoSelectsAndCachesModel(t *testing.T) {
	listCalls := 0
	var usedModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/models":
			listCalls++
			_, _ = w.Write([]byte(`{"data":[{"id":"qwen2.5"},{"id":"gpt-4o-mini"}]}`))
		case "/api/chat/completions":
			var body chatRequestBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			usedModel = body.Model
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}
	}))
	defer server.Close()

	s := NewService(
		mapSettings{settings.KeyRAGURL: server.URL, settings.KeyRAGAPIKey: "k"},
		model.RAGConfig{PreferredModels: []string{"gpt-4o-mini", "qwen"}},
		cache.NewMemoryCache(time.Minute, time.Minute),
		nil, nil,
	)

	for i := 0; i < 2; i++ {
		_, err := s.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "q"}}})
		require.NoError(t, err)
	}
	assert.Equal(t, "gpt-4o-mini", usedModel)
	assert.Equal(t, 1, listCalls)
}

func TestService_ConfiguredModelWins(t *testing.T) {
	s := NewService(
		mapSettings{settings.KeyRAGURL: "http://unused", settings.KeyRAGAPIKey: "k", settings.KeyLLMModel: "deepseek-chat"},
		model.RAGConfig{Model: "gpt-4o"},
		nil, nil, nil,
	)
	m, err := s.SelectModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", m)
}
