// Package rag talks to an Open WebUI compatible chat service that answers
// with retrieval over knowledge collections and files.
package rag

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

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/twinsight/internal/model"
)

const (
	chatPath   = "/api/chat/completions"
	healthPath = "/health"

	// maxResponseSize caps how much of a response body is read
	maxResponseSize = 8 << 20
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileRef restricts retrieval to a file or a whole collection
type FileRef struct {
	Type string `json:"type"` // "file" or "collection"
	ID   string `json:"id"`
}

// ChatRequest is a retrieval-augmented chat call
type ChatRequest struct {
	Model        string
	Messages     []Message
	FileIDs      []string
	CollectionID string
}

// Files lists specific files first and the collection last
func (r ChatRequest) Files() []FileRef {
	files := make([]FileRef, 0, len(r.FileIDs)+1)
	for _, id := range r.FileIDs {
		if id == "" {
			continue
		}
		files = append(files, FileRef{Type: "file", ID: id})
	}
	if r.CollectionID != "" {
		files = append(files, FileRef{Type: "collection", ID: r.CollectionID})
	}
	return files
}

// ChatResponse is the parsed answer
type ChatResponse struct {
	Content string
	Sources model.SourceIndexMap
}

type chatRequestBody struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Files    []FileRef `json:"files,omitempty"`
}

type chatMessage struct {
	Content string `json:"content"`
}

type ragSource struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Metadata []struct {
		FileID string `json:"file_id"`
		Name   string `json:"name"`
		Source string `json:"source"`
	} `json:"metadata"`
}

type chatResponseBody struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Message *chatMessage `json:"message"`
	Sources []ragSource  `json:"sources"`
}

// Client is a connection to one RAG service
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient gets a 60 second timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat sends a chat completion with retrieval files attached
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(chatRequestBody{
		Model:    req.Model,
		Messages: req.Messages,
		Files:    req.Files(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RAG request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.UpstreamError{
			Service:    "rag",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	return ParseChatResponse(respBody)
}

// ParseChatResponse extracts the answer text and the cited sources. The
// text is taken from choices[0].message.content, then message.content,
// then a bare JSON string body.
func ParseChatResponse(data []byte) (*ChatResponse, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return &ChatResponse{Content: text, Sources: model.SourceIndexMap{}}, nil
	}

	var body chatResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &model.MalformedResponseError{Service: "rag", Err: err}
	}

	out := &ChatResponse{Sources: sourceIndexMap(body.Sources)}
	switch {
	case len(body.Choices) > 0 && body.Choices[0].Message.Content != "":
		out.Content = body.Choices[0].Message.Content
	case body.Message != nil && body.Message.Content != "":
		out.Content = body.Message.Content
	default:
		return nil, &model.MalformedResponseError{Service: "rag", Err: errors.New("no message content")}
	}
	return out, nil
}

// sourceIndexMap numbers sources by position. Sources without a file id
// are skipped but keep their position.
func sourceIndexMap(sources []ragSource) model.SourceIndexMap {
	m := model.SourceIndexMap{}
	for i, src := range sources {
		idx := i + 1

		fileID := src.Source.ID
		var name, alt string
		if len(src.Metadata) > 0 {
			if fileID == "" {
				fileID = src.Metadata[0].FileID
			}
			name = src.Metadata[0].Name
			alt = src.Metadata[0].Source
		}
		if fileID == "" {
			continue
		}
		if name == "" {
			name = alt
		}
		if name == "" {
			name = fmt.Sprintf("Source %d", idx)
		}
		m[idx] = model.SourceRef{ExternalFileID: fileID, Name: name}
	}
	return m
}

// Health reports whether the service answers its health endpoint
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ListModels lists the model ids the service exposes under /api/models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	cfg := openai.DefaultConfig(c.apiKey)
	cfg.BaseURL = c.baseURL + "/api"
	cfg.HTTPClient = c.httpClient

	list, err := openai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
