package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ppiankov/twinsight/internal/model"
)

func TestNewProxyFunc(t *testing.T) {
	fn := NewProxyFunc("http://proxy:3128", "http://secure-proxy:3128", "internal.local")

	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/api", "http://proxy:3128"},
		{"https://example.com/api", "http://secure-proxy:3128"},
		{"http://rag.internal.local/api", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		got, err := fn(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("%s: expected proxy %q, got %q", tt.url, tt.want, gotStr)
		}
	}
}

func TestNewHTTPClient_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewHTTPClient(model.HTTPConfig{UserAgent: "twinsight-test"}, 5*time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", c.Timeout)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if got != "twinsight-test" {
		t.Errorf("expected User-Agent twinsight-test, got %q", got)
	}
}
