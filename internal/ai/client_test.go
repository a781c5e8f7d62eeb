package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/pkg/logger"
)

func fakeMessages(t *testing.T, reply string, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if req["model"] != "claude-test" {
			t.Errorf("model=%v", req["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"usage":         map[string]any{"input_tokens": 42, "output_tokens": 12},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	cfg := config.AnthropicConfig{Enabled: true, APIKey: "test-key", Model: "claude-test", MaxTokens: 128}
	return NewClient(cfg, nil, logger.Nop(),
		option.WithBaseURL(srv.URL),
		option.WithHTTPClient(srv.Client()),
		option.WithMaxRetries(0),
	)
}

func TestSimilarityParsesFencedJSON(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := fakeMessages(t, "```json\n{\"similarity\": 0.93, \"reason\": \"same program and deadline\"}\n```", &requests)
	client := newTestClient(srv)

	sim, err := client.Similarity(context.Background(),
		"Rural Water Grant\nFunding for rural water systems",
		"Grants for rural water infrastructure")
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	if sim != 0.93 {
		t.Fatalf("similarity=%v want 0.93", sim)
	}
	if requests.Load() != 1 {
		t.Fatalf("requests=%d", requests.Load())
	}
}

func TestSimilarityRejectsBadResponses(t *testing.T) {
	t.Parallel()

	for name, reply := range map[string]string{
		"not json":     "these look like the same program",
		"out of range": `{"similarity": 1.7, "reason": "very same"}`,
	} {
		var requests atomic.Int32
		client := newTestClient(fakeMessages(t, reply, &requests))
		if _, err := client.Similarity(context.Background(), "a", "b"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure! {\"a\":{\"b\":2}} hope this helps", `{"a":{"b":2}}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		if got := stripMarkdownCodeBlock(tt.in); got != tt.want {
			t.Fatalf("stripMarkdownCodeBlock(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("héllo", 10); got != "héllo" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Fatalf("got %q", got)
	}
}
