package local

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/interpreter"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	path string
	auth string
	body map[string]any
}

func llmServer(t *testing.T, code int, reply string) (*httptest.Server, *atomic.Int32, chan seenRequest) {
	t.Helper()
	var calls atomic.Int32
	seen := make(chan seenRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen <- seenRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, seen
}

func TestChatCompletionsFormat(t *testing.T) {
	srv, _, seen := llmServer(t, http.StatusOK, `{"choices":[{"message":{"content":"retroceder\n"}}]}`)
	c := New(config.LocalConfig{Endpoint: srv.URL + "/v1/chat/completions", Model: "llama3"}, time.Second)

	require.Equal(t, message.Reverse, c.Classify(context.Background(), "ve para atrás", ""))

	req := <-seen
	require.Equal(t, "/v1/chat/completions", req.path)
	require.Empty(t, req.auth)
	require.Equal(t, "llama3", req.body["model"])
	require.Equal(t, false, req.body["stream"])
	msgs, ok := req.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	require.Equal(t, interpreter.Instructions, msgs[0].(map[string]any)["content"])
	require.Equal(t, "ve para atrás", msgs[1].(map[string]any)["content"])
}

func TestOllamaGenerateFormat(t *testing.T) {
	srv, _, seen := llmServer(t, http.StatusOK, `{"response":"detener"}`)
	c := New(config.LocalConfig{Endpoint: srv.URL + "/api/generate"}, time.Second)

	require.Equal(t, message.Stop, c.Classify(context.Background(), "frena", "sk-local"))

	req := <-seen
	require.Equal(t, "Bearer sk-local", req.auth)
	require.Equal(t, "frena", req.body["prompt"])
	require.Equal(t, interpreter.Instructions, req.body["system"])
}

func TestRequireCredential(t *testing.T) {
	srv, calls, _ := llmServer(t, http.StatusOK, `{"response":"avanzar"}`)

	strict := New(config.LocalConfig{Endpoint: srv.URL + "/api/generate", RequireCredential: true}, time.Second)
	require.Equal(t, message.Unrecognized, strict.Classify(context.Background(), "avanza", ""))
	require.Zero(t, calls.Load())

	open := New(config.LocalConfig{Endpoint: srv.URL + "/api/generate"}, time.Second)
	require.Equal(t, message.Advance, open.Classify(context.Background(), "avanza", ""))
	require.Equal(t, int32(1), calls.Load())
}

func TestFailuresResolveToUnrecognized(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		reply string
	}{
		{name: "server error", code: http.StatusInternalServerError, reply: `oops`},
		{name: "outside vocabulary", code: http.StatusOK, reply: `{"choices":[{"message":{"content":"{\"action\":\"forward\"}"}}]}`},
		{name: "unknown shape", code: http.StatusOK, reply: `{"text":"avanzar"}`},
		{name: "plain text body", code: http.StatusOK, reply: `avanzar`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, _ := llmServer(t, tc.code, tc.reply)
			c := New(config.LocalConfig{Endpoint: srv.URL + "/v1/chat/completions"}, time.Second)
			require.Equal(t, message.Unrecognized, c.Classify(context.Background(), "x", ""))
		})
	}
}

func TestExtractContent(t *testing.T) {
	require.Equal(t, "a", extractContent([]byte(`{"choices":[{"message":{"content":"a"}},{"message":{"content":"b"}}]}`)))
	require.Equal(t, "b", extractContent([]byte(`{"response":"b"}`)))
	require.Empty(t, extractContent([]byte(`not json`)))
}
