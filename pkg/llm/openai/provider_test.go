package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm"
)

func sseServer(t *testing.T, status int, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
}

func deltaFrame(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestChatStreamForwardsDeltasInOrder(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{
		deltaFrame("Hel"),
		deltaFrame("lo"),
		deltaFrame("!"),
		"[DONE]",
	})
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, "test-model")

	events, err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	require.NoError(t, err)

	var got []string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			continue
		}
		got = append(got, ev.Content)
	}

	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
	assert.True(t, done)
}

func TestChatStreamTreatsTransportEndAsDone(t *testing.T) {
	// No [DONE] marker; the server just closes.
	srv := sseServer(t, http.StatusOK, []string{deltaFrame("partial")})
	defer srv.Close()

	p := NewOpenAIProvider("", srv.URL, "test-model")

	events, err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	require.NoError(t, err)

	var got []string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			continue
		}
		got = append(got, ev.Content)
	}

	assert.Equal(t, []string{"partial"}, got)
	assert.True(t, done)
}

func TestChatStreamNonOKStatusFailsSynchronously(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("wrong", srv.URL, "test-model")

	events, err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	assert.Nil(t, events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestChatStreamMalformedChunkIsTerminalError(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{
		deltaFrame("ok"),
		`{not json`,
	})
	defer srv.Close()

	p := NewOpenAIProvider("", srv.URL, "test-model")

	events, err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	require.NoError(t, err)

	var got []string
	var terminalErr error
	for ev := range events {
		if ev.Err != nil {
			terminalErr = ev.Err
			continue
		}
		if !ev.Done {
			got = append(got, ev.Content)
		}
	}

	assert.Equal(t, []string{"ok"}, got)
	assert.Error(t, terminalErr)
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"choices":[{"message":{"content":"full answer"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, "test-model")

	got, err := p.Chat(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	require.NoError(t, err)
	assert.Equal(t, "full answer", got)
}

func TestChatStreamModelOverride(t *testing.T) {
	var seenModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seenModel = req.Model
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", srv.URL, "default-model")

	events, err := p.ChatStream(context.Background(), nil, llm.WithModel("override-model"))
	require.NoError(t, err)
	for range events {
	}

	assert.Equal(t, "override-model", seenModel)
}
