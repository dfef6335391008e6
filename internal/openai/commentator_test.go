package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCommentReturnsModelText(t *testing.T) {
	t.Parallel()
	var req map[string]any
	srv := completionServer(t, "  **Market Picture:** calm  \n", &req)
	c := NewCommentator("test-key", "gpt-4o-mini", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	got, err := c.Comment(context.Background(), "TSLA_Close ARIMA RMSE=12.5")
	require.NoError(t, err)
	assert.Equal(t, "**Market Picture:** calm", got)
	assert.Equal(t, "gpt-4o-mini", req["model"])
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestCommentRejectsEmptyReport(t *testing.T) {
	t.Parallel()
	c := NewCommentator("test-key", "")
	_, err := c.Comment(context.Background(), "   ")
	assert.Error(t, err)
	assert.Equal(t, "gpt-4", c.model)
}

func TestCommentNoChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"gpt-4","choices":[]}`))
	}))
	defer srv.Close()
	c := NewCommentator("k", "gpt-4", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := c.Comment(context.Background(), "report")
	assert.ErrorContains(t, err, "no response")
}
