package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(url string) *AnthropicProvider {
	p := NewAnthropicProvider("test-model", "test-key")
	p.BaseURL = url
	p.Backoff = time.Millisecond
	p.limiter = nil
	return p
}

func TestAnthropicProvider_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, 1024, req.MaxTokens)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	out, err := newTestAnthropic(srv.URL).GenerateResponse(context.Background(), "hi", "sys", map[string]interface{}{"max_tokens": 1024})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnthropicProvider_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	_, err := newTestAnthropic(srv.URL).GenerateResponse(context.Background(), "hi", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAnthropicProvider_SendsImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		blocks := req.Messages[0].Content
		require.Len(t, blocks, 2)
		assert.Equal(t, "image", blocks[0].Type)
		assert.Equal(t, "image/png", blocks[0].Source.MediaType)
		assert.Equal(t, "text", blocks[1].Type)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"seen"}]}`))
	}))
	defer srv.Close()

	out, err := newTestAnthropic(srv.URL).GenerateWithImages(context.Background(), "describe", "",
		[]Image{{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "seen", out)
}

func TestDeepSeekProvider_NoVision(t *testing.T) {
	p := &DeepSeekProvider{APIKey: "k"}
	_, err := p.GenerateWithImages(context.Background(), "x", "", []Image{{Data: []byte{1}}}, nil)
	assert.ErrorIs(t, err, ErrNoVision)
}
