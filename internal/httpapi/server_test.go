package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/inferedge/internal/inference"
	"github.com/edgerun/inferedge/internal/pipeline"
	"github.com/edgerun/inferedge/internal/plugin"
	"github.com/edgerun/inferedge/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	actor := inference.Spawn(filepath.Join(t.TempDir(), "missing.gguf"), 1, nil)
	t.Cleanup(actor.Shutdown)

	dir := t.TempDir()
	reg := plugin.LoadRegistry(dir, nil)
	runner := plugin.NewRunner(dir, nil)

	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := pipeline.New(actor, reg, runner, st, nil)
	return New("127.0.0.1:0", p, actor, st, "test-version", "deadbeef", 5*time.Second)
}

func TestHandleChatCompletions_Mock(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"model":    "m",
		"messages": []map[string]string{{"role": "user", "content": "hi there"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Choices[0].Message.Content, "[MOCK]")
}

func TestHandleChatCompletions_EmptyMessagesIs400(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{"model": "m", "messages": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var envelope map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "edge_runtime_error", envelope["error"]["type"])
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "deadbeef", resp.DeviceID)
}

func TestHandleReady(t *testing.T) {
	s := newTestServer(t)
	deadline := time.Now().Add(2 * time.Second)
	for !s.actor.IsReady() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.True(t, resp.MemoryOK)
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleSessionHistory_UnknownSessionIsEmptyArray(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp sessionHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Turns)
	assert.NotNil(t, resp.Turns)
}
