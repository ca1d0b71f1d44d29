package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatthread/internal/config"
	"chatthread/internal/models"
	"chatthread/internal/service"
	"chatthread/pkg/backend/memory"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomPath = "chat_app/chat_rooms/3_7"

type testEnv struct {
	server   *Server
	store    *memory.Store
	sessions *service.SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.New()
	sessions := service.NewSessionManager(store, service.NewMemoryCursorStore(), logger, 14)
	t.Cleanup(func() {
		_ = sessions.CloseAll(context.Background())
		_ = store.Close()
	})

	return &testEnv{
		server:   NewServer(config.Default(), sessions, logger, false),
		store:    store,
		sessions: sessions,
	}
}

func (e *testEnv) seed(t *testing.T, count int) {
	t.Helper()
	for i := 1; i <= count; i++ {
		value, err := models.NewMessage(7, fmt.Sprintf("m%d", i), int64(i)).Encode()
		require.NoError(t, err)
		require.NoError(t, e.store.Write(context.Background(), roomPath, fmt.Sprintf("k%03d", i), value))
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, httptest.NewRequest(method, path, reader))
	return w
}

func (e *testEnv) settle(t *testing.T, myID, friendID int) {
	t.Helper()
	ctl, ok := e.sessions.Get(myID, friendID)
	require.True(t, ok)
	ctl.Wait()
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) threadSnapshot {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var snap threadSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestServer_HandleHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestServer_HandleMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "counters")
}

func TestServer_HandlePrometheusMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", "")

	w := env.do(t, http.MethodGet, "/metrics/prometheus", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `chatthread_http_requests_total{endpoint="/health",method="GET"}`)
}

func TestServer_GetThreadOpensSession(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 20)

	env.do(t, http.MethodGet, "/chats/3/7/messages", "")
	env.settle(t, 3, 7)

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/chats/3/7/messages", ""))
	assert.Equal(t, 3, snap.MyID)
	assert.Equal(t, "3_7", snap.RoomID)
	assert.False(t, snap.IsLoading)
	require.Len(t, snap.Messages, 14)
	assert.Equal(t, "m20", snap.Messages[0].Text)
	assert.Equal(t, models.NextPageBefore("k007"), snap.Cursor)
}

func TestServer_UnparseableIDsDefaultToZero(t *testing.T) {
	env := newTestEnv(t)

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/chats/abc/5/messages", ""))
	assert.Equal(t, 0, snap.MyID)
	assert.Equal(t, "0_5", snap.RoomID)
}

func TestServer_LoadMore(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 20)

	env.do(t, http.MethodGet, "/chats/3/7/messages", "")
	env.settle(t, 3, 7)

	w := env.do(t, http.MethodPost, "/chats/3/7/more", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	env.settle(t, 3, 7)

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/chats/3/7/messages", ""))
	assert.Len(t, snap.Messages, 20)
	assert.False(t, snap.Cursor.HasNextPage)
}

func TestServer_SendMessage(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/chats/3/7/messages", "")
	env.settle(t, 3, 7)

	w := env.do(t, http.MethodPost, "/chats/3/7/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/chats/3/7/messages", ""))
		return len(snap.Messages) == 1
	}, time.Second, 10*time.Millisecond)

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/chats/3/7/messages", ""))
	assert.Equal(t, "3", snap.Messages[0].From)
	assert.Equal(t, "hello", snap.Messages[0].Text)
}

func TestServer_SendMessageRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "not json", body: "hello", code: "INVALID_INPUT"},
		{name: "empty text", body: `{"text":"   "}`, code: "VALIDATION_FAILED"},
		{name: "missing text", body: `{}`, code: "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(t, http.MethodPost, "/chats/3/7/messages", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["error"]["code"])
			assert.Equal(t, 0, env.store.Len(roomPath))
		})
	}
}

func TestServer_CloseThread(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/chats/3/7/messages", "")
	env.settle(t, 3, 7)

	w := env.do(t, http.MethodDelete, "/chats/3/7", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, env.sessions.Count())

	w = env.do(t, http.MethodDelete, "/chats/3/7", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_FOUND", resp["error"]["code"])
	assert.Equal(t, "session not found", resp["error"]["message"])
}

func TestServer_ResetThread(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/chats/3/7/messages", "")
	env.settle(t, 3, 7)

	w := env.do(t, http.MethodDelete, "/chats/3/7/cursor", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, env.sessions.Count())
}

func TestServer_StreamPushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 2)

	ts := httptest.NewServer(env.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/chats/3/7/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	readUntil := func(match func(threadSnapshot) bool) threadSnapshot {
		for {
			var snap threadSnapshot
			require.NoError(t, wsjson.Read(ctx, conn, &snap))
			if match(snap) {
				return snap
			}
		}
	}

	snap := readUntil(func(s threadSnapshot) bool { return len(s.Messages) == 2 && !s.IsLoading })
	assert.Equal(t, "3_7", snap.RoomID)

	value, err := models.NewMessage(7, "live", 99).Encode()
	require.NoError(t, err)
	require.NoError(t, env.store.Write(context.Background(), roomPath, "k999", value))

	snap = readUntil(func(s threadSnapshot) bool { return len(s.Messages) == 3 })
	assert.Equal(t, "live", snap.Messages[0].Text)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
