package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/transport"
)

func newServer(t *testing.T, text string) (*Server, *session.Session) {
	t.Helper()
	net := transport.NewMemoryNetwork()
	cfg := session.DefaultConfig()
	cfg.DisplayName = "api"
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	ctrl := session.NewController(cfg, func() (transport.Transport, error) {
		return net.NewTransport(), nil
	})
	s, err := ctrl.HostRoom(context.Background(), "APITEST1", text)
	require.NoError(t, err)
	t.Cleanup(func() { s.Leave() })
	return New(s), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	srv, s := newServer(t, "abc")
	rec := do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, s.RoomID(), got.Room)
	assert.Equal(t, s.ReplicaID(), got.ReplicaID)
	assert.Equal(t, 3, got.Length)
	assert.Equal(t, 1, got.Participants)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTextEditing(t *testing.T) {
	srv, s := newServer(t, "Hello")

	rec := do(t, srv, http.MethodPost, "/insert", `{"index":5,"text":" World"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"Hello World"}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/delete", `{"index":0,"count":6}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "World", s.Text())

	rec = do(t, srv, http.MethodPut, "/text", `{"text":"fresh"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"fresh"}`, rec.Body.String())
}

func TestEditErrors(t *testing.T) {
	srv, _ := newServer(t, "abc")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"insert out of range", http.MethodPost, "/insert", `{"index":9,"text":"x"}`, http.StatusBadRequest},
		{"delete out of range", http.MethodPost, "/delete", `{"index":2,"count":5}`, http.StatusBadRequest},
		{"delete count overflows", http.MethodPost, "/delete", `{"index":1,"count":9223372036854775807}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/insert", `{`, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/text", "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := do(t, srv, http.MethodGet, "/text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"abc"}`, rec.Body.String())
}

func TestPresence(t *testing.T) {
	srv, s := newServer(t, "")

	rec := do(t, srv, http.MethodPut, "/presence", `{"name":"Ada","cursor":0}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/participants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ps []awareness.Participant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	require.Len(t, ps, 1)
	assert.Equal(t, "Ada", ps[0].Name)
	assert.True(t, ps[0].Local)
	require.NotNil(t, ps[0].Cursor)
	assert.Equal(t, s.ConnectionID(), ps[0].ID)

	long := strings.Repeat("x", session.MaxNameLength+1)
	rec = do(t, srv, http.MethodPut, "/presence", `{"name":"`+long+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/presence", `{"cursor":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	color := strings.Repeat("c", awareness.MaxColorLength+1)
	rec = do(t, srv, http.MethodPut, "/presence", `{"color":"`+color+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Ada", s.Participants()[0].Name)
}

func TestPreflight(t *testing.T) {
	srv, _ := newServer(t, "")
	rec := do(t, srv, http.MethodOptions, "/text", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestMetrics(t *testing.T) {
	srv, _ := newServer(t, "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsStream(t *testing.T) {
	srv, s := newServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?type=content", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.NoError(t, s.Insert(0, "hi"))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev session.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, session.EventContent, ev.Type)
		assert.Equal(t, s.RoomID(), ev.Room)
		if ev.Text == "hi" {
			return
		}
	}
	t.Fatalf("stream ended without the content event: %v", scanner.Err())
}
