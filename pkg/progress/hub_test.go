package progress

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestHubBroadcastsInOrder(t *testing.T) {
	hub := NewHub(HubConfig{Logger: zerolog.New(io.Discard)})
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server.URL)

	hub.Emit(Event{Type: EventRunStarted, RunID: "r1"})
	hub.Emit(Event{Type: EventPlanProduced, RunID: "r1", Data: map[string]interface{}{"steps": 2}})
	hub.Emit(Event{Type: EventRunCompleted, RunID: "r1"})

	for i, want := range []EventType{EventRunStarted, EventPlanProduced, EventRunCompleted} {
		e := readEvent(t, conn)
		assert.Equal(t, want, e.Type)
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, "r1", e.RunID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestHubRefusesClientWithoutID(t *testing.T) {
	hub := NewHub(HubConfig{Logger: zerolog.New(io.Discard)})
	hub.newID = func() (string, error) { return "", errors.New("entropy exhausted") }
	server := httptest.NewServer(hub)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())
	assert.Empty(t, hub.Clients())
}

func TestHubReplaysBacklog(t *testing.T) {
	hub := NewHub(HubConfig{Backlog: 2, Logger: zerolog.New(io.Discard)})
	server := httptest.NewServer(hub)
	defer server.Close()

	hub.Emit(Event{Type: EventRunStarted})
	hub.Emit(Event{Type: EventPlanProduced})
	hub.Emit(Event{Type: EventFilesProduced})

	conn := dialHub(t, server.URL)
	first := readEvent(t, conn)
	second := readEvent(t, conn)
	assert.Equal(t, int64(2), first.Seq)
	assert.Equal(t, int64(3), second.Seq)

	hub.Emit(Event{Type: EventRunCompleted})
	assert.Equal(t, int64(4), readEvent(t, conn).Seq)

	assert.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, hub.Clients(), 1)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(HubConfig{Logger: zerolog.New(io.Discard)})
	addr, err := hub.Start("127.0.0.1:0")
	require.NoError(t, err)

	conn := dialHub(t, "http://"+addr.String()+"/progress")
	hub.Emit(Event{Type: EventRunStarted})
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	assert.Equal(t, 0, hub.Count())

	hub.Emit(Event{Type: EventRunCompleted})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
