package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSSETestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := newTestServer(t)
	ts := httptest.NewServer(NewSSEHandler(srv))
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestSSE_Preflight(t *testing.T) {
	_, ts := newSSETestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestSSE_GeneratesSessionIDWhenAbsent(t *testing.T) {
	srv, ts := newSSETestServer(t)

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The connected event carries the generated ID, which is live in the
	// session table and accepts POSTs.
	event, data := readEvent(t, bufio.NewReader(resp.Body))
	require.Equal(t, "connected", event)
	var connected ConnectedEvent
	require.NoError(t, json.Unmarshal(data, &connected))
	require.NotEmpty(t, connected.SessionID)

	_, ok := srv.Sessions().Get(connected.SessionID)
	assert.True(t, ok)

	ack, err := http.Post(ts.URL+"?sessionId="+connected.SessionID, "application/json",
		strings.NewReader(`{"method":"tools/list","id":1}`))
	require.NoError(t, err)
	defer ack.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(ack.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestSSE_PostToUnknownSession(t *testing.T) {
	_, ts := newSSETestServer(t)

	resp, err := http.Post(ts.URL+"?sessionId=ghost", "application/json",
		strings.NewReader(`{"method":"tools/list","id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// 200 with an inline error object, never a transport failure.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "unknown session")
}

// readEvent scans the stream until one full SSE event (event + data lines)
// has been read, skipping comment frames.
func readEvent(t *testing.T, r *bufio.Reader) (string, []byte) {
	t.Helper()
	var event string
	var data []byte
	for {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		line = bytes.TrimRight(line, "\n")
		switch {
		case len(line) == 0:
			if event != "" {
				return event, data
			}
		case line[0] == ':':
			// keep-alive comment
		case bytes.HasPrefix(line, []byte("event: ")):
			event = string(line[len("event: "):])
		case bytes.HasPrefix(line, []byte("data: ")):
			data = line[len("data: "):]
		}
	}
}

func TestSSE_FullRoundTrip(t *testing.T) {
	_, ts := newSSETestServer(t)

	streamResp, err := http.Get(ts.URL + "?sessionId=round-trip")
	require.NoError(t, err)
	defer streamResp.Body.Close()

	assert.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", streamResp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(streamResp.Body)

	event, data := readEvent(t, reader)
	require.Equal(t, "connected", event)
	var connected ConnectedEvent
	require.NoError(t, json.Unmarshal(data, &connected))
	assert.Equal(t, "round-trip", connected.SessionID)

	post := func(payload string) {
		t.Helper()
		resp, err := http.Post(ts.URL+"?sessionId=round-trip", "application/json",
			strings.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()
		var ack map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		require.Equal(t, true, ack["ok"])
	}

	post(`{"method":"initialize","id":"init"}`)
	event, data = readEvent(t, reader)
	require.Equal(t, "message", event)
	var initResp JSONRPCResponse
	require.NoError(t, json.Unmarshal(data, &initResp))
	assert.Equal(t, "init", initResp.ID)
	assert.Nil(t, initResp.Error)

	post(`{"type":"request","id":"create","tool":"create_project","args":{"name":"sse-project"}}`)
	event, data = readEvent(t, reader)
	require.Equal(t, "response", event)
	var toolResp ResponseEvent
	require.NoError(t, json.Unmarshal(data, &toolResp))
	assert.Equal(t, "create", toolResp.ID)
	assert.False(t, toolResp.IsError)
	require.Len(t, toolResp.Content, 1)
	assert.Contains(t, toolResp.Content[0].Text, "sse-project")

	// Responses for queued messages arrive strictly in POST order.
	for i := 0; i < 3; i++ {
		post(fmt.Sprintf(`{"type":"request","id":"e%d","tool":"create_entity","args":{"name":"n%d","type":"t","description":"d"}}`, i, i))
	}
	for i := 0; i < 3; i++ {
		event, data = readEvent(t, reader)
		require.Equal(t, "response", event)
		require.NoError(t, json.Unmarshal(data, &toolResp))
		assert.Equal(t, fmt.Sprintf("e%d", i), toolResp.ID)
	}
}

func TestSSE_DisconnectEvictsSession(t *testing.T) {
	srv, ts := newSSETestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"?sessionId=drop", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	event, _ := readEvent(t, reader)
	require.Equal(t, "connected", event)

	// Leave a queued message behind so the worker is busy when the
	// client goes away.
	ack, err := http.Post(ts.URL+"?sessionId=drop", "application/json",
		strings.NewReader(`{"type":"request","id":"r1","tool":"list_projects","args":{}}`))
	require.NoError(t, err)
	ack.Body.Close()

	cancel()

	// The handler waits for its worker, closes the session, and removes
	// it from the table.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := srv.Sessions().Get("drop"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not evicted after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSSE_ProjectPreselection(t *testing.T) {
	srv, ts := newSSETestServer(t)

	// Seed a project directly through a throwaway session.
	sink := &captureSink{}
	seed := srv.Sessions().Create("seed", sink)
	require.NoError(t, seed.CompleteHandshake())
	p, isError := callTool(t, srv, seed, sink, "create_project", map[string]interface{}{"name": "preselected"})
	require.False(t, isError)

	streamResp, err := http.Get(ts.URL + "?sessionId=pre&projectId=" + p["id"].(string))
	require.NoError(t, err)
	defer streamResp.Body.Close()

	reader := bufio.NewReader(streamResp.Body)
	event, _ := readEvent(t, reader)
	require.Equal(t, "connected", event)

	// The session can use graph tools right after initialize, without
	// select_project.
	deadline := time.After(5 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(ts.URL+"?sessionId=pre", "application/json",
			strings.NewReader(`{"method":"initialize","id":"i"}`))
		if err == nil {
			resp.Body.Close()
		}
		resp, err = http.Post(ts.URL+"?sessionId=pre", "application/json",
			strings.NewReader(`{"type":"request","id":"le","tool":"list_entities","args":{}}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	event, _ = readEvent(t, reader) // initialize reply
	require.Equal(t, "message", event)
	event, data := readEvent(t, reader)
	require.Equal(t, "response", event)
	var toolResp ResponseEvent
	require.NoError(t, json.Unmarshal(data, &toolResp))
	assert.False(t, toolResp.IsError)

	select {
	case <-done:
	case <-deadline:
		t.Fatal("posts did not complete")
	}
}
