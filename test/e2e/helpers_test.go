package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/test/harness"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type envelope struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
	Code   string          `json:"code"`
}

// call issues a request and returns the status and raw body.
func call(t *testing.T, srv *harness.Server, method, path, body string, header ...string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// ingest posts one record for agentID and returns what was stored.
func ingest(t *testing.T, srv *harness.Server, agentID int64, roadState string, header ...string) record.Record {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"agentId":       agentID,
		"accelerometer": map[string]float64{"x": 0.1, "y": -0.2, "z": 9.8},
		"gps":           map[string]float64{"latitude": 50.45, "longitude": 30.52},
		"roadState":     roadState,
	})
	require.NoError(t, err)
	status, data := call(t, srv, http.MethodPost, "/api/v1/records", string(body), header...)
	require.Equal(t, http.StatusCreated, status, string(data))

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	var rec record.Record
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	return rec
}

// sseClient is an open events subscription.
type sseClient struct {
	resp *http.Response
	br   *bufio.Reader
}

type sseEvent struct {
	Event string
	ID    string
	Data  string
}

// subscribeSSE opens /events for agentID and waits for the ready frame.
func subscribeSSE(t *testing.T, srv *harness.Server, agentID string) *sseClient {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/agents/" + agentID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	c := &sseClient{resp: resp, br: bufio.NewReader(resp.Body)}
	t.Cleanup(c.Close)
	ev := c.Next(t)
	require.Equal(t, "ready", ev.Event)
	return c
}

// Next blocks until the next event arrives.
func (c *sseClient) Next(t *testing.T) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := c.br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.Event != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// NextRecord skips heartbeats and decodes the next record event.
func (c *sseClient) NextRecord(t *testing.T) record.Record {
	t.Helper()
	for {
		ev := c.Next(t)
		if ev.Event != "record" {
			continue
		}
		var rec record.Record
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &rec))
		return rec
	}
}

func (c *sseClient) Close() { _ = c.resp.Body.Close() }

// dialWS opens a WebSocket subscription on path.
func dialWS(t *testing.T, srv *harness.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, _, err := websocket.Dial(ctx, srv.WebSocketURL(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

// readWS reads one message with a timeout.
func readWS(t *testing.T, c *websocket.Conn, format record.Format) record.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	rec, err := record.Decode(data, format)
	require.NoError(t, err)
	return rec
}

func waitSubscribers(t *testing.T, srv *harness.Server, agentID int64, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Hub.Registry().Len(agentID) == n
	}, waitFor, tick, "agent %d should have %d subscribers", agentID, n)
}
