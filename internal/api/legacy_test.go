package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
)

const legacyBody = `{"road_state":"pothole","agent_data":{"user_id":42,"accelerometer":{"x":1,"y":2,"z":3},"gps":{"latitude":50.0,"longitude":30.0},"timestamp":"2024-05-01T08:30:00"}}`

func TestLegacyCRUD(t *testing.T) {
	e := newTestEnv(t)

	resp, data := e.do(t, http.MethodPost, "/processed_agent_data/", legacyBody)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var rec record.Row
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, record.Row{
		ID: 1, RoadState: "pothole", UserID: 42,
		X: 1, Y: 2, Z: 3, Latitude: 50, Longitude: 30,
		Timestamp: rec.Timestamp,
	}, rec)
	assert.WithinDuration(t, time.Now(), rec.Timestamp, time.Minute, "ingest time replaces the client timestamp")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "result", "legacy routes answer without the envelope")

	resp, data = e.do(t, http.MethodGet, "/processed_agent_data/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "pothole", rec.RoadState)

	update := strings.Replace(legacyBody, "pothole", "normal", 1)
	resp, data = e.do(t, http.MethodPut, "/processed_agent_data/1", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "normal", rec.RoadState)

	resp, data = e.do(t, http.MethodGet, "/processed_agent_data/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []record.Row
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)

	resp, data = e.do(t, http.MethodDelete, "/processed_agent_data/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, int64(1), rec.ID)

	resp, data = e.do(t, http.MethodGet, "/processed_agent_data/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Item not found"}`, string(data))

	resp, data = e.do(t, http.MethodGet, "/processed_agent_data/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(data))
}

func TestLegacyValidation(t *testing.T) {
	e := newTestEnv(t)

	for _, body := range []string{
		`{"road_state":"pothole"}`,
		strings.Replace(legacyBody, "2024-05-01T08:30:00", "05/01/2024", 1),
		`not json`,
	} {
		resp, data := e.do(t, http.MethodPost, "/processed_agent_data/", body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)
		var detail struct {
			Detail []legacyValidationDetail `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(data, &detail))
		require.Len(t, detail.Detail, 1)
		assert.Equal(t, "body", detail.Detail[0].Loc[0])
	}

	resp, _ := e.do(t, http.MethodGet, "/processed_agent_data/abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, data := e.do(t, http.MethodPatch, "/processed_agent_data/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Method Not Allowed"}`, string(data))
}

func TestLegacyAcceptsExtraFields(t *testing.T) {
	e := newTestEnv(t)
	body := strings.Replace(legacyBody, `"road_state"`, `"source":"edge","road_state"`, 1)
	resp, _ := e.do(t, http.MethodPost, "/processed_agent_data/", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLegacyWebSocketPushesRows(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/42?format=cbor"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.CloseNow()
	require.Eventually(t, func() bool { return e.hub.Stats().PerAgent[42] == 1 }, waitFor, tick)

	resp, created := e.do(t, http.MethodPost, "/processed_agent_data/", legacyBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	typ, pushed, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, string(created), string(pushed), "push and REST share one row schema")
}

func TestLegacyWebSocketRejectsOtherMethods(t *testing.T) {
	e := newTestEnv(t)
	resp, data := e.do(t, http.MethodPost, "/ws/42", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Method Not Allowed"}`, string(data))
	assert.Zero(t, e.hub.Stats().Subscribers)
}
