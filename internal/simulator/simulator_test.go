package simulator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
	"github.com/road-telemetry/roadwatch/test/harness"
)

var kyiv = record.GPS{Latitude: 50.45, Longitude: 30.52}

func TestClassify(t *testing.T) {
	tests := []struct {
		z    float64
		want string
	}{
		{Gravity, StateNormal},
		{Gravity + 1.4, StateNormal},
		{Gravity + 2, StateBump},
		{Gravity - 2, StateBump},
		{Gravity - 5, StatePothole},
		{0, StatePothole},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.z), "z=%v", tt.z)
	}
}

func TestAgentStepProducesValidInput(t *testing.T) {
	a := newAgent(42, record.GPS{Latitude: 89.99995, Longitude: 179.99995}, 1)
	for range 500 {
		in := a.step()
		require.NoError(t, record.Validate(in))
		assert.Equal(t, int64(42), *in.AgentID)
		assert.Equal(t, Classify(in.Accelerometer.Z), in.RoadState)
	}
}

func TestAgentIsDeterministicPerSeed(t *testing.T) {
	a, b := newAgent(7, kyiv, 99), newAgent(7, kyiv, 99)
	for range 20 {
		assert.Equal(t, a.step(), b.step())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	ok := Config{BaseURL: "http://x", Agents: []int64{1}, Interval: time.Second}
	_, err := New(ok)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"no url":      func(c *Config) { c.BaseURL = "" },
		"no agents":   func(c *Config) { c.Agents = nil },
		"no interval": func(c *Config) { c.Interval = 0 },
		"bad count":   func(c *Config) { c.Count = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := ok
			mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRunAgainstServer(t *testing.T) {
	srv := harness.NewServer(t, harness.Options{})

	sim, err := New(Config{
		BaseURL:  srv.URL + "/",
		Agents:   []int64{3, 4},
		Interval: time.Millisecond,
		Count:    5,
		Origin:   kyiv,
		Seed:     1,
	})
	require.NoError(t, err)

	stats, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Sent: 10}, stats)

	for _, id := range []int64{3, 4} {
		recs, err := srv.Store.List(context.Background(), store.Filter{AgentID: &id, Limit: 100})
		require.NoError(t, err)
		assert.Len(t, recs, 5)
		a, ok := srv.Directory.Get(id)
		require.True(t, ok)
		assert.Equal(t, int64(5), a.Records)
	}
}

func TestRunStopsWhenRejected(t *testing.T) {
	srv := harness.NewServer(t, harness.Options{WithAuth: true})

	sim, err := New(Config{
		BaseURL:  srv.URL,
		Agents:   []int64{1, 2},
		Interval: time.Millisecond,
		Token:    harness.Token(t, "sim", auth.ScopeRead),
		Origin:   kyiv,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := sim.Run(ctx)
	require.ErrorIs(t, err, ErrRejected)
	assert.Zero(t, stats.Sent)
	assert.NoError(t, ctx.Err(), "rejection should end the run without waiting for the deadline")
}

func TestRunCountsServerFailures(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"result":"error","code":"STORAGE","message":"Storage is unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"ok","data":{"id":1,"agentId":1,"roadState":"normal"}}`))
	}))
	defer ts.Close()

	sim, err := New(Config{BaseURL: ts.URL, Agents: []int64{1}, Interval: time.Millisecond, Count: 4, Origin: kyiv})
	require.NoError(t, err)

	stats, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Sent: 2, Failed: 2}, stats)
}

func TestRunUntilCancelled(t *testing.T) {
	srv := harness.NewServer(t, harness.Options{})
	sim, err := New(Config{BaseURL: srv.URL, Agents: []int64{8}, Interval: 2 * time.Millisecond, Origin: kyiv})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Stats)
	go func() {
		stats, err := sim.Run(ctx)
		assert.NoError(t, err)
		done <- stats
	}()

	require.Eventually(t, func() bool { return sim.Stats().Sent >= 3 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case stats := <-done:
		assert.GreaterOrEqual(t, stats.Sent, int64(3))
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
