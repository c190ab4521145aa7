// Package storetest provides backend-agnostic conformance tests for Record
// Store implementations.
//
// Every store (memory, sqlite, postgres) runs the same suite so that the
// ingest and API layers can rely on identical not-found, ordering and
// delete semantics regardless of the configured driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// RunConformance runs the complete conformance suite against newStore.
func RunConformance(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		run  func(t *testing.T, s store.Store)
	}{
		{"CreateAssignsUniqueIDs", testCreateAssignsUniqueIDs},
		{"GetRoundTrip", testGetRoundTrip},
		{"GetMissing", testGetMissing},
		{"ListOrderAndFilter", testListOrderAndFilter},
		{"ListPaging", testListPaging},
		{"UpdateInPlace", testUpdateInPlace},
		{"UpdateMissing", testUpdateMissing},
		{"DeleteReturnsRecord", testDeleteReturnsRecord},
		{"CancelledContext", testCancelledContext},
		{"Ping", testPing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.run(t, s)
		})
	}
}

// Sample returns a deterministic record for agentID.
func Sample(agentID int64, roadState string) record.Record {
	return record.Record{
		RoadState:     roadState,
		AgentID:       agentID,
		Accelerometer: record.Accelerometer{X: 1, Y: 2, Z: 3},
		GPS:           record.GPS{Latitude: 50.0, Longitude: 30.0},
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// assertSameRecord compares records with time.Equal on the timestamp, since
// backends may round-trip a different *time.Location.
func assertSameRecord(t *testing.T, want, got record.Record) {
	t.Helper()
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp: want %v got %v", want.Timestamp, got.Timestamp)
	want.Timestamp, got.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, want, got)
}

func testCreateAssignsUniqueIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		r, err := s.Create(ctx, Sample(42, "normal"))
		require.NoError(t, err)
		require.NotZero(t, r.ID)
		require.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
	}
}

func testGetRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := Sample(42, "pothole")
	in.ID = 999 // ignored by Create

	created, err := s.Create(ctx, in)
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assertSameRecord(t, created, got)
	assert.Equal(t, "pothole", got.RoadState)
	assert.Equal(t, int64(42), got.AgentID)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), 123456)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []int64
	for _, agent := range []int64{7, 42, 7, 42} {
		r, err := s.Create(ctx, Sample(agent, "normal"))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	agent := int64(42)
	filtered, err := s.List(ctx, store.Filter{AgentID: &agent})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, ids[1], filtered[0].ID)
	assert.Equal(t, ids[3], filtered[1].ID)

	none := int64(1000)
	empty, err := s.List(ctx, store.Filter{AgentID: &none})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testListPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, Sample(1, "normal"))
		require.NoError(t, err)
	}

	page, err := s.List(ctx, store.Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, all[1].ID, page[0].ID)
	assert.Equal(t, all[2].ID, page[1].ID)

	past, err := s.List(ctx, store.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func testUpdateInPlace(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, Sample(42, "normal"))
	require.NoError(t, err)

	changed := created
	changed.RoadState = "bump"
	changed.GPS = record.GPS{Latitude: -10, Longitude: 100}
	changed.Timestamp = created.Timestamp.Add(time.Hour)

	updated, err := s.Update(ctx, changed)
	require.NoError(t, err)
	assertSameRecord(t, changed, updated)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assertSameRecord(t, changed, got)
}

func testUpdateMissing(t *testing.T, s store.Store) {
	r := Sample(1, "normal")
	r.ID = 424242
	_, err := s.Update(context.Background(), r)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func testDeleteReturnsRecord(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, Sample(42, "pothole"))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, created.ID)
	require.NoError(t, err)
	assertSameRecord(t, created, deleted)

	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, record.ErrNotFound)

	_, err = s.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func testCancelledContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, Sample(1, "normal"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrStorage) || errors.Is(err, context.Canceled), "got %v", err)
}

func testPing(t *testing.T, s store.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
