package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store/memory"
)

func rec(id, agentID int64, state string, ts time.Time) record.Record {
	return record.Record{ID: id, AgentID: agentID, RoadState: state, Timestamp: ts}
}

func TestObserve(t *testing.T) {
	d := NewDirectory()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	d.Observe(rec(1, 42, "normal", t0))
	d.Observe(rec(3, 42, "pothole", t0.Add(time.Minute)))
	// an older record arriving late does not rewind the summary
	d.Observe(rec(2, 42, "bumpy", t0.Add(30*time.Second)))

	a, ok := d.Get(42)
	require.True(t, ok)
	assert.Equal(t, int64(3), a.Records)
	assert.Equal(t, int64(3), a.LastRecordID)
	assert.Equal(t, "pothole", a.LastRoadState)
	assert.Equal(t, t0.Add(time.Minute), a.LastSeen)

	_, ok = d.Get(7)
	assert.False(t, ok)
}

func TestListMergesSubscribers(t *testing.T) {
	d := NewDirectory()
	d.Observe(rec(1, 42, "normal", time.Now()))
	d.Observe(rec(2, 3, "normal", time.Now()))

	list := d.List(map[int64]int{42: 2, 7: 1})

	require.Len(t, list.Items, 3)
	assert.Equal(t, []int64{3, 7, 42}, []int64{list.Items[0].ID, list.Items[1].ID, list.Items[2].ID})
	assert.Equal(t, 0, list.Items[0].Subscribers)
	assert.Equal(t, 1, list.Items[1].Subscribers)
	assert.Equal(t, int64(0), list.Items[1].Records)
	assert.Equal(t, 2, list.Items[2].Subscribers)
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, record.Record{AgentID: int64(i % 2), RoadState: "normal", Timestamp: time.Now()})
		require.NoError(t, err)
	}

	d := NewDirectory()
	require.NoError(t, d.Load(ctx, s))

	a0, _ := d.Get(0)
	a1, _ := d.Get(1)
	assert.Equal(t, int64(3), a0.Records)
	assert.Equal(t, int64(2), a1.Records)
	assert.Equal(t, int64(5), a0.LastRecordID)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var created []record.Record
	for i := range 3 {
		r, err := s.Create(ctx, rec(0, 42, "normal", t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		created = append(created, r)
	}
	other, err := s.Create(ctx, rec(0, 7, "bump", t0))
	require.NoError(t, err)

	d := NewDirectory()
	require.NoError(t, d.Load(ctx, s))

	_, err = s.Delete(ctx, created[2].ID)
	require.NoError(t, err)
	require.NoError(t, d.Refresh(ctx, s, 42))

	a, _ := d.Get(42)
	assert.Equal(t, int64(2), a.Records)
	assert.Equal(t, created[1].ID, a.LastRecordID)
	assert.Equal(t, created[1].Timestamp, a.LastSeen)

	_, err = s.Delete(ctx, other.ID)
	require.NoError(t, err)
	require.NoError(t, d.Refresh(ctx, s, 7))
	_, ok := d.Get(7)
	assert.False(t, ok)

	s.SetFailure(assert.AnError)
	assert.ErrorIs(t, d.Refresh(ctx, s, 42), record.ErrStorage)
	a, _ = d.Get(42)
	assert.Equal(t, int64(2), a.Records, "a failed refresh leaves the agent as it was")
}

func TestLoadStoreFailure(t *testing.T) {
	s := memory.New()
	s.SetFailure(assert.AnError)

	err := NewDirectory().Load(context.Background(), s)
	assert.ErrorIs(t, err, record.ErrStorage)
}
