package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/store"
	"github.com/road-telemetry/roadwatch/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "roadwatch.db"), PoolSize: 2})
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.RunConformance(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	created, err := s.Create(ctx, storetest.Sample(42, "pothole"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pothole", got.RoadState)
	assert.True(t, created.Timestamp.Equal(got.Timestamp))
}
