package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
	"github.com/road-telemetry/roadwatch/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformance(t, func(t *testing.T) store.Store { return New() })
}

func TestFailNextAffectsOneCall(t *testing.T) {
	s := New()
	ctx := context.Background()
	down := errors.New("connection reset")

	s.FailNext(down)
	_, err := s.Create(ctx, storetest.Sample(1, "normal"))
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrStorage)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 0, s.Len())

	_, err = s.Create(ctx, storetest.Sample(1, "normal"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.Calls("create"))
}

func TestSetFailureFailsPing(t *testing.T) {
	s := New()
	s.SetFailure(errors.New("disk full"))
	assert.ErrorIs(t, s.Ping(context.Background()), record.ErrStorage)

	s.ClearFailure()
	assert.NoError(t, s.Ping(context.Background()))
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), 1)
	assert.ErrorIs(t, err, record.ErrStorage)
}
