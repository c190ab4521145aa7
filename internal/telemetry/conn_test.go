package telemetry

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// fakeConn records frames in memory. Control messages are fed through ctl.
type fakeConn struct {
	format record.Format

	mu      sync.Mutex
	frames  []Frame
	sendErr error

	// block, when non-nil, stalls Send until it is closed.
	block chan struct{}

	heartbeats atomic.Int32
	ctl        chan Control

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
	reason     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		format: record.FormatJSON,
		ctl:    make(chan Control, 8),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Format() record.Format { return c.format }

func (c *fakeConn) Send(ctx context.Context, f Frame) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return net.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Heartbeat(ctx context.Context) error {
	c.heartbeats.Add(1)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (Control, error) {
	select {
	case ctl := <-c.ctl:
		return ctl, nil
	case <-c.closed:
		return Control{}, net.ErrClosed
	case <-ctx.Done():
		return Control{}, ctx.Err()
	}
}

func (c *fakeConn) Close(reason error) error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// drop simulates the peer vanishing: reads and writes fail from now on.
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// records decodes every record frame received so far.
func (c *fakeConn) records(t *testing.T) []record.Record {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []record.Record
	for _, f := range c.frames {
		if f.Kind != FrameRecord {
			continue
		}
		r, err := record.Decode(f.Data, c.format)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func (c *fakeConn) seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []int64
	for _, f := range c.frames {
		if f.Kind == FrameRecord {
			out = append(out, f.Seq)
		}
	}
	return out
}

func (c *fakeConn) kinds() []FrameKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]FrameKind, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Kind)
	}
	return out
}

func sampleRecord(id, agentID int64, roadState string) record.Record {
	return record.Record{
		ID:            id,
		RoadState:     roadState,
		AgentID:       agentID,
		Accelerometer: record.Accelerometer{X: 1, Y: 2, Z: 3},
		GPS:           record.GPS{Latitude: 50.0, Longitude: 30.0},
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// startWriter runs sub's writer until the test ends.
func startWriter(t *testing.T, sub *Subscriber) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.run(context.Background(), time.Second, 0)
	}()
	t.Cleanup(func() {
		sub.Close(nil)
		<-done
	})
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// discardConn accepts everything and never receives.
type discardConn struct{}

func (discardConn) Format() record.Format { return record.FormatJSON }
func (discardConn) Send(context.Context, Frame) error { return nil }
func (discardConn) Heartbeat(context.Context) error { return nil }
func (discardConn) Close(error) error { return nil }
func (discardConn) Receive(ctx context.Context) (Control, error) {
	<-ctx.Done()
	return Control{}, ctx.Err()
}
