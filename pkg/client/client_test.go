package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/hgdb/internal/debugtest"
	"github.com/hitzhangjie/hgdb/pkg/api"
)

func dial(t *testing.T, opts ...debugtest.Option) (*WebsocketClient, *debugtest.Server) {
	t.Helper()
	srv := debugtest.NewServer(debugtest.Fixture(), opts...)
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), srv.URL())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func nextEvent(t *testing.T, c Interface) *api.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	return nil
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	c, srv := dial(t)
	caps, err := c.Connect(ctx, api.ConnectPayload{})
	require.NoError(t, err)
	assert.False(t, caps.Rewind)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, api.ConnectRequest, reqs[0].Type)
	assert.NotEmpty(t, reqs[0].Token)
	assert.NotContains(t, string(reqs[0].Payload), "db_filename")

	c, _ = dial(t, debugtest.WithRewind())
	caps, err = c.Connect(ctx, api.ConnectPayload{DBFilename: "/tmp/db"})
	require.NoError(t, err)
	assert.True(t, caps.Rewind)
}

func TestBreakpointEvent(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t)

	require.NoError(t, c.SetBreakpoint(ctx, 2, "/tmp/test.py", 3, ""))
	require.NoError(t, c.Continue(ctx))

	msg := nextEvent(t, c)
	assert.Equal(t, api.BreakpointEvent, msg.Type)
	var stop api.StopPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &stop))
	assert.Equal(t, uint32(2), stop.ID)
	assert.Equal(t, uint32(3), stop.LineNum)

	require.NoError(t, c.RemoveBreakpoint(ctx, 2))
	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, api.TerminateEvent, nextEvent(t, c).Type)
}

func TestRejection(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t)

	err := c.SetBreakpoint(ctx, 2, "/tmp/test.py", 42, "")
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, api.BreakpointRequest, rej.Type)
	assert.Contains(t, rej.Reason, "not instrumented")

	_, err = c.RewindTo(ctx, 10)
	assert.True(t, errors.As(err, &rej))

	// the connection survives a rejection
	v, err := c.Evaluate(ctx, "41 + mod.a", api.Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestWatchpointEvent(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t)

	require.NoError(t, c.SetWatchpoint(ctx, 2, "c", "/tmp/test.py", 1))
	require.NoError(t, c.Continue(ctx))
	msg := nextEvent(t, c)
	assert.Equal(t, api.WatchpointEvent, msg.Type)

	require.NoError(t, c.RemoveWatchpoint(ctx, 2))
	assert.Error(t, c.RemoveWatchpoint(ctx, 2))
}

func TestRewind(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t, debugtest.WithRewind())

	tm, err := c.RewindTo(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(201), tm)
	assert.Equal(t, api.BreakpointEvent, nextEvent(t, c).Type)

	tm, err = c.QueryTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(201), tm)

	require.NoError(t, c.StepBack(ctx))
	nextEvent(t, c)
	tm, err = c.QueryTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), tm)
}

func TestSetVariable(t *testing.T) {
	ctx := context.Background()
	c, _ := dial(t)

	require.NoError(t, c.StepInto(ctx))
	nextEvent(t, c)

	scope := api.Scope{InstanceID: 1, IsContext: true}
	require.NoError(t, c.SetVariable(ctx, "a", 100, scope))
	v, err := c.Evaluate(ctx, "a", scope)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
}

func TestConnectionLost(t *testing.T) {
	ctx := context.Background()
	c, srv := dial(t)

	_, err := c.Connect(ctx, api.ConnectPayload{})
	require.NoError(t, err)

	srv.Disconnect()
	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed")
	}

	err = c.Continue(ctx)
	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.True(t, errors.Is(c.Err(), ErrConnectionLost))
}
