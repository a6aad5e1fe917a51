package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/hgdb/internal/debugtest"
	"github.com/hitzhangjie/hgdb/pkg/client"
	"github.com/hitzhangjie/hgdb/pkg/pathmap"
	"github.com/hitzhangjie/hgdb/pkg/symbol"
)

type options struct {
	noTable bool
	rewind  bool
	rules   []pathmap.Rule
}

type harness struct {
	*Session
	out *bytes.Buffer
	srv *debugtest.Server
}

func start(t *testing.T, opt options) *harness {
	t.Helper()

	prog := debugtest.Fixture()
	var table *symbol.Table
	if !opt.noTable {
		path := filepath.Join(t.TempDir(), "debug.db")
		require.NoError(t, prog.WriteTable(path))
		var err error
		table, err = symbol.Open(path)
		require.NoError(t, err)
	}

	var srvOpts []debugtest.Option
	if opt.rewind {
		srvOpts = append(srvOpts, debugtest.WithRewind())
	}
	srv := debugtest.NewServer(prog, srvOpts...)
	t.Cleanup(srv.Close)

	c, err := client.Dial(context.Background(), srv.URL())
	require.NoError(t, err)

	out := &bytes.Buffer{}
	s := New(Config{
		Client: c,
		Table:  table,
		Mapper: pathmap.New(opt.rules...),
		Out:    out,
	})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return &harness{Session: s, out: out, srv: srv}
}

func TestBreakContinue(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	w, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), w.ID)
	assert.Equal(t, "/tmp/test.py", w.Filename)
	assert.Equal(t, []uint64{0}, w.Defs)
	assert.Contains(t, h.out.String(), "Breakpoint 2 at test.py:1\n")

	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, Stopped, h.State())
	loc, ok := h.Location()
	require.True(t, ok)
	assert.Equal(t, "test.py:1", loc.String())
	assert.Contains(t, h.out.String(), "Breakpoint 2, test.py:1 (time 0)\n")
	assert.Equal(t, int64(1), h.Bindings()["a"])
	assert.Equal(t, int64(1), h.Bindings()["mod.a"])
}

func TestBreakNotFound(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	_, err := h.Break(ctx, "test.py", 42, "")
	var lookup *SymbolLookupError
	require.True(t, errors.As(err, &lookup))
	assert.True(t, errors.Is(err, symbol.ErrNotFound))
	assert.False(t, IsFatal(err))

	_, err = h.Break(ctx, "nope.py", 1, "")
	assert.True(t, errors.Is(err, symbol.ErrNotFound))

	// a failed lookup does not consume an id
	w, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), w.ID)
}

func TestBreakWithoutTable(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{noTable: true})

	_, err := h.Break(ctx, "test.py", 42, "")
	var rej *ProtocolRejection
	require.True(t, errors.As(err, &rej))
	assert.False(t, IsFatal(err))

	w, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	assert.Equal(t, "test.py", w.Filename)
	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, Stopped, h.State())
}

func TestDisplayPath(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{rules: []pathmap.Rule{{From: "/tmp", To: "/home/user/src"}}})

	w, err := h.Break(ctx, "/home/user/src/test.py", 1, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.py", w.Filename)
	assert.Equal(t, "/home/user/src/test.py:1", w.Location())

	require.NoError(t, h.Continue(ctx))
	require.NoError(t, h.Step(ctx))
	loc, _ := h.Location()
	assert.Equal(t, "/home/user/src/test.py:2", loc.String())

	h.InfoBreakpoints()
	assert.NotContains(t, h.out.String(), "/tmp/")
}

func TestConsoleIDs(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	b, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	w, err := h.Watch(ctx, "c", "test.py", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), b.ID)
	assert.Equal(t, uint32(3), w.ID)
	assert.Contains(t, h.out.String(), "Watchpoint 3 at test.py:1\n")

	require.NoError(t, h.Delete(ctx, 2))
	assert.True(t, errors.Is(h.Delete(ctx, 2), ErrWatchNotExisted))

	b, err = h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), b.ID)

	var ids []uint32
	for _, w := range h.Watches() {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []uint32{3, 4}, ids)
}

func TestRemovedBreakpoint(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	_, err := h.Break(ctx, "test.py", 3, "")
	require.NoError(t, err)
	_, err = h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)

	require.NoError(t, h.Continue(ctx))
	assert.Contains(t, h.out.String(), "Breakpoint 3, test.py:1")

	require.NoError(t, h.Delete(ctx, 3))
	h.out.Reset()
	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, "Breakpoint 2, test.py:3 (time 3)\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, "Breakpoint 2, test.py:3 (time 8)\n", h.out.String())
}

func TestCondition(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	_, err := h.Break(ctx, "test.py", 1, "b ==")
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))

	_, err = h.Break(ctx, "test.py", 1, "b == 4")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, uint64(10), h.Time())
}

func TestGoInfoTime(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{rewind: true})

	assert.True(t, errors.Is(h.Go(ctx, 200), ErrInvalidState))

	_, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))

	require.NoError(t, h.Go(ctx, 200))
	assert.Equal(t, Stopped, h.State())

	h.out.Reset()
	tm, err := h.InfoTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(201), tm)
	assert.Equal(t, "201\n", h.out.String())
}

func TestGoUnsupported(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	_, err := h.Break(ctx, "test.py", 3, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))

	err = h.Go(ctx, 1)
	assert.True(t, errors.Is(err, ErrRewindUnsupported))
	assert.False(t, IsFatal(err))
	assert.Equal(t, Stopped, h.State())
	assert.Equal(t, uint64(3), h.Time())

	assert.True(t, errors.Is(h.StepBack(ctx), ErrRewindUnsupported))
	assert.True(t, errors.Is(h.ReverseContinue(ctx), ErrRewindUnsupported))
}

func TestReverse(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{rewind: true})

	_, err := h.Break(ctx, "test.py", 3, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))
	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, uint64(8), h.Time())

	require.NoError(t, h.ReverseContinue(ctx))
	assert.Equal(t, uint64(3), h.Time())
	require.NoError(t, h.StepBack(ctx))
	assert.Equal(t, uint64(2), h.Time())
	loc, _ := h.Location()
	assert.Equal(t, "/tmp/child.py:1", loc.String())
}

func TestPrintNotStarted(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	v, err := h.Print(ctx, "41 + mod.a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, "42\n", h.out.String())

	// plain names need a stop location
	_, err = h.Print(ctx, "a")
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))

	_, err = h.Print(ctx, "1 +")
	assert.True(t, errors.As(err, &evalErr))
}

func TestSetPrint(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	assert.True(t, errors.Is(h.Set(ctx, "a", 100), ErrInvalidState))

	_, err := h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))

	require.NoError(t, h.Set(ctx, "a", 100))
	assert.Equal(t, int64(100), h.Bindings()["mod.a"])
	v, err := h.Print(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	require.NoError(t, h.Step(ctx))
	v, err = h.Print(ctx, "a + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(101), v)

	var rej *ProtocolRejection
	assert.True(t, errors.As(h.Set(ctx, "nope", 1), &rej))
}

func TestPrintIntegerDivision(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	// evaluated by the target
	v, err := h.Print(ctx, "(mod.a + mod.b) / 2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = h.Break(ctx, "test.py", 1, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))

	// evaluated against the snapshot
	v, err = h.Print(ctx, "(a + b) / 2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = h.Print(ctx, "a / 2 + mod.b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestWatchpointHits(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	_, err := h.Watch(ctx, "c", "", 0)
	assert.True(t, errors.Is(err, ErrInvalidState))

	w, err := h.Watch(ctx, "c", "test.py", 1)
	require.NoError(t, err)

	require.NoError(t, h.Continue(ctx))
	require.NoError(t, h.Continue(ctx))

	h.out.Reset()
	hits := h.InfoWatchpoints()
	require.Len(t, hits, 2)
	assert.Equal(t, w.ID, hits[0].ID)
	assert.Equal(t, int64(3), hits[0].Value)
	assert.Equal(t, int64(6), hits[1].Value)
	assert.Equal(t, "2\t/tmp/test.py:2\tc\n2\t/tmp/test.py:3\tc\n", h.out.String())

	// watch at the current stop location
	w, err = h.Watch(ctx, "b", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.py:3", w.Location())
}

func TestStepStates(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	assert.True(t, errors.Is(h.Step(ctx), ErrInvalidState))
	assert.True(t, errors.Is(h.StepOver(ctx), ErrInvalidState))
	assert.Equal(t, NotStarted, h.State())

	_, err := h.Break(ctx, "test.py", 2, "")
	require.NoError(t, err)
	require.NoError(t, h.Continue(ctx))
	require.NoError(t, h.StepOver(ctx))
	loc, _ := h.Location()
	assert.Equal(t, "/tmp/test.py:3", loc.String())
	require.NoError(t, h.Step(ctx))
	assert.Equal(t, uint64(4), h.Time())
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	require.NoError(t, h.Continue(ctx))
	assert.Equal(t, Terminated, h.State())
	assert.Equal(t, "Program terminated at time 250\n", h.out.String())

	assert.True(t, errors.Is(h.Continue(ctx), ErrInvalidState))
	_, err := h.Break(ctx, "test.py", 1, "")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestConnectionLost(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	h.srv.Disconnect()
	err := h.Continue(ctx)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, Terminated, h.State())
}

func TestInfoBreakpoints(t *testing.T) {
	ctx := context.Background()
	h := start(t, options{})

	h.InfoBreakpoints()
	assert.Equal(t, "No breakpoints or watchpoints.\n", h.out.String())

	_, err := h.Break(ctx, "test.py", 1, "a > 0")
	require.NoError(t, err)
	_, err = h.Watch(ctx, "c", "test.py", 2)
	require.NoError(t, err)

	h.out.Reset()
	h.InfoBreakpoints()
	out := h.out.String()
	assert.Contains(t, out, "Num")
	assert.Contains(t, out, "if a > 0")
	assert.Contains(t, out, "watchpoint")
}
