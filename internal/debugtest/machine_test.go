package debugtest

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/hgdb/pkg/api"
	"github.com/hitzhangjie/hgdb/pkg/symbol"
)

func stopOf(t *testing.T, msg api.Message) *api.StopPayload {
	t.Helper()
	require.Contains(t, []api.MessageType{api.BreakpointEvent, api.WatchpointEvent}, msg.Type)
	var p api.StopPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return &p
}

func TestMachineBreakpoint(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)
	require.NoError(t, m.addBreakpoint(&api.BreakpointPayload{ID: 2, Filename: "test.py", LineNum: 3}))

	stop := stopOf(t, m.run(api.Continue))
	assert.Equal(t, uint32(2), stop.ID)
	assert.Equal(t, "/tmp/test.py", stop.Filename)
	assert.Equal(t, uint32(3), stop.LineNum)
	assert.Equal(t, uint64(3), stop.Time)
	assert.Equal(t, int64(3), stop.Instances[0].Locals["c"])

	stop = stopOf(t, m.run(api.Continue))
	assert.Equal(t, uint64(8), stop.Time)

	require.NoError(t, m.removeBreakpoint(2))
	assert.Error(t, m.removeBreakpoint(2))

	msg := m.run(api.Continue)
	assert.Equal(t, api.TerminateEvent, msg.Type)
	assert.True(t, m.terminated)
}

func TestMachineCondition(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)
	require.NoError(t, m.addBreakpoint(&api.BreakpointPayload{ID: 2, Filename: "/tmp/test.py", LineNum: 1, Condition: "b == 4"}))

	stop := stopOf(t, m.run(api.Continue))
	assert.Equal(t, uint64(10), stop.Time)
	assert.Equal(t, int64(4), stop.Instances[0].Generators["b"])
}

func TestMachineUninstrumented(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)
	assert.Error(t, m.addBreakpoint(&api.BreakpointPayload{ID: 2, Filename: "test.py", LineNum: 42}))
	assert.Error(t, m.addWatchpoint(&api.WatchpointPayload{ID: 3, Expression: "c", Filename: "nope.py", LineNum: 1}))
}

func TestMachineWatchpoint(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)
	require.NoError(t, m.addWatchpoint(&api.WatchpointPayload{ID: 2, Expression: "c", Filename: "test.py", LineNum: 1}))

	msg := m.run(api.Continue)
	assert.Equal(t, api.WatchpointEvent, msg.Type)
	stop := stopOf(t, msg)
	assert.Equal(t, uint32(2), stop.LineNum)
	assert.Equal(t, int64(3), stop.Value)

	stop = stopOf(t, m.run(api.Continue))
	assert.Equal(t, uint32(3), stop.LineNum)
	assert.Equal(t, int64(6), stop.Value)
}

func TestMachineStep(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)

	stop := stopOf(t, m.run(api.StepInto))
	assert.Equal(t, uint64(0), stop.Time)
	stop = stopOf(t, m.run(api.StepInto))
	assert.Equal(t, uint64(1), stop.Time)

	// child.py:1 belongs to another instance
	stop = stopOf(t, m.run(api.StepOver))
	assert.Equal(t, uint64(3), stop.Time)
}

func TestMachineRewind(t *testing.T) {
	prog := Fixture()

	m := newMachine(&prog, false)
	_, err := m.jump(10)
	assert.Error(t, err)
	_, err = m.stepBack()
	assert.Error(t, err)

	m = newMachine(&prog, true)
	stop := stopOf(t, mustMessage(t)(m.jump(200)))
	assert.Equal(t, uint64(201), stop.Time)
	assert.Equal(t, uint64(201), m.time)

	stop = stopOf(t, mustMessage(t)(m.stepBack()))
	assert.Equal(t, uint64(200), stop.Time)

	require.NoError(t, m.addBreakpoint(&api.BreakpointPayload{ID: 2, Filename: "test.py", LineNum: 3}))
	stop = stopOf(t, mustMessage(t)(m.reverseContinue()))
	assert.Equal(t, uint64(198), stop.Time)

	_, err = m.jump(1000)
	assert.Error(t, err)
}

func mustMessage(t *testing.T) func(api.Message, error) api.Message {
	return func(msg api.Message, err error) api.Message {
		t.Helper()
		require.NoError(t, err)
		return msg
	}
}

func TestMachineSetValue(t *testing.T) {
	prog := Fixture()
	m := newMachine(&prog, false)
	m.run(api.StepInto)

	require.NoError(t, m.setValue(&api.SetValuePayload{VarName: "a", Value: 100, Scope: api.Scope{InstanceID: 1, IsContext: true}}))
	require.NoError(t, m.setValue(&api.SetValuePayload{VarName: "child.x", Value: 7}))
	assert.Error(t, m.setValue(&api.SetValuePayload{VarName: "nope", Value: 1}))

	v, err := m.eval("mod.a + child.x", api.Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(107), v)
}

func TestWriteTable(t *testing.T) {
	prog := Fixture()
	path := filepath.Join(t.TempDir(), "table")
	require.NoError(t, prog.WriteTable(path))

	table, err := symbol.Open(path)
	require.NoError(t, err)
	defs, err := table.ResolveLocation("test.py", 2)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, uint64(1), defs[0].ID)

	names, err := table.Bindings(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
