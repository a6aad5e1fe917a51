package debugtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/hitzhangjie/hgdb/pkg/api"
	"github.com/hitzhangjie/hgdb/pkg/expr"
)

type breakpoint struct {
	id       uint32
	filename string
	line     uint32
	cond     string
}

type watchpoint struct {
	id       uint32
	expr     string
	instance uint64
	last     int64
}

// machine executes a Program. pos is the number of statements evaluated so
// far; atStmt reports whether execution is parked before statement pos.
type machine struct {
	prog   *Program
	rewind bool

	vars       map[uint64]map[string]int64 // key=instance id
	pos        int
	atStmt     bool
	time       uint64
	started    bool
	terminated bool

	breakpoints map[uint32]*breakpoint
	watchpoints map[uint32]*watchpoint
}

func newMachine(prog *Program, rewind bool) *machine {
	m := &machine{
		prog:        prog,
		rewind:      rewind,
		breakpoints: map[uint32]*breakpoint{},
		watchpoints: map[uint32]*watchpoint{},
	}
	m.reset()
	return m
}

func (m *machine) reset() {
	m.vars = map[uint64]map[string]int64{}
	for _, inst := range m.prog.Instances {
		vars := map[string]int64{}
		for k, v := range inst.Vars {
			vars[k] = v
		}
		m.vars[inst.ID] = vars
	}
	m.pos = 0
	m.atStmt = false
	m.terminated = false
}

// replay re-executes the program from the start until n statements are
// evaluated. Values changed by set-value requests are lost.
func (m *machine) replay(n int) {
	m.reset()
	for k := 0; k < n; k++ {
		m.exec(k)
	}
	m.pos = n
	for _, w := range m.watchpoints {
		if v, err := m.eval(w.expr, api.Scope{InstanceID: w.instance, IsContext: true}); err == nil {
			w.last = v
		}
	}
}

func (m *machine) exec(k int) {
	st := m.prog.statement(k)
	for _, a := range st.Assign {
		v, err := expr.Eval(a.Expr, m.vars[st.InstanceID])
		if err != nil {
			glog.Warningf("statement %s:%d: %v", st.Filename, st.LineNum, err)
			continue
		}
		m.vars[st.InstanceID][a.Name] = v
	}
}

// bindings returns every variable qualified by its instance name, plus the
// plain names of the scope's instance for a context scope.
func (m *machine) bindings(scope api.Scope) map[string]int64 {
	b := map[string]int64{}
	for _, inst := range m.prog.Instances {
		for name, v := range m.vars[inst.ID] {
			b[inst.Name+"."+name] = v
		}
	}
	if scope.IsContext {
		for name, v := range m.vars[scope.InstanceID] {
			b[name] = v
		}
	}
	return b
}

func (m *machine) eval(src string, scope api.Scope) (int64, error) {
	return expr.Eval(src, m.bindings(scope))
}

func matchFile(stored, requested string) bool {
	return stored == requested || strings.HasSuffix(stored, "/"+requested)
}

func (m *machine) findStatement(filename string, line uint32) *Statement {
	for i := range m.prog.Statements {
		st := &m.prog.Statements[i]
		if st.LineNum == line && matchFile(st.Filename, filename) {
			return st
		}
	}
	return nil
}

func (m *machine) addBreakpoint(p *api.BreakpointPayload) error {
	if m.findStatement(p.Filename, p.LineNum) == nil {
		return fmt.Errorf("%s:%d is not instrumented", p.Filename, p.LineNum)
	}
	if p.Condition != "" {
		if err := expr.Check(p.Condition); err != nil {
			return err
		}
	}
	m.breakpoints[p.ID] = &breakpoint{id: p.ID, filename: p.Filename, line: p.LineNum, cond: p.Condition}
	return nil
}

func (m *machine) removeBreakpoint(id uint32) error {
	if _, ok := m.breakpoints[id]; !ok {
		return fmt.Errorf("breakpoint %d not found", id)
	}
	delete(m.breakpoints, id)
	return nil
}

func (m *machine) addWatchpoint(p *api.WatchpointPayload) error {
	st := m.findStatement(p.Filename, p.LineNum)
	if st == nil {
		return fmt.Errorf("%s:%d is not instrumented", p.Filename, p.LineNum)
	}
	v, err := m.eval(p.Expression, api.Scope{InstanceID: st.InstanceID, IsContext: true})
	if err != nil {
		return err
	}
	m.watchpoints[p.ID] = &watchpoint{id: p.ID, expr: p.Expression, instance: st.InstanceID, last: v}
	return nil
}

func (m *machine) removeWatchpoint(id uint32) error {
	if _, ok := m.watchpoints[id]; !ok {
		return fmt.Errorf("watchpoint %d not found", id)
	}
	delete(m.watchpoints, id)
	return nil
}

// breakpointAt returns the lowest breakpoint id whose location and condition
// match statement k.
func (m *machine) breakpointAt(k int) (uint32, bool) {
	st := m.prog.statement(k)
	ids := make([]int, 0, len(m.breakpoints))
	for id := range m.breakpoints {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		bp := m.breakpoints[uint32(id)]
		if bp.line != st.LineNum || !matchFile(st.Filename, bp.filename) {
			continue
		}
		if bp.cond != "" {
			v, err := m.eval(bp.cond, api.Scope{InstanceID: st.InstanceID, IsContext: true})
			if err != nil || v == 0 {
				continue
			}
		}
		return bp.id, true
	}
	return 0, false
}

// changedWatch re-evaluates every watchpoint and returns the lowest id whose
// value changed.
func (m *machine) changedWatch() (*watchpoint, bool) {
	var hit *watchpoint
	for _, w := range m.watchpoints {
		v, err := m.eval(w.expr, api.Scope{InstanceID: w.instance, IsContext: true})
		if err != nil || v == w.last {
			continue
		}
		w.last = v
		if hit == nil || w.id < hit.id {
			hit = w
		}
	}
	return hit, hit != nil
}

func (m *machine) frame(k int) api.Frame {
	st := m.prog.statement(k)
	f := api.Frame{
		InstanceID:   st.InstanceID,
		BreakpointID: st.BreakpointID,
		Locals:       map[string]int64{},
		Generators:   map[string]int64{},
	}
	if inst := m.prog.instance(st.InstanceID); inst != nil {
		f.InstanceName = inst.Name
	}
	for name, v := range m.vars[st.InstanceID] {
		f.Locals[name] = v
		f.Generators[name] = v
	}
	return f
}

// stopAt parks execution before statement k.
func (m *machine) stopAt(k int, id uint32) api.Message {
	st := m.prog.statement(k)
	m.pos = k
	m.atStmt = true
	m.time = uint64(k)
	return event(api.BreakpointEvent, &api.StopPayload{
		ID:        id,
		Filename:  st.Filename,
		LineNum:   st.LineNum,
		Time:      m.time,
		Instances: []api.Frame{m.frame(k)},
	})
}

// run executes forward until a stop. A parked statement is evaluated first
// without stopping on it again.
func (m *machine) run(mode api.CommandName) api.Message {
	m.started = true
	var inst uint64
	if m.pos < m.prog.length() {
		inst = m.prog.statement(m.pos).InstanceID
	}
	skip := m.atStmt

	for {
		if m.pos >= m.prog.length() {
			m.terminated = true
			m.atStmt = false
			m.time = uint64(m.pos)
			return event(api.TerminateEvent, &api.TerminatePayload{Time: m.time})
		}
		if !skip {
			if mode == api.StepInto || (mode == api.StepOver && m.prog.statement(m.pos).InstanceID == inst) {
				return m.stopAt(m.pos, 0)
			}
			if id, ok := m.breakpointAt(m.pos); ok {
				return m.stopAt(m.pos, id)
			}
		}
		skip = false

		m.exec(m.pos)
		m.pos++
		if w, ok := m.changedWatch(); ok {
			k := m.pos - 1
			st := m.prog.statement(k)
			m.atStmt = false
			m.time = uint64(k)
			return event(api.WatchpointEvent, &api.StopPayload{
				ID:         w.id,
				Filename:   st.Filename,
				LineNum:    st.LineNum,
				Time:       m.time,
				Expression: w.expr,
				Value:      w.last,
				Instances:  []api.Frame{m.frame(k)},
			})
		}
	}
}

func (m *machine) reverseContinue() (api.Message, error) {
	if !m.rewind {
		return api.Message{}, fmt.Errorf("reverse execution is not supported")
	}
	for k := m.pos - 1; k >= 0; k-- {
		if id, ok := m.breakpointAt(k); ok {
			m.replay(k)
			return m.stopAt(k, id), nil
		}
	}
	m.replay(0)
	return m.stopAt(0, 0), nil
}

func (m *machine) stepBack() (api.Message, error) {
	if !m.rewind {
		return api.Message{}, fmt.Errorf("reverse execution is not supported")
	}
	if m.pos == 0 {
		return api.Message{}, fmt.Errorf("already at the beginning")
	}
	k := m.pos - 1
	m.replay(k)
	return m.stopAt(k, 0), nil
}

// jump restores the state at the end of time t, execution parks at the
// statement evaluated at t+1.
func (m *machine) jump(t uint64) (api.Message, error) {
	if !m.rewind {
		return api.Message{}, fmt.Errorf("rewind is not supported")
	}
	if t+1 >= uint64(m.prog.length()) {
		return api.Message{}, fmt.Errorf("time %d is out of range", t)
	}
	k := int(t) + 1
	m.replay(k)
	m.started = true
	return m.stopAt(k, 0), nil
}

func (m *machine) setValue(p *api.SetValuePayload) error {
	if p.Scope.IsContext {
		if vars, ok := m.vars[p.Scope.InstanceID]; ok {
			if _, ok := vars[p.VarName]; ok {
				vars[p.VarName] = p.Value
				return nil
			}
		}
	}
	if idx := strings.LastIndex(p.VarName, "."); idx > 0 {
		instName, name := p.VarName[:idx], p.VarName[idx+1:]
		for _, inst := range m.prog.Instances {
			if inst.Name != instName {
				continue
			}
			if _, ok := m.vars[inst.ID][name]; ok {
				m.vars[inst.ID][name] = p.Value
				return nil
			}
		}
	}
	return fmt.Errorf("unknown variable %s", p.VarName)
}
