// Package debugtest provides a scripted debug server. It simulates an
// instrumented program statement by statement and speaks the console
// protocol over websocket, so that the client, the session and the console
// commands can be tested end to end.
package debugtest

import (
	"fmt"
	"sort"

	"github.com/hitzhangjie/hgdb/pkg/symbol"
)

// Instance is one design unit of the simulated program with its initial
// variable values.
type Instance struct {
	ID   uint64
	Name string
	Vars map[string]int64
}

// Assignment sets Name to the value of Expr, evaluated in the scope of the
// statement's instance.
type Assignment struct {
	Name string
	Expr string
}

// Statement is one instrumented statement. Its assignments take effect when
// execution moves past it.
type Statement struct {
	BreakpointID uint64
	InstanceID   uint64
	Filename     string
	LineNum      uint32
	Assign       []Assignment
}

// Program is executed Repeat times (at least once). The statement at trace
// index k is evaluated at time k.
type Program struct {
	Instances  []Instance
	Statements []Statement
	Repeat     int
}

func (p *Program) length() int {
	if p.Repeat <= 1 {
		return len(p.Statements)
	}
	return len(p.Statements) * p.Repeat
}

func (p *Program) statement(k int) *Statement {
	return &p.Statements[k%len(p.Statements)]
}

// WriteTable writes the symbol table describing p to path. Every instance
// variable is stored as a generator variable of its instance and as a
// context variable of every statement of that instance.
func (p *Program) WriteTable(path string) error {
	w, err := symbol.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()

	var varID uint64
	varIDs := map[string]uint64{} // key=instance.name
	for _, inst := range p.Instances {
		if err := w.StoreInstance(inst.ID, inst.Name); err != nil {
			return err
		}
		names := make([]string, 0, len(inst.Vars))
		for name := range inst.Vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			varID++
			qualified := inst.Name + "." + name
			if err := w.StoreVariable(varID, qualified); err != nil {
				return err
			}
			if err := w.StoreGeneratorVariable(name, inst.ID, varID); err != nil {
				return err
			}
			varIDs[qualified] = varID
		}
	}

	stored := map[uint64]bool{}
	for _, st := range p.Statements {
		if stored[st.BreakpointID] {
			continue
		}
		stored[st.BreakpointID] = true
		if err := w.StoreBreakpoint(st.BreakpointID, st.InstanceID, st.Filename, st.LineNum); err != nil {
			return fmt.Errorf("statement %s:%d: %w", st.Filename, st.LineNum, err)
		}
		inst := p.instance(st.InstanceID)
		if inst == nil {
			continue
		}
		for name := range inst.Vars {
			if err := w.StoreContextVariable(name, st.BreakpointID, varIDs[inst.Name+"."+name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Program) instance(id uint64) *Instance {
	for i := range p.Instances {
		if p.Instances[i].ID == id {
			return &p.Instances[i]
		}
	}
	return nil
}

// Fixture returns the program shared by the tests:
//
//	/tmp/test.py:1   mod    (no effect)
//	/tmp/test.py:2   mod    c = a + b
//	/tmp/child.py:1  child  x = x + 1
//	/tmp/test.py:3   mod    c = c * 2
//	/tmp/test.py:4   mod    b = b + 1
//
// repeated 50 times, with mod.a = 1, mod.b = 2, mod.c = 0 and child.x = 0.
func Fixture() Program {
	return Program{
		Instances: []Instance{
			{ID: 1, Name: "mod", Vars: map[string]int64{"a": 1, "b": 2, "c": 0}},
			{ID: 2, Name: "child", Vars: map[string]int64{"x": 0}},
		},
		Statements: []Statement{
			{BreakpointID: 0, InstanceID: 1, Filename: "/tmp/test.py", LineNum: 1},
			{BreakpointID: 1, InstanceID: 1, Filename: "/tmp/test.py", LineNum: 2,
				Assign: []Assignment{{Name: "c", Expr: "a + b"}}},
			{BreakpointID: 2, InstanceID: 2, Filename: "/tmp/child.py", LineNum: 1,
				Assign: []Assignment{{Name: "x", Expr: "x + 1"}}},
			{BreakpointID: 3, InstanceID: 1, Filename: "/tmp/test.py", LineNum: 3,
				Assign: []Assignment{{Name: "c", Expr: "c * 2"}}},
			{BreakpointID: 4, InstanceID: 1, Filename: "/tmp/test.py", LineNum: 4,
				Assign: []Assignment{{Name: "b", Expr: "b + 1"}}},
		},
		Repeat: 50,
	}
}
