package symbol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Instance one instantiated design unit
type Instance struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// BreakpointDef a statically known instrumentable source location
type BreakpointDef struct {
	ID         uint64 `json:"id"`
	InstanceID uint64 `json:"instance_id"`
	Filename   string `json:"filename"`
	LineNum    uint32 `json:"line_num"`
}

// Variable a named value slot
type Variable struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// ContextVariable binds Name to the scope active at breakpoint BreakpointID,
// ContextID is the variable row backing the binding.
type ContextVariable struct {
	Name         string `json:"name"`
	BreakpointID uint64 `json:"breakpoint_id"`
	ContextID    uint64 `json:"context_id"`
}

// GeneratorVariable binds Name to every location of instance InstanceID.
type GeneratorVariable struct {
	Name       string `json:"name"`
	InstanceID uint64 `json:"instance_id"`
	VariableID uint64 `json:"variable_id"`
}

// Table is the read-only, in-memory index of a symbol table. It is loaded
// once and never changes afterwards.
type Table struct {
	Sources     map[string]map[uint32][]*BreakpointDef // key=filename, val=map[lineno]definitions
	Instances   map[uint64]*Instance
	Breakpoints map[uint64]*BreakpointDef
	Variables   map[uint64]*Variable

	contexts   map[uint64][]*ContextVariable   // key=breakpoint id
	generators map[uint64][]*GeneratorVariable // key=instance id
	byName     map[string]*Instance
}

// Open loads the symbol table stored at path. A missing or corrupt table is
// an error, the console treats it as fatal.
func Open(path string) (*Table, error) {
	db, err := openDB(path, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	t := newTable()
	if err = db.View(t.load); err != nil {
		return nil, fmt.Errorf("load symbol table %s: %w", path, err)
	}
	if err = t.validate(); err != nil {
		return nil, fmt.Errorf("load symbol table %s: %w", path, err)
	}
	return t, nil
}

func newTable() *Table {
	return &Table{
		Sources:     map[string]map[uint32][]*BreakpointDef{},
		Instances:   map[uint64]*Instance{},
		Breakpoints: map[uint64]*BreakpointDef{},
		Variables:   map[uint64]*Variable{},
		contexts:    map[uint64][]*ContextVariable{},
		generators:  map[uint64][]*GeneratorVariable{},
		byName:      map[string]*Instance{},
	}
}

func (t *Table) load(txn *badger.Txn) error {
	meta, err := txn.Get(metaKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: missing schema version", ErrCorrupt)
		}
		return err
	}
	err = meta.Value(func(val []byte) error {
		if string(val) != schemaVersion {
			return fmt.Errorf("%w: unsupported schema version %q", ErrCorrupt, val)
		}
		return nil
	})
	if err != nil {
		return err
	}

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err = t.add(key, val); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) add(key, val []byte) error {
	decode := func(v interface{}) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrCorrupt, key, err)
		}
		return nil
	}

	switch {
	case bytes.HasPrefix(key, instancePrefix):
		inst := &Instance{}
		if err := decode(inst); err != nil {
			return err
		}
		t.Instances[inst.ID] = inst
		t.byName[inst.Name] = inst
	case bytes.HasPrefix(key, breakpointPrefix):
		def := &BreakpointDef{}
		if err := decode(def); err != nil {
			return err
		}
		t.Breakpoints[def.ID] = def
		lines, ok := t.Sources[def.Filename]
		if !ok {
			lines = map[uint32][]*BreakpointDef{}
			t.Sources[def.Filename] = lines
		}
		lines[def.LineNum] = append(lines[def.LineNum], def)
	case bytes.HasPrefix(key, variablePrefix):
		v := &Variable{}
		if err := decode(v); err != nil {
			return err
		}
		t.Variables[v.ID] = v
	case bytes.HasPrefix(key, contextPrefix):
		cv := &ContextVariable{}
		if err := decode(cv); err != nil {
			return err
		}
		t.contexts[cv.BreakpointID] = append(t.contexts[cv.BreakpointID], cv)
	case bytes.HasPrefix(key, generatorPrefix):
		gv := &GeneratorVariable{}
		if err := decode(gv); err != nil {
			return err
		}
		t.generators[gv.InstanceID] = append(t.generators[gv.InstanceID], gv)
	}
	return nil
}

// validate checks that every reference resolves to an existing row.
func (t *Table) validate() error {
	for _, def := range t.Breakpoints {
		if _, ok := t.Instances[def.InstanceID]; !ok {
			return fmt.Errorf("%w: breakpoint %d: instance %d: %v", ErrCorrupt, def.ID, def.InstanceID, ErrDanglingReference)
		}
	}
	for bp, cvs := range t.contexts {
		if _, ok := t.Breakpoints[bp]; !ok {
			return fmt.Errorf("%w: context variable: breakpoint %d: %v", ErrCorrupt, bp, ErrDanglingReference)
		}
		for _, cv := range cvs {
			if _, ok := t.Variables[cv.ContextID]; !ok {
				return fmt.Errorf("%w: context variable %s: variable %d: %v", ErrCorrupt, cv.Name, cv.ContextID, ErrDanglingReference)
			}
		}
	}
	for inst, gvs := range t.generators {
		if _, ok := t.Instances[inst]; !ok {
			return fmt.Errorf("%w: generator variable: instance %d: %v", ErrCorrupt, inst, ErrDanglingReference)
		}
		for _, gv := range gvs {
			if _, ok := t.Variables[gv.VariableID]; !ok {
				return fmt.Errorf("%w: generator variable %s: variable %d: %v", ErrCorrupt, gv.Name, gv.VariableID, ErrDanglingReference)
			}
		}
	}
	return nil
}

// ResolveLocation returns the breakpoint definitions at filename:line.
//
// filename is matched exactly first. A relative filename also matches a
// stored path ending in /filename, as long as only one stored file does.
func (t *Table) ResolveLocation(filename string, line uint32) ([]*BreakpointDef, error) {
	file, err := t.resolveFile(filename)
	if err != nil {
		return nil, err
	}
	defs := t.Sources[file][line]
	if len(defs) == 0 {
		return nil, fmt.Errorf("%s:%d: %w", filename, line, ErrNotFound)
	}
	out := make([]*BreakpointDef, len(defs))
	copy(out, defs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Table) resolveFile(filename string) (string, error) {
	if _, ok := t.Sources[filename]; ok {
		return filename, nil
	}
	if strings.HasPrefix(filename, "/") {
		return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	var matches []string
	for f := range t.Sources {
		if strings.HasSuffix(f, "/"+filename) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", fmt.Errorf("%s is ambiguous: %s", filename, strings.Join(matches, ", "))
}

// Bindings returns the variable names reachable at breakpoint breakpointID:
// its context variables plus the generator variables of its instance.
func (t *Table) Bindings(breakpointID uint64) ([]string, error) {
	def, ok := t.Breakpoints[breakpointID]
	if !ok {
		return nil, fmt.Errorf("breakpoint %d: %w", breakpointID, ErrNotFound)
	}

	seen := map[string]bool{}
	for _, cv := range t.contexts[breakpointID] {
		seen[cv.Name] = true
	}
	for _, gv := range t.generators[def.InstanceID] {
		seen[gv.Name] = true
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Breakpoint returns the definition with the given id.
func (t *Table) Breakpoint(id uint64) (*BreakpointDef, error) {
	def, ok := t.Breakpoints[id]
	if !ok {
		return nil, fmt.Errorf("breakpoint %d: %w", id, ErrNotFound)
	}
	return def, nil
}

// Instance returns the instance with the given id.
func (t *Table) Instance(id uint64) (*Instance, error) {
	inst, ok := t.Instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return inst, nil
}

// InstanceByName returns the instance called name.
func (t *Table) InstanceByName(name string) (*Instance, error) {
	inst, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return inst, nil
}

// Filenames returns every instrumented source file, sorted.
func (t *Table) Filenames() []string {
	files := make([]string, 0, len(t.Sources))
	for f := range t.Sources {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Lines returns the instrumented lines of filename, sorted.
func (t *Table) Lines(filename string) []uint32 {
	file, err := t.resolveFile(filename)
	if err != nil {
		return nil
	}
	lines := make([]uint32, 0, len(t.Sources[file]))
	for ln := range t.Sources[file] {
		lines = append(lines, ln)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	return lines
}
