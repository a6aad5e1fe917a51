package symbol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Writer appends rows to a symbol table. It is used by instrumentation
// tooling and by tests, the console itself only reads tables.
type Writer struct {
	db *badger.DB
}

// Create opens (creating if needed) a symbol table for writing.
func Create(path string) (*Writer, error) {
	db, err := openDB(path, false)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey, []byte(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("write schema version: %w", err)
	}
	return &Writer{db: db}, nil
}

// Close flushes and closes the table.
func (w *Writer) Close() error {
	return w.db.Close()
}

// StoreInstance 添加一个实例
func (w *Writer) StoreInstance(id uint64, name string) error {
	return w.insert(idKey(instancePrefix, id), Instance{ID: id, Name: name}, nil)
}

// StoreBreakpoint 添加一个可插桩的源码位置，instanceID必须已经存在
func (w *Writer) StoreBreakpoint(id, instanceID uint64, filename string, line uint32) error {
	def := BreakpointDef{ID: id, InstanceID: instanceID, Filename: filename, LineNum: line}
	return w.insert(idKey(breakpointPrefix, id), def, [][]byte{idKey(instancePrefix, instanceID)})
}

// StoreVariable 添加一个变量
func (w *Writer) StoreVariable(id uint64, name string) error {
	return w.insert(idKey(variablePrefix, id), Variable{ID: id, Name: name}, nil)
}

// StoreContextVariable binds name to the scope of breakpoint breakpointID,
// backed by variable contextID.
func (w *Writer) StoreContextVariable(name string, breakpointID, contextID uint64) error {
	cv := ContextVariable{Name: name, BreakpointID: breakpointID, ContextID: contextID}
	refs := [][]byte{idKey(breakpointPrefix, breakpointID), idKey(variablePrefix, contextID)}
	return w.insert(scopedKey(contextPrefix, breakpointID, name), cv, refs)
}

// StoreGeneratorVariable binds name to instance instanceID, making it
// reachable as <instance>.<name>.
func (w *Writer) StoreGeneratorVariable(name string, instanceID, variableID uint64) error {
	gv := GeneratorVariable{Name: name, InstanceID: instanceID, VariableID: variableID}
	refs := [][]byte{idKey(instancePrefix, instanceID), idKey(variablePrefix, variableID)}
	return w.insert(scopedKey(generatorPrefix, instanceID, name), gv, refs)
}

// insert writes row under key after checking that key is new and that every
// key in refs exists.
func (w *Writer) insert(key []byte, row interface{}, refs [][]byte) error {
	val, err := json.Marshal(row)
	if err != nil {
		return err
	}

	return w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %q", ErrDuplicateID, key)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for _, ref := range refs {
			if _, err := txn.Get(ref); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: %q", ErrDanglingReference, ref)
				}
				return err
			}
		}
		return txn.Set(key, val)
	})
}
