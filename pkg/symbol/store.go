package symbol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
)

// schemaVersion is written under metaKey when a table is created, a table
// without it is treated as corrupt.
const schemaVersion = "1"

var (
	metaKey = []byte("meta/version")

	instancePrefix   = []byte("instance/")
	breakpointPrefix = []byte("breakpoint/")
	variablePrefix   = []byte("variable/")
	contextPrefix    = []byte("context/")
	generatorPrefix  = []byte("generator/")
)

var (
	ErrNotFound          = errors.New("not found")
	ErrCorrupt           = errors.New("corrupt symbol table")
	ErrDanglingReference = errors.New("dangling reference")
	ErrDuplicateID       = errors.New("duplicate id")
)

// idKey encodes prefix + big endian id, so that iteration follows id order.
func idKey(prefix []byte, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

// scopedKey encodes prefix + big endian owner id + "/" + name.
func scopedKey(prefix []byte, owner uint64, name string) []byte {
	k := idKey(prefix, owner)
	k = append(k, '/')
	return append(k, name...)
}

// glogLogger adapts glog to badger's Logger interface. Badger is chatty at
// info level, so info and debug go to verbosity 2.
type glogLogger struct{}

func (glogLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
}

func (glogLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(1, fmt.Sprintf(format, args...))
}

func (glogLogger) Infof(format string, args ...interface{}) {
	glog.V(2).Infof(format, args...)
}

func (glogLogger) Debugf(format string, args ...interface{}) {
	glog.V(3).Infof(format, args...)
}

// openDB opens the badger directory at path. The console opens tables
// read-only and refuses to create missing ones.
func openDB(path string, readOnly bool) (*badger.DB, error) {
	if path == "" {
		return nil, errors.New("symbol table path is required")
	}
	if readOnly {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("open symbol table %s: %w", path, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("open symbol table %s: %w: not a table directory", path, ErrCorrupt)
		}
	} else if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create symbol table directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithReadOnly(readOnly).
		WithSyncWrites(!readOnly).
		WithNumVersionsToKeep(1).
		WithLogger(glogLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open symbol table %s: %w", path, err)
	}
	return db, nil
}
