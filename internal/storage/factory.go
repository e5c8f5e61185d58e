package storage

import (
	"fmt"
	"strings"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// Kinds lists the backend names NewStore accepts.
func Kinds() []string {
	return []string{KindMemory, KindSQLite}
}

// NewStore builds an uninitialized store for the named backend. An empty kind
// selects DefaultStoreKind.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "":
		return NewStore(DefaultStoreKind(), sqlitePath)
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		if strings.TrimSpace(sqlitePath) == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (valid: %s)", kind, strings.Join(Kinds(), ", "))
	}
}

// CloseIfSupported releases stores that hold an open handle, such as sqlite.
func CloseIfSupported(store Store) error {
	if store == nil {
		return nil
	}
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
