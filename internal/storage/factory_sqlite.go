//go:build sqlite

package storage

// DefaultStoreKind is the backend selected when none is configured.
func DefaultStoreKind() string { return "sqlite" }

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		path = "tracemh.db"
	}
	return NewSQLiteStore(path), nil
}
