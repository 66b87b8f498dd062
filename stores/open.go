package stores

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout is how long a connection waits for a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Open opens a sqlite database for the SQL stores. File databases get a busy
// timeout and immediate transactions, so concurrent writers queue on the
// database lock and a lost race surfaces as ErrConflict rather than
// SQLITE_BUSY. In-memory databases are pinned to a single connection because
// each new connection would see a fresh database.
func Open(dsn string) (*squealx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	memory := isMemoryDSN(dsn)
	if !memory {
		dsn = withDSNParam(dsn, "busy_timeout", fmt.Sprintf("_pragma=busy_timeout(%d)", DefaultBusyTimeout.Milliseconds()))
		dsn = withDSNParam(dsn, "_txlock", "_txlock=immediate")
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if memory {
		sqlDB.SetMaxOpenConns(1)
	}
	return squealx.NewDb(sqlDB, "sqlite", "govern"), nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}

// withDSNParam appends param unless the DSN already mentions key.
func withDSNParam(dsn, key, param string) string {
	if strings.Contains(dsn, key) {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
