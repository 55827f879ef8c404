package db

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
)

var memoryDBCounter atomic.Int64

// OpenSQLiteMemory opens a private in-memory SQLite database wrapped in a
// Pool. Each call gets its own database; the pool is closed on test cleanup.
func OpenSQLiteMemory(tb testing.TB) *Pool {
	tb.Helper()

	// A named shared-cache memory database lets the single connection serve
	// both reads and writes while staying private to this test.
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_foreign_keys=on", memoryDBCounter.Add(1))
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		tb.Fatalf("open in-memory database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	pool := NewPool(conn, conn)
	tb.Cleanup(func() { _ = pool.Close() })
	return pool
}
