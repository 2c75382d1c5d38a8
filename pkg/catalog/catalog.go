// Package catalog implements the transactional metadata catalog from
// spec.md §4.3: snapshots, files, file<->chunk edges, chunk stats, Merkle
// nodes, and the FTS/blind-index search paths. Backed by modernc.org/sqlite
// (pure-Go, CGO-free), grounded on the pack's itsddvn-goclaw memory store
// and mvp-joe-project-cortex schema package, both of which use this driver
// for an embedded, transactional, FTS5-capable store.
package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/coldtree/coldtree/internal/logging"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
	"github.com/coldtree/coldtree/pkg/config"
	"github.com/coldtree/coldtree/pkg/migrate"
)

var log = logging.Component("catalog")

// Catalog is the metadata store for one engine instance.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog file at path, applies pragmas
// per spec.md §4.3.4, runs pending migrations, and bounds the connection
// pool to maxConnections (spec.md §5, default 10).
func Open(path string, maxConnections int) (*Catalog, error) {
	if maxConnections <= 0 {
		maxConnections = config.DefaultMaxConnections
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=temp_store(MEMORY)&_pragma=mmap_size(268435456)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "open catalog database", err)
	}
	db.SetMaxOpenConns(maxConnections)

	if err := migrate.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("catalog opened")
	return &Catalog{db: db}, nil
}

// OpenTestJournal opens a catalog using a DELETE-style journal instead of
// WAL, for tests that need strict serial isolation across connections
// (spec.md §4.3.4: "tests may select a DELETE-style journal for isolation").
func OpenTestJournal(path string, maxConnections int) (*Catalog, error) {
	if maxConnections <= 0 {
		maxConnections = config.DefaultMaxConnections
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(DELETE)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "open catalog database", err)
	}
	db.SetMaxOpenConns(maxConnections)

	if err := migrate.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every catalog
// method accept an optional transaction (spec.md §4.3.1).
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Tx wraps a *sql.Tx so callers have a typed handle. A Tx on which neither
// Commit nor Rollback is called is not rolled back automatically; Rollback
// is a no-op after Commit, so it can be deferred unconditionally.
type Tx struct {
	tx       *sql.Tx
	finished bool
}

// BeginTransaction starts a new transaction.
func (c *Catalog) BeginTransaction() (*Tx, error) {
	sqlTx, err := c.db.Begin()
	if err != nil {
		if isBusy(err) {
			return nil, coldtreeerr.NewRetryable(coldtreeerr.CodeBusy, "catalog busy", err)
		}
		return nil, coldtreeerr.Wrap(coldtreeerr.CodeIo, "begin transaction", err)
	}
	return &Tx{tx: sqlTx}, nil
}

// Commit commits tx.
func (c *Catalog) Commit(tx *Tx) error {
	if tx.finished {
		return nil
	}
	tx.finished = true
	if err := tx.tx.Commit(); err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "commit transaction", err)
	}
	return nil
}

// Rollback rolls tx back. Safe to call after Commit (no-op).
func (c *Catalog) Rollback(tx *Tx) error {
	if tx.finished {
		return nil
	}
	tx.finished = true
	if err := tx.tx.Rollback(); err != nil {
		return coldtreeerr.Wrap(coldtreeerr.CodeIo, "rollback transaction", err)
	}
	return nil
}

// q resolves the querier to use: the transaction's if one is supplied, else
// the catalog's pooled *sql.DB (auto-commit per statement).
func (c *Catalog) q(tx *Tx) querier {
	if tx != nil {
		return tx.tx
	}
	return c.db
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy")
}
