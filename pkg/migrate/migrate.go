// Package migrate implements the versioned, forward-only schema migrator
// from spec.md §4.4, grounded on the pack's mvp-joe-project-cortex schema
// package (transactional DDL apply, version bookkeeping row) and the
// itsddvn-goclaw memory store's IF NOT EXISTS migration style.
package migrate

import (
	"database/sql"
	"fmt"

	"github.com/coldtree/coldtree/internal/logging"
	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// Migration is one versioned, idempotent schema step.
type Migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// TargetVersion is the schema version this code understands (spec.md §4.4).
const TargetVersion = 6

// Migrations lists the six migrations required by spec.md §4.4, in order.
var Migrations = []Migration{
	{Version: 1, Name: "initial tables", Apply: migration1},
	{Version: 2, Name: "file_chunks chunk hash FK with cascade", Apply: migration2},
	{Version: 3, Name: "FTS path-search index + triggers", Apply: migration3},
	{Version: 4, Name: "encryption_mode + file_keywords", Apply: migration4},
	{Version: 5, Name: "merkle_nodes table", Apply: migration5},
	{Version: 6, Name: "merkle_nodes.compression + snapshots.merkle_root", Apply: migration6},
}

var log = logging.Component("migrate")

// CurrentVersion returns 0 if the schema_version table is absent, else the
// single row's version value (spec.md §4.4).
func CurrentVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "check schema_version table", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, coldtreeerr.Wrap(coldtreeerr.CodeIo, "read schema_version", err)
	}
	return version, nil
}

// Migrate brings db from its current version up to TargetVersion. A
// current version greater than TargetVersion fails with
// SchemaNewerThanCode (spec.md §4.4). Calling Migrate when current ==
// TargetVersion is a no-op.
func Migrate(db *sql.DB) error {
	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	if current == TargetVersion {
		return nil
	}
	if current > TargetVersion {
		return coldtreeerr.New(coldtreeerr.CodeSchemaNewerThanCode,
			fmt.Sprintf("catalog schema version %d is newer than this code's target %d", current, TargetVersion))
	}

	if current == 0 {
		log.Info().Msg("initializing catalog schema")
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := applyOne(db, m); err != nil {
			return coldtreeerr.Wrap(coldtreeerr.CodeMigrationFailed,
				fmt.Sprintf("migration %d (%s) failed", m.Version, m.Name), err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}

func applyOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.Apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// requiredTables lists every table Validate checks for.
var requiredTables = []string{
	"snapshots", "files", "file_chunks", "chunks", "schema_version",
	"file_keywords", "merkle_nodes",
}

// Validate returns true iff current == TargetVersion AND every required
// table exists (spec.md §4.4).
func Validate(db *sql.DB) (bool, error) {
	current, err := CurrentVersion(db)
	if err != nil {
		return false, err
	}
	if current != TargetVersion {
		return false, nil
	}
	for _, table := range requiredTables {
		var exists int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&exists)
		if err != nil {
			return false, coldtreeerr.Wrap(coldtreeerr.CodeIo, "check table existence", err)
		}
		if exists == 0 {
			return false, nil
		}
	}
	return true, nil
}
