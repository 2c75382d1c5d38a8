package migrate

import "database/sql"

// migration1 creates the initial tables named in spec.md §4.4 step 1 and
// §6.2: snapshots, files, file_chunks, chunks, schema_version. The
// file_chunks -> chunks foreign key and the snapshots/merkle_nodes columns
// added by later migrations are deliberately absent here.
func migration1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			created_at INTEGER NOT NULL,
			description TEXT,
			parent_id TEXT,
			total_files INTEGER NOT NULL DEFAULT 0,
			total_size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			modified_time INTEGER NOT NULL,
			file_hash TEXT NOT NULL,
			UNIQUE(snapshot_id, path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_snapshot ON files(snapshot_id)`,
		`CREATE TABLE IF NOT EXISTS file_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_hash TEXT NOT NULL,
			chunk_order INTEGER NOT NULL,
			chunk_size INTEGER NOT NULL,
			UNIQUE(file_id, chunk_order)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_chunks_hash ON file_chunks(chunk_hash)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			hash TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			first_seen INTEGER NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 1,
			last_accessed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migration2 adds the file_chunks.chunk_hash -> chunks foreign key with
// cascade (spec.md §4.4 step 2). SQLite cannot ALTER a foreign key onto an
// existing table, so this is a table rebuild: create the new shape, copy
// rows, swap names.
func migration2(tx *sql.Tx) error {
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='file_chunks_v2'`).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	stmts := []string{
		`CREATE TABLE file_chunks_v2 (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_hash TEXT NOT NULL REFERENCES chunks(hash) ON DELETE CASCADE,
			chunk_order INTEGER NOT NULL,
			chunk_size INTEGER NOT NULL,
			UNIQUE(file_id, chunk_order)
		)`,
		`INSERT INTO file_chunks_v2 (id, file_id, chunk_hash, chunk_order, chunk_size)
			SELECT id, file_id, chunk_hash, chunk_order, chunk_size FROM file_chunks`,
		`DROP TABLE file_chunks`,
		`ALTER TABLE file_chunks_v2 RENAME TO file_chunks`,
		`CREATE INDEX IF NOT EXISTS idx_file_chunks_hash ON file_chunks(chunk_hash)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migration3 adds the FTS path-search virtual index plus triggers mirroring
// files(id, path), and backfills existing rows (spec.md §4.4 step 3).
func migration3(tx *sql.Tx) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
			path,
			file_id UNINDEXED,
			tokenize = 'unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_ai AFTER INSERT ON files BEGIN
			INSERT INTO files_fts(rowid, path, file_id) VALUES (new.rowid, new.path, new.id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_ad AFTER DELETE ON files BEGIN
			DELETE FROM files_fts WHERE rowid = old.rowid;
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_au AFTER UPDATE ON files BEGIN
			DELETE FROM files_fts WHERE rowid = old.rowid;
			INSERT INTO files_fts(rowid, path, file_id) VALUES (new.rowid, new.path, new.id);
		END`,
		`INSERT INTO files_fts(rowid, path, file_id) SELECT rowid, path, id FROM files
			WHERE rowid NOT IN (SELECT rowid FROM files_fts)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migration4 adds files.encryption_mode and the file_keywords blind-index
// table (spec.md §4.4 step 4).
func migration4(tx *sql.Tx) error {
	if !hasColumn(tx, "files", "encryption_mode") {
		if _, err := tx.Exec(`ALTER TABLE files ADD COLUMN encryption_mode TEXT NOT NULL DEFAULT 'NONE'`); err != nil {
			return err
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS file_keywords (
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			keyword_hash TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_keywords_hash ON file_keywords(keyword_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_file_keywords_file ON file_keywords(file_id)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migration5 adds the merkle_nodes table (spec.md §4.4 step 5).
func migration5(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS merkle_nodes (
		hash TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('FILE','DIRECTORY')),
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		children BLOB,
		file_id TEXT
	)`)
	return err
}

// migration6 adds merkle_nodes.compression and snapshots.merkle_root
// (spec.md §4.4 step 6).
func migration6(tx *sql.Tx) error {
	if !hasColumn(tx, "merkle_nodes", "compression") {
		if _, err := tx.Exec(`ALTER TABLE merkle_nodes ADD COLUMN compression TEXT`); err != nil {
			return err
		}
	}
	if !hasColumn(tx, "snapshots", "merkle_root") {
		if _, err := tx.Exec(`ALTER TABLE snapshots ADD COLUMN merkle_root TEXT`); err != nil {
			return err
		}
	}
	return nil
}

// hasColumn probes for column existence so migrations stay idempotent with
// respect to re-application after a partial failure (spec.md §4.4).
func hasColumn(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// CreateInitialSchema is used when current==0: it applies every migration
// up to TargetVersion and records the final version in one pass (spec.md
// §4.4, create_initial_schema).
func CreateInitialSchema(db *sql.DB) error {
	return Migrate(db)
}
