package recorder

import (
	"database/sql"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       id          TEXT PRIMARY KEY,
	       started_at  TEXT NOT NULL,
	       interval    REAL NOT NULL CHECK (interval > 0),
	       categories  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS entities (
	       run_id      TEXT NOT NULL REFERENCES runs(id),
	       pid         INTEGER NOT NULL,
	       name        TEXT NOT NULL,
	       cmdline     TEXT NOT NULL,
	       PRIMARY KEY (run_id, pid)
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       run_id      TEXT NOT NULL REFERENCES runs(id),
	       tick        INTEGER NOT NULL,
	       timestamp   INTEGER NOT NULL,
	       window_ms   REAL NOT NULL,
	       pid         INTEGER NOT NULL,
	       category    TEXT NOT NULL,
	       idx         INTEGER NOT NULL,
	       value       REAL,
	       PRIMARY KEY (run_id, tick, pid, category, idx)
	   );`

	insertRunSQL = `
    INSERT INTO runs (id, started_at, interval, categories)
    VALUES (?, ?, ?, ?)`

	insertEntitySQL = `
    INSERT INTO entities (run_id, pid, name, cmdline)
    VALUES (?, ?, ?, ?)`

	insertSampleSQL = `
    INSERT INTO samples (
        run_id, tick, timestamp, window_ms,
        pid, category, idx, value
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Debug().Int("version", SchemaVersion).Msg("Schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
