package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Schema version constants
const (
	// SchemaVersion1 is the legacy layout: a "password" column holding
	// ciphertext or plaintext, text nonce and salt, no pin or timestamps.
	SchemaVersion1 = 1
	// SchemaVersion2 renames password to ciphertext and adds pinned,
	// created_at and updated_at.
	SchemaVersion2 = 2
	// CurrentSchemaVersion is the version written by this package.
	CurrentSchemaVersion = SchemaVersion2
)

const schemaVersionTable = "schema_version"

func isReservedTable(name string) bool {
	lower := strings.ToLower(name)
	return lower == schemaVersionTable || strings.HasPrefix(lower, "sqlite_")
}

// getSchemaVersion returns the stored schema version. A database without
// a schema_version table is a legacy database unless it is empty.
func getSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, schemaVersionTable).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		tables, err := userTables(db)
		if err != nil {
			return 0, err
		}
		if len(tables) == 0 {
			return 0, nil
		}
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion records version in the schema_version table.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("store: failed to create schema_version table: %w", err)
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("store: failed to set schema version: %w", err)
	}
	return nil
}

// migrateSchema brings every vault table to CurrentSchemaVersion.
func migrateSchema(db *sql.DB, logger *slog.Logger) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		return nil
	}

	if version == SchemaVersion1 {
		tables, err := userTables(db)
		if err != nil {
			return err
		}
		for _, table := range tables {
			if err := migrateTableToV2(db, table, logger); err != nil {
				return fmt.Errorf("store: migration of %s to v2 failed: %w", table, err)
			}
		}
		logger.Info("schema migrated", "from", version, "to", SchemaVersion2, "vaults", len(tables))
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

// migrateTableToV2 upgrades one legacy table in place.
func migrateTableToV2(db *sql.DB, table string, logger *slog.Logger) error {
	ident, err := quote(table)
	if err != nil {
		return err
	}
	cols, err := tableColumns(db, table)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cols["password"] && !cols["ciphertext"] {
		if _, err := tx.Exec(`ALTER TABLE ` + ident + ` RENAME COLUMN password TO ciphertext`); err != nil {
			return fmt.Errorf("rename password column: %w", err)
		}
	}
	for _, add := range []struct{ name, def string }{
		{"nonce", "BLOB"},
		{"salt", "BLOB"},
		{"pinned", "INTEGER NOT NULL DEFAULT 0"},
		{"created_at", "INTEGER NOT NULL DEFAULT 0"},
		{"updated_at", "INTEGER NOT NULL DEFAULT 0"},
	} {
		if cols[add.name] {
			continue
		}
		if _, err := tx.Exec(`ALTER TABLE ` + ident + ` ADD COLUMN ` + add.name + ` ` + add.def); err != nil {
			return fmt.Errorf("add %s column: %w", add.name, err)
		}
	}

	// The earliest layout had no uniqueness constraint; upserts need one.
	indexName := `"` + table + `_platform_user"`
	if _, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexName + ` ON ` + ident + ` (platform, user_id)`); err != nil {
		logger.Warn("legacy vault has duplicate entries, uniqueness not enforced", "vault", table, "error", err)
	}

	return tx.Commit()
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// userTables lists tables that are valid vault names.
func userTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list vaults: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: failed to list vaults: %w", err)
		}
		if ValidateTableName(name) == nil {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

func requireTable(db *sql.DB, table string) error {
	_, err := resolveTable(db, table)
	return err
}

// resolveTable returns the stored name of table. SQLite identifiers ignore
// case, so "MAIN" names the same table as "main".
func resolveTable(db *sql.DB, table string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ? COLLATE NOCASE`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrVaultNotFound, table)
	}
	if err != nil {
		return "", fmt.Errorf("store: failed to look up vault: %w", err)
	}
	return name, nil
}
