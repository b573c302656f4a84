// Package sqlite holds small helpers for evolving SQLite schemas in place.
package sqlite

import (
	"database/sql"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type columnInfo struct {
	CID          int            `db:"cid"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	NotNull      int            `db:"notnull"`
	DefaultValue sql.NullString `db:"dflt_value"`
	PK           int            `db:"pk"`
}

// EnsureColumn adds a column to a table if it doesn't exist.
func EnsureColumn(db *sqlx.DB, table, column, definition string) error {
	exists, err := ColumnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !identRegex.MatchString(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// ColumnExists checks if a column exists in a table.
func ColumnExists(db *sqlx.DB, table, column string) (bool, error) {
	if !identRegex.MatchString(table) {
		return false, fmt.Errorf("invalid table name %q", table)
	}
	var cols []columnInfo
	if err := db.Select(&cols, fmt.Sprintf("PRAGMA table_info(%s)", table)); err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}
