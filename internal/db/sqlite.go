// Package db opens the sqlite database backing transcripts and settings.
package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout = 5 * time.Second

	// readerConns bounds concurrent transcript loads.
	readerConns = 2

	// Transcripts hold source code and prompts; keep them private to the user.
	dirMode  = 0o700
	fileMode = 0o600
)

// dsn builds a go-sqlite3 DSN. The writer takes the lock at BEGIN so a
// save never fails half way on a lock upgrade.
func dsn(path string, readOnly bool) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("mode", "rwc")
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenWriter opens the single-connection write pool, creating the file.
func OpenWriter(path string) (*sqlx.DB, error) {
	path, err := prepareFile(path)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite3", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenReader opens a read-only pool on an existing file.
func OpenReader(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", dsn(absPath(path), true))
	if err != nil {
		return nil, fmt.Errorf("open read-only database: %w", err)
	}
	db.SetMaxOpenConns(readerConns)
	db.SetMaxIdleConns(readerConns)
	return db, nil
}

// prepareFile makes the directory and an empty database file with
// private permissions and returns the absolute path.
func prepareFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("database path is empty")
	}
	path = absPath(path)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return "", fmt.Errorf("create database dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return "", fmt.Errorf("create database file: %w", err)
	}
	return path, f.Close()
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
