package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pool provides separate read and write connections to the bridge database.
//
// With WAL mode, readers proceed against a snapshot while writes serialize
// through a single connection, so transcript loads never wait on a save.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Open opens the writer and reader pools for the sqlite file at path.
func Open(path string) (*Pool, error) {
	w, err := OpenWriter(path)
	if err != nil {
		return nil, err
	}
	r, err := OpenReader(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Ping(); err != nil {
		_ = w.Close()
		_ = r.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPool(w, r), nil
}

// Writer returns the single-connection pool used for writes and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the read-only pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
