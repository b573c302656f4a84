package store

import (
	"github.com/neoai/neoai/internal/db"
)

// Provide creates the SQLite store on the shared database pool.
func Provide(pool *db.Pool) (Repository, func() error, error) {
	repo, err := newSQLiteRepository(pool.Writer(), pool.Reader(), false)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}
