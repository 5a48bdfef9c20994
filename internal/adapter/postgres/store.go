package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptdeck/promptdeck/internal/port/database"
)

// Store implements database.Store on PostgreSQL. Prompt version queries
// live in store_prompt.go, experiment queries in store_experiment.go,
// shared scan helpers in helpers.go.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore wraps an established connection pool. The caller owns the
// pool and closes it on shutdown.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
