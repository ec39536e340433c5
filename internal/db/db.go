package db

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// DBTX is the subset of *sql.DB / *sql.Tx the query layer needs.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries is the handwritten query layer over the fleet store.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// DB exposes the underlying connection so callers can run raw SQL when needed.
func (q *Queries) DB() DBTX {
	return q.db
}

// Ping verifies the store answers queries.
func (q *Queries) Ping(ctx context.Context) error {
	var one int
	return q.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// Init opens the store, verifies connectivity and returns a query layer.
func Init(connStr string) (*Queries, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return New(conn), nil
}
