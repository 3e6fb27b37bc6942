package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	// import the postgres driver to register it with the database/sql package.
	_ "github.com/lib/pq"
)

func NewPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	if err = conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	if err = Init(ctx, conn); err != nil {
		return nil, err
	}

	return conn, nil
}
