package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/postgres/migrations"
)

// Open connects to databaseURL, sizes the pool and brings the schema up to date.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(ctx, db.DB, migrations.Files, migrations.Dir); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
