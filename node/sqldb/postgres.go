package sqldb

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// NewDB creates a new database connection using the given lib/pq
// connection string. The function returns a sqlx.DB pointer or an error if
// the connection failed.
func NewDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	client, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err = client.PingContext(pingCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	client.SetMaxOpenConns(20)
	client.SetMaxIdleConns(5)
	client.SetConnMaxLifetime(time.Minute * 5)

	return client, nil
}
