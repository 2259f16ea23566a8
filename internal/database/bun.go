package database

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Pool limits sized for a single API instance against a shared postgres.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxIdleTime = 5 * time.Minute
)

// NewBunDB wraps an open sql.DB in bun with the postgres dialect and
// applies the pool limits.
func NewBunDB(sqlDB *sql.DB) *bun.DB {
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return bun.NewDB(sqlDB, pgdialect.New())
}
