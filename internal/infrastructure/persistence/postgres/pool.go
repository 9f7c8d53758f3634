package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxConns       = 10
	connectTimeout = 10 * time.Second
	maxIdleTime    = 30 * time.Second
)

// NewPool builds the process-wide connection pool: up to 10 connections,
// 10 s connect deadline, 30 s idle timeout, TLS required unless the URL
// explicitly opts out (local tests).
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if !strings.Contains(databaseURL, "sslmode=") {
		sep := "?"
		if strings.Contains(databaseURL, "?") {
			sep = "&"
		}
		databaseURL += sep + "sslmode=require"
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.ConnConfig.ConnectTimeout = connectTimeout
	cfg.MaxConnIdleTime = maxIdleTime
	return pgxpool.NewWithConfig(ctx, cfg)
}
