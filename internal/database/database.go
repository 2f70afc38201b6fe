// Package database opens the PostgreSQL pool shared by the feature flag store
// and the dataset sink.
package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultApplicationName is reported to the server when Config leaves it empty.
const DefaultApplicationName = "beewatch"

// Config describes one database. URL, when set, wins over the discrete fields.
type Config struct {
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	ApplicationName string

	// PingAttempts bounds the pings made before Connect gives up. Managed
	// instances are often still starting when the service boots. Default: 3
	PingAttempts int
}

// ConnectionString returns the URL form of c.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	return (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}).String()
}

// PoolConfig parses c into pool settings without connecting.
func PoolConfig(c Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if c.MaxOpenConns > 0 {
		pc.MaxConns = int32(c.MaxOpenConns) //nolint:gosec // bounded by config validation
	}
	if c.MaxIdleConns > 0 {
		pc.MinConns = int32(min(c.MaxIdleConns, int(pc.MaxConns))) //nolint:gosec // bounded by MaxConns
	}
	if c.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = c.ConnMaxLifetime
	}
	name := c.ApplicationName
	if name == "" {
		name = DefaultApplicationName
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = name
	}
	return pc, nil
}

// Connect opens a pool and pings it, retrying the ping with backoff.
func Connect(ctx context.Context, c Config) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(c)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	attempts := c.PingAttempts
	if attempts <= 0 {
		attempts = 3
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx) //nolint:gosec // positive

	if err := backoff.Retry(func() error { return pool.Ping(ctx) }, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
