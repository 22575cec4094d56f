package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/config"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

// ExponentialBackoffRetryer retries an operation with capped, jittered
// exponential backoff.
type ExponentialBackoffRetryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
}

// NewExponentialBackoffRetryer creates a new retryer with sensible defaults
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
		multiplier: 2.0,
		jitter:     true,
	}
}

// Retry executes fn until it succeeds, the attempts run out or ctx is done.
func (r *ExponentialBackoffRetryer) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.maxRetries {
			break
		}

		delay := r.calculateDelay(attempt)
		slog.DebugContext(ctx, "Retry attempt failed, waiting before next attempt",
			"attempt", attempt+1, "max_attempts", r.maxRetries+1,
			"delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *ExponentialBackoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt))
	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}
	if r.jitter {
		// Up to 25% extra.
		delay += rand.Float64() * delay * 0.25
	}
	return time.Duration(delay)
}

// DBConnection is a managed SurrealDB connection.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsHealthy() bool
	StartMonitoring()
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Connection manages a SurrealDB connection, reconnecting with backoff when
// the socket drops.
type Connection struct {
	cfg     config.Provider
	conn    *surrealdb.DB
	retryer *ExponentialBackoffRetryer
	logger  *slog.Logger

	mu        sync.RWMutex
	healthy   bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a new managed database connection
func NewConnection(cfg config.Provider) *Connection {
	return &Connection{
		cfg:     cfg,
		retryer: NewExponentialBackoffRetryer(),
		logger:  slog.Default().With("component", "surrealdb"),
		done:    make(chan struct{}),
	}
}

// Connect establishes the initial database connection, retrying with backoff.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	return c.retryer.Retry(ctx, func() error {
		return c.reconnect(ctx)
	})
}

// WithConnection runs fn against the live connection. Writes are never
// replayed: a connection failure triggers a reconnect for later calls and the
// original error is returned.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	conn := c.getConnection()
	if conn == nil {
		return store.NewError(store.CodeUnavailable, "connection", errors.New("database not connected"))
	}

	err := fn(conn)
	if err == nil || !isConnectionError(err) {
		return err
	}

	c.logger.WarnContext(ctx, "Database operation failed, reconnecting",
		"error", err, "db_url", redactDBURL(c.cfg.GetDBURL()))
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if rerr := c.retryer.Retry(rctx, func() error { return c.forceReconnect(rctx) }); rerr != nil {
			c.logger.Error("Failed to reconnect to database", "error", rerr)
		}
	}()
	return store.NewError(store.CodeUnavailable, "connection", err)
}

// StartMonitoring begins health checks and automatic reconnection
func (c *Connection) StartMonitoring() {
	go c.monitorConnection()
}

// Close shuts down the connection and monitoring
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	c.healthy = false
	return err
}

// IsHealthy returns the current connection status
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Connection) getConnection() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Connection) reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close(ctx)
		c.conn = nil
	}

	dbURL := c.cfg.GetDBURL()
	c.logger.DebugContext(ctx, "Attempting to connect to database", "db_url", redactDBURL(dbURL))

	conn, err := surrealdb.FromEndpointURLString(ctx, dbURL)
	if err != nil {
		c.healthy = false
		return fmt.Errorf("failed to connect to database at %s: %w", redactDBURL(dbURL), err)
	}

	if c.cfg.GetDBUser() != "" {
		authData := &surrealdb.Auth{
			Username: c.cfg.GetDBUser(),
			Password: c.cfg.GetDBPass(),
		}
		if _, err = conn.SignIn(ctx, authData); err != nil {
			_ = conn.Close(ctx)
			c.healthy = false
			return fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err = conn.Use(ctx, c.cfg.GetDBNs(), c.cfg.GetDBDb()); err != nil {
		_ = conn.Close(ctx)
		c.healthy = false
		return fmt.Errorf("failed to use namespace/db: %w", err)
	}

	c.conn = conn
	c.healthy = true
	c.logger.InfoContext(ctx, "Database connection established",
		"db_url", redactDBURL(dbURL),
		"namespace", c.cfg.GetDBNs(),
		"database", c.cfg.GetDBDb(),
	)
	return nil
}

func (c *Connection) forceReconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect(ctx)
}

func (c *Connection) monitorConnection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.checkHealth(ctx); err != nil {
				c.logger.WarnContext(ctx, "Database health check failed, reconnecting", "error", err)
				if rerr := c.retryer.Retry(ctx, func() error { return c.forceReconnect(ctx) }); rerr != nil {
					c.logger.ErrorContext(ctx, "Failed to reconnect after health check failure", "error", rerr)
				}
			}
			cancel()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) checkHealth(ctx context.Context) error {
	conn := c.getConnection()
	if conn == nil {
		c.setHealthy(false)
		return errors.New("no active database connection")
	}
	if _, err := conn.Version(ctx); err != nil {
		c.setHealthy(false)
		return fmt.Errorf("database health check failed: %w", err)
	}
	c.setHealthy(true)
	return nil
}

func (c *Connection) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// isConnectionError reports whether err means the socket is gone, as opposed
// to a query-level failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "unexpected eof")
}

// redactDBURL returns dbURL with any password replaced.
func redactDBURL(dbURL string) string {
	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return parsedURL.Redacted()
}

// GetDBQueryTimeout returns the query timeout from the config provider.
func (c *Connection) GetDBQueryTimeout() time.Duration {
	return c.cfg.GetDBQueryTimeout()
}

// GetDBExecuteTimeout returns the execute timeout from the config provider.
func (c *Connection) GetDBExecuteTimeout() time.Duration {
	return c.cfg.GetDBExecuteTimeout()
}
