// Package postgres manages the connection pool of the access code store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/migrations"
)

const healthCheckTimeout = 5 * time.Second

// ErrDatabaseUnavailable is returned when the pool is requested while the database is down.
var ErrDatabaseUnavailable = errors.New("access database is not available")

// Manager owns the pgx pool behind the PostgreSQL store. It reconnects in
// the background and reports availability for the readiness probe.
type Manager struct {
	pool      *pgxpool.Pool
	cfg       *config.Config
	logger    *logrus.Logger
	available bool
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a manager. Without credentials no connection is made
// and the service falls back to another ledger backend.
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if !cfg.IsPostgresDatabaseConfigured() {
		logger.Info("PostgreSQL access store not configured")
		return m
	}

	if cfg.PostgresDatabase.AutoMigrate {
		if err := m.Migrate(); err != nil {
			logger.WithError(err).Error("Failed to migrate access store schema")
		}
	}

	if err := m.connect(); err != nil {
		logger.WithError(err).Warn("Failed to connect to access store on startup, will retry periodically")
	}
	go m.watch()

	return m
}

// Migrate applies the embedded schema.
func (m *Manager) Migrate() error {
	if err := migrations.Run(migrations.TargetPostgres, m.cfg.PostgresMigrationURL(), migrations.Up); err != nil {
		return err
	}
	m.logger.Info("Access store schema is current")
	return nil
}

func (m *Manager) connect() error {
	db := &m.cfg.PostgresDatabase

	poolConfig, err := pgxpool.ParseConfig(m.cfg.PostgresDatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to parse access store DSN: %w", err)
	}
	poolConfig.MaxConns = db.MaxConn
	poolConfig.MinConns = db.MinConn
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = db.ConnectTimeout

	ctx, cancel := context.WithTimeout(m.ctx, db.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}

	m.mu.Lock()
	old := m.pool
	m.pool = pool
	m.available = true
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	m.logger.WithFields(logrus.Fields{
		"host":      db.Host,
		"database":  db.Database,
		"max_conns": db.MaxConn,
	}).Info("Connected to access store")
	return nil
}

func (m *Manager) watch() {
	period := m.cfg.PostgresDatabase.HealthCheckPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Manager) checkHealth() {
	m.mu.RLock()
	pool := m.pool
	wasAvailable := m.available
	m.mu.RUnlock()

	if pool != nil {
		ctx, cancel := context.WithTimeout(m.ctx, healthCheckTimeout)
		err := pool.Ping(ctx)
		cancel()

		if err == nil {
			m.setAvailable(true)
			if !wasAvailable {
				m.logger.Info("Access store connection restored")
			}
			return
		}
		if wasAvailable {
			m.logger.WithError(err).Warn("Access store health check failed, connection lost")
		}
	}

	m.setAvailable(false)
	if err := m.connect(); err != nil {
		m.logger.WithError(err).Debug("Access store reconnection attempt failed")
	}
}

func (m *Manager) setAvailable(available bool) {
	m.mu.Lock()
	m.available = available
	m.mu.Unlock()
}

// IsAvailable reports whether the last health check succeeded.
func (m *Manager) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Pool returns the current pool, or nil while the database is unavailable.
// It is passed to the store as a getter so reconnections are picked up.
func (m *Manager) Pool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.available {
		return nil
	}
	return m.pool
}

// Ping checks the database.
func (m *Manager) Ping(ctx context.Context) error {
	pool := m.Pool()
	if pool == nil {
		return ErrDatabaseUnavailable
	}
	return pool.Ping(ctx)
}

// Close stops health monitoring and closes the pool.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
	m.available = false
}
