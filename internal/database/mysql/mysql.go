// Package mysql manages the connection of the audit event store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	// Registers the "mysql" driver with database/sql.
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/migrations"
)

const healthCheckTimeout = 5 * time.Second

// ErrDatabaseUnavailable is returned when the connection is requested while the database is down.
var ErrDatabaseUnavailable = errors.New("audit database is not available")

// Manager owns the *sql.DB behind the audit repository. Audit is optional:
// while it is unavailable, events still reach the other publishers.
type Manager struct {
	db        *sql.DB
	cfg       *config.Config
	logger    *logrus.Logger
	available bool
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a manager and connects when credentials are configured.
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if !cfg.IsMySQLDatabaseConfigured() {
		logger.Info("MySQL audit store not configured, access events are not persisted")
		return m
	}

	if cfg.MySQLDatabase.AutoMigrate {
		if err := m.Migrate(); err != nil {
			logger.WithError(err).Error("Failed to migrate audit store schema")
		}
	}

	if err := m.connect(); err != nil {
		logger.WithError(err).Warn("Failed to connect to audit store on startup, will retry periodically")
	}
	go m.watch()

	return m
}

// Migrate applies the embedded audit schema.
func (m *Manager) Migrate() error {
	if err := migrations.Run(migrations.TargetMySQL, m.cfg.MySQLDSN(), migrations.Up); err != nil {
		return err
	}
	m.logger.Info("Audit store schema is current")
	return nil
}

func (m *Manager) connect() error {
	db := &m.cfg.MySQLDatabase

	conn, err := sql.Open("mysql", m.cfg.MySQLDSN()+"&timeout="+db.ConnectTimeout.String())
	if err != nil {
		return err
	}
	conn.SetMaxOpenConns(db.MaxConn)
	conn.SetMaxIdleConns(db.MinConn)
	conn.SetConnMaxLifetime(db.MaxConnLifetime)
	conn.SetConnMaxIdleTime(db.MaxConnIdleTime)

	ctx, cancel := context.WithTimeout(m.ctx, db.ConnectTimeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	old := m.db
	m.db = conn
	m.available = true
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	m.logger.WithFields(logrus.Fields{
		"host":     db.Host,
		"database": db.Database,
	}).Info("Connected to audit store")
	return nil
}

func (m *Manager) watch() {
	period := m.cfg.MySQLDatabase.HealthCheckPeriod
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
	db := m.db
	wasAvailable := m.available
	m.mu.RUnlock()

	if db != nil {
		ctx, cancel := context.WithTimeout(m.ctx, healthCheckTimeout)
		err := db.PingContext(ctx)
		cancel()

		if err == nil {
			m.setAvailable(true)
			if !wasAvailable {
				m.logger.Info("Audit store connection restored")
			}
			return
		}
		if wasAvailable {
			m.logger.WithError(err).Warn("Audit store health check failed, connection lost")
		}
	}

	m.setAvailable(false)
	if err := m.connect(); err != nil {
		m.logger.WithError(err).Debug("Audit store reconnection attempt failed")
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

// DB returns the current connection, or nil while the database is unavailable.
func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.available {
		return nil
	}
	return m.db
}

// Ping checks the database.
func (m *Manager) Ping(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.PingContext(ctx)
}

// Close stops health monitoring and closes the connection.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
	m.available = false
}
