// Package db opens the relational store used for bars and symbols.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	baradapters "stock_ingest/internal/feature/bars/adapters"
	symbolentity "stock_ingest/internal/feature/symbollist/domain/entity"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// retryInterval is the pause between two connection attempts.
const retryInterval = 3 * time.Second

// Config holds the database connection settings.
// URL, when set, wins over the individual fields.
type Config struct {
	Driver         string        `envconfig:"DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	URL            string        `envconfig:"URL"`
	Host           string        `envconfig:"HOST" default:"localhost"`
	Port           string        `envconfig:"PORT" default:"5432"`
	User           string        `envconfig:"USER"`
	Password       string        `envconfig:"PASSWORD"`
	Name           string        `envconfig:"NAME"`
	SSLMode        string        `envconfig:"SSLMODE" default:"disable"`
	InstanceName   string        `envconfig:"INSTANCE_CONNECTION_NAME"`
	SQLitePath     string        `envconfig:"SQLITE_PATH" default:"stock_data.db"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"60s"`
	MaxOpenConns   int           `envconfig:"MAX_OPEN_CONNS" default:"10"`
	RunMigrations  bool          `envconfig:"RUN_MIGRATIONS" default:"false"`
}

// Opener opens a gorm connection for a DSN.
type Opener func(dsn string) (*gorm.DB, error)

// BuildDSN returns the connection string for cfg.
//
// 優先順位:
//   - URL（DATABASE_URL）
//   - InstanceName（Cloud SQL Unixソケット）
//   - Host/Port によるTCP接続
func BuildDSN(cfg Config) string {
	if cfg.Driver == DriverSQLite {
		return cfg.SQLitePath
	}
	if cfg.URL != "" {
		return cfg.URL
	}
	if cfg.InstanceName != "" {
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.InstanceName, cfg.User, cfg.Password, cfg.Name)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// OpenerFor returns the gorm opener of the configured driver.
func OpenerFor(driver string) (Opener, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch driver {
	case "", DriverPostgres:
		return func(dsn string) (*gorm.DB, error) {
			return gorm.Open(postgres.Open(dsn), gcfg)
		}, nil
	case DriverSQLite:
		return func(dsn string) (*gorm.DB, error) {
			return gorm.Open(sqlite.Open(dsn), gcfg)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// ConnectWithRetry opens the database, retrying at a fixed interval until timeout elapses.
func ConnectWithRetry(dsn string, timeout time.Duration, opener Opener) (*gorm.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var lastErr error
	db, err := backoff.RetryNotifyWithData(func() (*gorm.DB, error) {
		db, err := opener(dsn)
		if err != nil {
			lastErr = err
			return nil, err
		}
		return db, nil
	}, backoff.WithContext(backoff.NewConstantBackOff(retryInterval), ctx), func(err error, next time.Duration) {
		slog.Warn("DB connect failed, retrying", "error", err, "next", next)
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("db connect failed after %s: %w", timeout, lastErr)
	}
	return db, nil
}

// Open connects according to cfg and applies pool settings and migrations.
func Open(cfg Config) (*gorm.DB, error) {
	opener, err := OpenerFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := ConnectWithRetry(BuildDSN(cfg), cfg.ConnectTimeout, opener)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == DriverSQLite {
		// sqlite は単一ライター
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	if cfg.RunMigrations {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Migrate creates or updates the bar and symbol tables.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migrate: nil db")
	}
	if err := db.AutoMigrate(
		&baradapters.BarModel{},
		&symbolentity.Symbol{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
