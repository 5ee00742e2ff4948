package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/config"
)

// Connections bundles writer and reader bun instances. All financially
// significant read-modify-write cycles go through the writer inside
// RunInLockedTx; the reader serves plain lookups.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB

	driver      string
	lockTimeout time.Duration
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// New establishes writer and reader pools backed by Bun.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	dial, err := selectDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	writerSQL, err := openSQLDB(cfg.Database.Driver, cfg.Database.WriterDSN)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	applyPoolSettings(writerSQL, cfg.Database)
	writer := bun.NewDB(writerSQL, dial)

	var reader *bun.DB
	if cfg.Database.ReaderDSN != cfg.Database.WriterDSN {
		readerSQL, err := openSQLDB(cfg.Database.Driver, cfg.Database.ReaderDSN)
		if err != nil {
			return nil, fmt.Errorf("open reader: %w", err)
		}
		applyPoolSettings(readerSQL, cfg.Database)
		reader = bun.NewDB(readerSQL, dial)
	} else {
		reader = writer
	}

	conns := &Connections{
		Writer:      writer,
		Reader:      reader,
		driver:      cfg.Database.Driver,
		lockTimeout: cfg.Engine.LockTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pingContext(ctx, writer); err != nil {
				return fmt.Errorf("ping writer: %w", err)
			}
			if reader != writer {
				if err := pingContext(ctx, reader); err != nil {
					return fmt.Errorf("ping reader: %w", err)
				}
			}
			logger.Info("database connected", zap.String("driver", cfg.Database.Driver))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var closeErr error
			if err := writer.Close(); err != nil {
				closeErr = fmt.Errorf("close writer: %w", err)
			}
			if reader != writer {
				if err := reader.Close(); err != nil && closeErr == nil {
					closeErr = fmt.Errorf("close reader: %w", err)
				}
			}
			return closeErr
		},
	})

	return conns, nil
}

// RunInLockedTx runs fn inside a serializable writer transaction with a
// bounded lock wait. Serializable isolation closes the window where two
// transactions validate against disjoint row sets (an empty rule set has no
// row to lock); either wait bound or a serialization abort surfaces through
// IsContention as a retryable condition.
func (c *Connections) RunInLockedTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	return c.Writer.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		switch c.driver {
		case "postgres":
			timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, timeout); err != nil {
				return fmt.Errorf("set lock timeout: %w", err)
			}
		case "mysql":
			// InnoDB's lock wait bound is session-scoped and second-granular.
			secs := int64(c.lockTimeout.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			stmt := fmt.Sprintf("SET innodb_lock_wait_timeout = %d", secs)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("set lock timeout: %w", err)
			}
		}
		return fn(ctx, tx)
	})
}

// IsContention reports whether err is transient transaction contention: a
// bounded lock wait expiring, a deadlock abort, or a serialization failure.
// Callers retry these; they are not data errors.
func IsContention(err error) bool {
	switch sqlState(err) {
	case "55P03", "40001", "40P01":
		return true
	}
	switch mysqlErrno(err) {
	case 1205, 1213: // lock wait timeout, deadlock
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation
// (postgres sqlstate 23505, mysql error 1062).
func IsUniqueViolation(err error) bool {
	return sqlState(err) == "23505" || mysqlErrno(err) == 1062
}

func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func mysqlErrno(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
		return sql.OpenDB(connector), nil
	case "mysql":
		return sql.Open("mysql", dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

func pingContext(ctx context.Context, db *bun.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.DB.PingContext(pingCtx)
}
