package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go-press/internal/config"
	"go-press/internal/errs"
	"go-press/internal/logger"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// driverName is the driver Open uses. Tests point it at a wrapping driver.
var driverName = DriverName

const (
	defaultPoolSize       = 4
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 5 * time.Second
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Open creates the connection pool for the storage file described by cfg.
// Every connection gets WAL journaling, NORMAL sync, a busy timeout and
// enforced foreign keys; Open fails if the file cannot be read or foreign
// keys are not enforced.
func Open(cfg config.DBConfig, log logger.Logger) (*Pool, error) {
	if cfg.Path == "" {
		return nil, errors.New("database: path is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	if cfg.Path == ":memory:" {
		// Every in-memory connection is a separate database.
		size = 1
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	db, err := sqlx.Open(driverName, dsn(cfg.Path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()

	// sqlite opens lazily; the pragma read forces the file open and
	// surfaces unreadable or corrupt files here rather than on first use.
	var foreignKeys int
	if err := db.GetContext(ctx, &foreignKeys, "PRAGMA foreign_keys"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", errs.Classify("open", err))
	}
	if foreignKeys != 1 {
		db.Close()
		return nil, errors.New("database: foreign keys are not enforced by the sqlite driver")
	}
	var schemaObjects int
	if err := db.GetContext(ctx, &schemaObjects, "SELECT count(*) FROM sqlite_master"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read database: %w", errs.Classify("open", err))
	}

	log.With(map[string]interface{}{
		"path":      cfg.Path,
		"pool_size": size,
	}).Info("sqlite pool opened")

	return &Pool{
		db:             db,
		log:            log,
		path:           cfg.Path,
		size:           size,
		acquireTimeout: acquireTimeout,
		slots:          semaphore.NewWeighted(int64(size)),
		writer:         semaphore.NewWeighted(1),
		metrics:        newMetrics(cfg.SlowQueryThreshold),
	}, nil
}

// dsn builds a modernc.org/sqlite data source name with the pragmas applied
// to every new connection.
func dsn(path string, busyTimeout time.Duration) string {
	params := url.Values{}
	for _, pragma := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"foreign_keys(1)",
		"cache_size(-8192)",
		"temp_store(MEMORY)",
	} {
		params.Add("_pragma", pragma)
	}
	return path + "?" + params.Encode()
}

// ApplyMigrations applies every embedded migration step that the ledger
// does not list yet. The returned error is an *errs.MigrationError; callers
// must treat it as fatal.
func ApplyMigrations(ctx context.Context, pool *Pool, log logger.Logger) ([]uint, error) {
	m, err := NewEmbeddedMigrator(pool, log)
	if err != nil {
		return nil, err
	}
	return m.Up(ctx)
}

// NewEmbeddedMigrator returns a Migrator over the migrations compiled into
// the binary.
func NewEmbeddedMigrator(pool *Pool, log logger.Logger) (*Migrator, error) {
	steps, err := LoadSteps(migrationFS, "migrations")
	if err != nil {
		return nil, errs.NewMigrationFailed(0, "load", err)
	}
	return NewMigrator(pool, steps, log)
}
