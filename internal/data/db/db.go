package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/modmon/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and addresses the relational store. DSN, when set, wins
// over the individual postgres fields.
type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	// Path is the sqlite database file; ":memory:" is allowed.
	Path string
	// Verbose logs every statement instead of only slow ones and errors.
	Verbose bool
}

func (c Config) postgresDSN() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		sslmode,
	)
}

// Open connects to the configured store. It does not migrate.
func Open(cfg Config, logg *logger.Logger) (*gorm.DB, error) {
	dbLog := logg.With("service", "db", "driver", cfg.Driver)

	level := gormLogger.Warn
	if cfg.Verbose {
		level = gormLogger.Info
	}
	gormLog := gormLogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gcfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverPostgres, "postgresql":
		dsn := cfg.postgresDSN()
		dbLog.Debug("connecting", "dsn", dsn)
		dialector = postgres.Open(dsn)
	case DriverSQLite, "sqlite3":
		path := cfg.Path
		if path == "" {
			path = cfg.DSN
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite driver requires a database path")
		}
		dbLog.Debug("opening", "path", path)
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return gdb, nil
}

// NextID returns one more than the largest value in column, or 1 for an
// empty table. Ids are allocated this way because a single writer is assumed.
func NextID(tx *gorm.DB, model any, column string) (int64, error) {
	var max sql.NullInt64
	if err := tx.Model(model).Select("MAX(" + column + ")").Scan(&max).Error; err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}
