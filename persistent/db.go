package persistent

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// Open connects to postgres, or to sqlite for `sqlite:` and `file:` dsns.
func Open(ctx context.Context, dsn string) (*bun.DB, error) {
	if path, ok := sqlitePath(dsn); ok {
		sqldb, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one writer at a time, and :memory: databases live per connection
		sqldb.SetMaxOpenConns(1)
		if err := sqldb.PingContext(ctx); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("ping sqlite database: %w", err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}

	sqldb, err := sql.Open("pg", dsn)
	if err != nil {
		return nil, fmt.Errorf("open pg database: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping pg database: %w", err)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func sqlitePath(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	default:
		return "", false
	}
}

func EnableQueryDebug(db *bun.DB) {
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
}

func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []interface{}{
		(*Profile)(nil),
	}
	for _, model := range models {
		modelType := reflect.TypeOf(model)
		logrus.WithField("model", modelType).Debugln("Creating table.")
		_, err := db.NewCreateTable().IfNotExists().Model(model).Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table %s: %w", modelType, err)
		}
	}
	return nil
}

// Running integration tests requires real pg db instance, but we
// don't have enough time to start db for every test so testenv starts db once
// and passes its datasource to as many tests as we want.

func PgOpenTest(ctx context.Context) (*bun.DB, error) {
	db, err := Open(ctx, TestEnvDsn())
	if err != nil {
		return nil, err
	}
	if os.Getenv("DB_VERBOSE") == "true" {
		EnableQueryDebug(db)
	}
	return db, nil
}

func TestEnvDsn() string {
	return os.Getenv("PGDB_DSN")
}

func SetTestEnvDsn(dsn string) {
	os.Setenv("PGDB_DSN", dsn)
}
