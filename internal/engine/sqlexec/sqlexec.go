// Package sqlexec runs SQL text against database/sql backends. One Executor
// exists per engine; each call opens its own handle and closes it before
// returning.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Rifaque/querycraft-backend/internal/engine"
)

type Executor struct {
	driver   string
	source   string
	timeout  time.Duration
	buildDSN func(target engine.ConnTarget) (string, error)

	// open is swapped by tests to inject a mock handle.
	open func(driver, dsn string) (*sql.DB, error)
}

// NewSQLite returns the executor for SQLite database files. Files are opened
// read-only with a busy timeout so a writer holding the file cannot stall the
// call indefinitely.
func NewSQLite(busyTimeout, statementTimeout time.Duration) *Executor {
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}
	return newExecutor("sqlite3", engine.BackendSQLite, statementTimeout, func(target engine.ConnTarget) (string, error) {
		path := strings.TrimSpace(target.URL)
		if path == "" {
			return "", fmt.Errorf("sqlite file path is required")
		}
		return fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeout.Milliseconds()), nil
	})
}

// NewPostgres returns the executor for postgres:// connection strings. The
// pgx stdlib driver takes the URL as-is; per-request credential and database
// overrides are spliced into it.
func NewPostgres(statementTimeout time.Duration) *Executor {
	return newExecutor("pgx", engine.BackendPostgres, statementTimeout, func(target engine.ConnTarget) (string, error) {
		return applyURLOverrides(target)
	})
}

// NewMySQL returns the executor for mysql:// and mariadb:// connection
// strings, translated into the go-sql-driver DSN format.
func NewMySQL(connectTimeout, statementTimeout time.Duration) *Executor {
	return newExecutor("mysql", engine.BackendMySQL, statementTimeout, func(target engine.ConnTarget) (string, error) {
		return mysqlDSN(target, connectTimeout, statementTimeout)
	})
}

func newExecutor(driver, source string, timeout time.Duration, buildDSN func(engine.ConnTarget) (string, error)) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		driver:   driver,
		source:   source,
		timeout:  timeout,
		buildDSN: buildDSN,
		open:     sql.Open,
	}
}

// Run executes the query text verbatim as a single statement and returns at
// most maxRows rows. The handle is closed on every exit path.
func (e *Executor) Run(ctx context.Context, target engine.ConnTarget, query string, maxRows int) (engine.Result, error) {
	dsn, err := e.buildDSN(target)
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindInvalidPayload, e.source, err)
	}

	db, err := e.open(e.driver, dsn)
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindConnectivity, e.source, err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindBackendExecution, e.source, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return engine.Result{}, engine.Wrap(engine.KindBackendExecution, e.source, err)
	}

	out := make([]map[string]any, 0)
	for len(out) < maxRows && rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return engine.Result{}, engine.Wrap(engine.KindBackendExecution, e.source, err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return engine.Result{}, engine.Wrap(engine.KindBackendExecution, e.source, err)
	}

	if len(columns) == 0 && len(out) > 0 {
		for column := range out[0] {
			columns = append(columns, column)
		}
	}
	if len(out) == 0 {
		columns = []string{}
	}

	return engine.Result{
		Source:   e.source,
		Columns:  columns,
		Rows:     out,
		RowCount: len(out),
	}, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	default:
		return typed
	}
}

// applyURLOverrides splices request-level user/password/database overrides
// into a URL-form connection string.
func applyURLOverrides(target engine.ConnTarget) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(target.URL))
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	if target.User != "" {
		if target.Password != "" {
			parsed.User = url.UserPassword(target.User, target.Password)
		} else {
			parsed.User = url.User(target.User)
		}
	} else if target.Password != "" {
		user := ""
		if parsed.User != nil {
			user = parsed.User.Username()
		}
		parsed.User = url.UserPassword(user, target.Password)
	}
	if target.Database != "" {
		parsed.Path = "/" + strings.TrimPrefix(target.Database, "/")
	}
	return parsed.String(), nil
}

// mysqlDSN converts a mysql:// or mariadb:// URL to the go-sql-driver DSN
// format, carrying the bounded timeouts into the driver config.
func mysqlDSN(target engine.ConnTarget, connectTimeout, statementTimeout time.Duration) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(target.URL))
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("mysql connection string has no host")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = parsed.Host
	if parsed.Port() == "" {
		cfg.Addr = parsed.Hostname() + ":3306"
	}
	if parsed.User != nil {
		cfg.User = parsed.User.Username()
		cfg.Passwd, _ = parsed.User.Password()
	}
	if target.User != "" {
		cfg.User = target.User
	}
	if target.Password != "" {
		cfg.Passwd = target.Password
	}
	cfg.DBName = strings.TrimPrefix(parsed.Path, "/")
	if target.Database != "" {
		cfg.DBName = target.Database
	}
	if connectTimeout > 0 {
		cfg.Timeout = connectTimeout
	}
	if statementTimeout > 0 {
		cfg.ReadTimeout = statementTimeout
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
