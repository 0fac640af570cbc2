// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package maillog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/relayerrors"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"

	defaultDBPath = "smtp_relay.db"
)

// Options selects and configures the backing database.
type Options struct {
	Driver string
	// Path of the sqlite database file.
	Path  string
	MySQL MySQLOptions
}

type MySQLOptions struct {
	Address  string
	Database string
	User     string
	Password string
	Timeout  time.Duration
}

type dialect struct {
	name   string
	schema []string
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ` + TableName + `(
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    to_email TEXT NOT NULL,
    subject TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    smtp_response TEXT NOT NULL DEFAULT ''
  )`,
		`CREATE INDEX IF NOT EXISTS idx_` + TableName + `_timestamp ON ` + TableName + `(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_` + TableName + `_status ON ` + TableName + `(status)`,
	},
}

var mysqlDialect = dialect{
	name: DriverMySQL,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ` + TableName + `(
    id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    timestamp BIGINT NOT NULL,
    to_email VARCHAR(1024) NOT NULL,
    subject TEXT NOT NULL,
    status VARCHAR(20) NOT NULL,
    error_message TEXT NOT NULL,
    smtp_response LONGTEXT NOT NULL,
    PRIMARY KEY (id),
    KEY idx_timestamp (timestamp),
    KEY idx_status (status)
  ) DEFAULT CHARSET=utf8mb4`,
	},
}

// SQLRepository stores attempts in sqlite3 or MySQL. Writes go through a
// single connection, reads through their own pool.
type SQLRepository struct {
	log     *zap.SugaredLogger
	dialect dialect

	readWriteDB *sql.DB
	readDB      *sql.DB

	schemaMutex sync.Mutex
	schemaReady bool

	now func() time.Time
}

// Open connects to the database described by opts. The schema is not created
// here, call EnsureSchema.
func Open(log *zap.SugaredLogger, opts Options) (*SQLRepository, error) {
	repo := &SQLRepository{log: log.Named("maillog"), now: time.Now}
	var err error
	switch opts.Driver {
	case "", DriverSQLite:
		err = repo.openSQLite(opts.Path)
	case DriverMySQL:
		err = repo.openMySQL(opts.MySQL)
	default:
		return nil, errors.Errorf("unsupported log storage driver %q", opts.Driver)
	}
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLRepository) openSQLite(path string) (err error) {
	if path == "" {
		path = defaultDBPath
	}
	r.dialect = sqliteDialect
	openWrite := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_busy_timeout=5000", path)
	openRead := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL&_busy_timeout=5000", path)
	r.readWriteDB, err = sql.Open(DriverSQLite, openWrite)
	if err != nil {
		return errors.Wrap(err, "failed to open sqlite3 database")
	}
	r.readWriteDB.SetMaxOpenConns(1)
	// the read-only handle needs the file to exist
	if err := r.readWriteDB.Ping(); err != nil {
		return errors.Wrap(err, "failed to create sqlite3 database")
	}
	r.readDB, err = sql.Open(DriverSQLite, openRead)
	if err != nil {
		return errors.Wrap(err, "failed to open sqlite3 database for reading")
	}
	return nil
}

func (r *SQLRepository) openMySQL(opts MySQLOptions) (err error) {
	r.dialect = mysqlDialect
	r.readWriteDB, err = sql.Open(DriverMySQL, mysqlDSN(opts))
	if err != nil {
		return errors.Wrap(err, "failed to open mysql database")
	}
	r.readWriteDB.SetConnMaxLifetime(5 * time.Minute)
	r.readDB = r.readWriteDB
	return nil
}

func mysqlDSN(opts MySQLOptions) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = opts.Address
	cfg.DBName = opts.Database
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Timeout = opts.Timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	r.schemaMutex.Lock()
	defer r.schemaMutex.Unlock()
	return r.ensureSchemaLocked(ctx)
}

func (r *SQLRepository) ensureSchemaLocked(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.readWriteDB.ExecContext(ctx, stmt); err != nil {
			metrics.LogStorageErrors.WithLabelValues("ensure_schema").Inc()
			return relayerrors.NewStorage("ensure schema", errors.Wrap(err, "failed to create table"))
		}
	}
	r.schemaReady = true
	return nil
}

// lazySchema creates the schema on first write if nobody did so yet.
func (r *SQLRepository) lazySchema(ctx context.Context) error {
	r.schemaMutex.Lock()
	defer r.schemaMutex.Unlock()
	if r.schemaReady {
		return nil
	}
	return r.ensureSchemaLocked(ctx)
}

func (r *SQLRepository) Append(ctx context.Context, a Attempt) error {
	if err := r.lazySchema(ctx); err != nil {
		return err
	}
	ts := a.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	status := a.Status
	if status != StatusSuccess && status != StatusFailed {
		status = StatusFailed
		if a.ErrorMessage == "" {
			status = StatusSuccess
		}
	}
	query := `INSERT INTO ` + TableName + `(timestamp, to_email, subject, status, error_message, smtp_response) VALUES(?,?,?,?,?,?)`
	if _, err := r.readWriteDB.ExecContext(ctx, query, ts.UTC().Unix(), a.Recipient, a.Subject, string(status), a.ErrorMessage, a.Transcript); err != nil {
		metrics.LogStorageErrors.WithLabelValues("append").Inc()
		return relayerrors.NewStorage("append", errors.Wrap(err, "failed to insert delivery attempt"))
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context, limit int) []Attempt {
	attempts, err := r.list(ctx, NormalizeLimit(limit))
	if err != nil {
		metrics.LogStorageErrors.WithLabelValues("list").Inc()
		r.log.Warnw("Failed to read delivery log", "error", err)
		return []Attempt{}
	}
	return attempts
}

func (r *SQLRepository) list(ctx context.Context, limit int) ([]Attempt, error) {
	query := `SELECT id, timestamp, to_email, subject, status, error_message, smtp_response FROM ` + TableName +
		` ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := r.readDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select delivery attempts from db")
	}
	defer func() { _ = rows.Close() }()

	attempts := make([]Attempt, 0, limit)
	for rows.Next() {
		var (
			a      Attempt
			tsUnix int64
			status string
		)
		if err := rows.Scan(&a.ID, &tsUnix, &a.Recipient, &a.Subject, &status, &a.ErrorMessage, &a.Transcript); err != nil {
			return nil, errors.Wrap(err, "failed to scan delivery attempt")
		}
		a.Timestamp = time.Unix(tsUnix, 0).UTC()
		a.Status = Status(status)
		attempts = append(attempts, a)
	}
	return attempts, errors.Wrap(rows.Err(), "failed to iterate delivery attempts")
}

func (r *SQLRepository) Clear(ctx context.Context) error {
	if err := r.lazySchema(ctx); err != nil {
		return err
	}
	if _, err := r.readWriteDB.ExecContext(ctx, `DELETE FROM `+TableName); err != nil {
		metrics.LogStorageErrors.WithLabelValues("clear").Inc()
		return relayerrors.NewStorage("clear", errors.Wrap(err, "failed to clear delivery log"))
	}
	return nil
}

func (r *SQLRepository) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if err := r.lazySchema(ctx); err != nil {
		return 0, err
	}
	if days < 1 {
		days = 1
	}
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour).UTC().Unix()
	res, err := r.readWriteDB.ExecContext(ctx, `DELETE FROM `+TableName+` WHERE timestamp<?`, cutoff)
	if err != nil {
		metrics.LogStorageErrors.WithLabelValues("prune").Inc()
		return 0, relayerrors.NewStorage("prune", errors.Wrap(err, "failed to remove records older than cutoff"))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, relayerrors.NewStorage("prune", errors.Wrap(err, "failed to count pruned records"))
	}
	return n, nil
}

func (r *SQLRepository) Close() error {
	var err error
	if r.readDB != nil && r.readDB != r.readWriteDB {
		err = r.readDB.Close()
	}
	if r.readWriteDB != nil {
		if cerr := r.readWriteDB.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}
