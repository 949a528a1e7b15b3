package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"parish-system/migrations"

	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound       = errors.New("store: record not found")
	ErrReferenceTaken = errors.New("store: reference code taken")
	ErrLiveIntent     = errors.New("store: live intent exists for service")
)

// Store is the SQLite backed record store. Every state change it exposes
// is a conditional update so callers never read-then-write.
type Store struct {
	db *dbx.DB
}

func Open(dsn string) (*Store, error) {
	db, err := dbx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// each connection would get its own empty database
		db.DB().SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func New(db *dbx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *dbx.DB {
	return s.db
}

func (s *Store) Migrate() ([]string, error) {
	return migrations.Run(s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.DB().PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Conn returns a handle that runs each statement on its own.
func (s *Store) Conn(ctx context.Context) *Conn {
	return &Conn{ctx: ctx, b: s.db}
}

// Tx runs fn inside one transaction. fn must only use the Conn it is given.
func (s *Store) Tx(ctx context.Context, fn func(c *Conn) error) error {
	return s.db.TransactionalContext(ctx, nil, func(tx *dbx.Tx) error {
		return fn(&Conn{ctx: ctx, b: tx})
	})
}

// Conn runs statements against the database or an open transaction.
type Conn struct {
	ctx context.Context
	b   dbx.Builder
}

func (c *Conn) query(sql string, params dbx.Params) *dbx.Query {
	return c.b.NewQuery(sql).Bind(params).WithContext(c.ctx)
}

func (c *Conn) insert(table string, cols dbx.Params) error {
	_, err := c.b.Insert(table, cols).WithContext(c.ctx).Execute()
	return err
}

func (c *Conn) exec(sql string, params dbx.Params) (int64, error) {
	res, err := c.query(sql, params).Execute()
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Conn) countBy(sql string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	if err := c.query(sql, nil).All(&rows); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMs(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// IsContention reports a write that lost to a concurrent transaction.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
