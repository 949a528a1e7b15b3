package migrations

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
)

type Migration struct {
	File string
	Up   func(db dbx.Builder) error
}

var registry []Migration

// Register adds a migration named after the calling file.
func Register(up func(db dbx.Builder) error) {
	_, path, _, _ := runtime.Caller(1)
	registry = append(registry, Migration{
		File: strings.TrimSuffix(filepath.Base(path), ".go"),
		Up:   up,
	})
}

// Run applies every registered migration that has not been applied yet,
// each in its own transaction, in file name order.
func Run(db *dbx.DB) ([]string, error) {
	if _, err := db.NewQuery(`CREATE TABLE IF NOT EXISTS _migrations (
		file    TEXT PRIMARY KEY NOT NULL,
		applied INTEGER NOT NULL
	)`).Execute(); err != nil {
		return nil, fmt.Errorf("migrations: create table: %w", err)
	}

	var done []struct {
		File string `db:"file"`
	}
	if err := db.NewQuery("SELECT file FROM _migrations").All(&done); err != nil {
		return nil, fmt.Errorf("migrations: list applied: %w", err)
	}
	seen := make(map[string]bool, len(done))
	for _, d := range done {
		seen[d.File] = true
	}

	pending := make([]Migration, 0, len(registry))
	for _, m := range registry {
		if !seen[m.File] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].File < pending[j].File })

	var applied []string
	for _, m := range pending {
		err := db.Transactional(func(tx *dbx.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.Insert("_migrations", dbx.Params{
				"file":    m.File,
				"applied": time.Now().UnixMilli(),
			}).Execute()
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrations: %s: %w", m.File, err)
		}
		slog.Info("Applied migration", "file", m.File)
		applied = append(applied, m.File)
	}
	return applied, nil
}

func execAll(db dbx.Builder, statements ...string) error {
	for _, s := range statements {
		if _, err := db.NewQuery(s).Execute(); err != nil {
			return err
		}
	}
	return nil
}
