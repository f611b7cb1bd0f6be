// Package postgres implements the store driver on PostgreSQL.
//
// PostgreSQL is the only supported backend: hybrid search depends on the
// pgvector extension for the cosine distance operator and on native array
// containment for the text fallback.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection and returns the store driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// Connection pool sized for a single-tenant capture workload: captures
	// arrive on a fixed cadence, so a small pool is enough.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the schema. All statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	dim := d.profile.EmbeddingDimensions
	if dim <= 0 {
		dim = 1536
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS activity_log (
				id TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				type TEXT NOT NULL,
				summary TEXT,
				details JSONB,
				tags TEXT[],
				embedding vector(%d),
				started_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ NOT NULL,
				created_ts BIGINT NOT NULL,
				source_log_ids TEXT[],
				parent_id TEXT
			)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_activity_log_user_started ON activity_log (user_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_user_created ON activity_log (user_id, created_ts DESC)`,
		// One aggregate per (user, type, window). Re-running a window
		// replaces the previous aggregate instead of duplicating it.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_log_window
			ON activity_log (user_id, type, started_at, ended_at)
			WHERE source_log_ids IS NOT NULL`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS knowledge_item (
				id TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				title TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				url TEXT NOT NULL DEFAULT '',
				tags TEXT[],
				embedding vector(%d),
				created_ts BIGINT NOT NULL
			)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_item_user ON knowledge_item (user_id, created_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS push_subscription (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			endpoint TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_push_subscription_user ON push_subscription (user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// placeholder returns the n-th positional placeholder.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}

// vectorValue returns the driver value for a nullable embedding column.
func vectorValue(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// nullVector scans a nullable vector column.
type nullVector struct {
	vector pgvector.Vector
	valid  bool
}

func (v *nullVector) Scan(src any) error {
	if src == nil {
		v.valid = false
		return nil
	}
	v.valid = true
	return v.vector.Scan(src)
}

func (v *nullVector) slice() []float32 {
	if !v.valid {
		return nil
	}
	return v.vector.Slice()
}
