package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/radarsiope/radar/data"
)

var _ data.Store = &SQLDatabase{}

// SQLDatabase implements the store interface on a single documents table
type SQLDatabase struct {
	*sqlx.DB
	// lockClause is appended to reads made inside a write transaction
	lockClause string
}

// Option configures a SQLDatabase
type Option func(*SQLDatabase)

// WithRowLocking makes read-modify-write transactions lock the row they read
func WithRowLocking() Option {
	return func(s *SQLDatabase) {
		s.lockClause = " FOR UPDATE"
	}
}

// New returns a new db or panics
func New(dbType string, dbURL string, opts ...Option) *SQLDatabase {
	return Wrap(sqlx.MustOpen(dbType, dbURL), opts...)
}

// Wrap uses an already open connection
func Wrap(db *sqlx.DB, opts ...Option) *SQLDatabase {
	s := &SQLDatabase{DB: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start creates the tables
func (s *SQLDatabase) Start() error {
	_, err := s.Exec(`create table if not exists documents (
		path text not null,
		collection text not null,
		body text not null,
		updated_at numeric,
		primary key (path)
	);

	create index if not exists documents_collection on documents (collection);`)
	if err != nil {
		return fmt.Errorf("SQLDatabase.Start: failed to create tables: %w", err)
	}
	return nil
}

// Get reads a document by path
func (s *SQLDatabase) Get(ctx context.Context, path string) (data.Document, error) {
	var body string
	err := s.GetContext(ctx, &body, s.Rebind("SELECT body FROM documents WHERE path = ?"), path)
	if err == sql.ErrNoRows {
		return data.Document{}, data.ErrNotFound
	}
	if err != nil {
		return data.Document{}, fmt.Errorf("SQLDatabase.Get: %w", err)
	}

	f, err := data.DecodeFields(body)
	if err != nil {
		return data.Document{}, err
	}

	return data.Document{Path: path, Fields: f}, nil
}

// Set writes a document, merging inside a transaction when asked to
func (s *SQLDatabase) Set(ctx context.Context, path string, fields data.Fields, merge bool) error {
	if !merge {
		return s.upsert(ctx, s.DB, path, fields)
	}

	return s.modify(ctx, path, func(existing data.Fields, found bool) (data.Fields, error) {
		if !found {
			return fields, nil
		}
		return data.Merge(existing, fields), nil
	})
}

// Update merges into an existing document
func (s *SQLDatabase) Update(ctx context.Context, path string, fields data.Fields) error {
	return s.modify(ctx, path, func(existing data.Fields, found bool) (data.Fields, error) {
		if !found {
			return nil, data.ErrNotFound
		}
		return data.Merge(existing, fields), nil
	})
}

// Increment reads and rewrites the document in one transaction
func (s *SQLDatabase) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	var n int64
	err := s.modify(ctx, path, func(existing data.Fields, found bool) (data.Fields, error) {
		if !found {
			return nil, data.ErrNotFound
		}
		n = existing.Int(field) + delta
		existing[field] = n
		return existing, nil
	})
	return n, err
}

type documentRow struct {
	Path string `db:"path"`
	Body string `db:"body"`
}

// Query loads the collection group and filters it in process
func (s *SQLDatabase) Query(ctx context.Context, q data.Query) ([]data.Document, error) {
	var rows []documentRow
	err := s.SelectContext(ctx, &rows, s.Rebind("SELECT path, body FROM documents WHERE collection = ? ORDER BY path"), q.CollectionGroup)
	if err != nil {
		return nil, fmt.Errorf("SQLDatabase.Query: %w", err)
	}

	candidates := make([]data.Document, 0, len(rows))
	for _, r := range rows {
		f, err := data.DecodeFields(r.Body)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, data.Document{Path: r.Path, Fields: f})
	}

	return q.Apply(candidates), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

func (s *SQLDatabase) upsert(ctx context.Context, e execer, path string, fields data.Fields) error {
	body, err := data.EncodeFields(fields)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, e.Rebind(`INSERT INTO documents (path, collection, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`),
		path, data.CollectionGroup(path), body, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("SQLDatabase: failed to write %v: %w", path, err)
	}
	return nil
}

// modify runs a read-modify-write of one document in a transaction. fn gets a copy of the
// current fields (or found false) and returns the fields to store.
func (s *SQLDatabase) modify(ctx context.Context, path string, fn func(existing data.Fields, found bool) (data.Fields, error)) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SQLDatabase: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	var body string
	found := true
	err = tx.GetContext(ctx, &body, tx.Rebind("SELECT body FROM documents WHERE path = ?"+s.lockClause), path)
	if err == sql.ErrNoRows {
		found = false
	} else if err != nil {
		return fmt.Errorf("SQLDatabase: failed to read %v: %w", path, err)
	}

	existing := data.Fields{}
	if found {
		existing, err = data.DecodeFields(body)
		if err != nil {
			return err
		}
	}

	updated, err := fn(existing, found)
	if err != nil {
		return err
	}

	if err := s.upsert(ctx, tx, path, updated); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SQLDatabase: failed to commit: %w", err)
	}
	return nil
}
