package templates

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schema string

const templateColumns = `template_id, name, repo_name, tag, title, description, size,
	architecture, digest, media_type, status, last_pushed, updated_at`

const upsertSQL = `INSERT INTO templates (` + templateColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (template_id) DO UPDATE SET
		name = excluded.name,
		repo_name = excluded.repo_name,
		tag = excluded.tag,
		title = excluded.title,
		description = excluded.description,
		size = excluded.size,
		architecture = excluded.architecture,
		digest = excluded.digest,
		media_type = excluded.media_type,
		status = excluded.status,
		last_pushed = excluded.last_pushed,
		updated_at = excluded.updated_at`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the catalog database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// Single writer; also keeps ":memory:" to one shared connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, e execer, t Template) error {
	_, err := e.ExecContext(ctx, upsertSQL,
		t.ID, t.Name, t.RepoName, t.Tag, t.Title, t.Description, t.Size,
		t.Architecture, t.Digest, t.MediaType, t.Status, t.LastPushed, unixNano(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return upsert(ctx, s.db, t)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE template_id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) Find(ctx context.Context, key string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates
		WHERE template_id = ? OR tag = ? OR name = ?
		ORDER BY template_id LIMIT 1`, key, key, key)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("find template %s: %w", key, err)
	}
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY template_id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE template_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return n, nil
}

// Reconcile runs the upserts and the prune in one transaction.
func (s *SQLiteStore) Reconcile(ctx context.Context, templates []Template) ([]string, error) {
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	keep := make(map[string]bool, len(templates))
	for _, t := range templates {
		if err := upsert(ctx, tx, t); err != nil {
			return nil, err
		}
		keep[t.ID] = true
	}

	existing, err := queryIDs(ctx, tx)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, id := range existing {
		if keep[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE template_id = ?`, id); err != nil {
			return nil, fmt.Errorf("prune template %s: %w", id, err)
		}
		pruned = append(pruned, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	slices.Sort(pruned)
	return pruned, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT template_id FROM templates`)
	if err != nil {
		return nil, fmt.Errorf("list template ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan template id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(sc scanner) (*Template, error) {
	var t Template
	var updated int64
	if err := sc.Scan(&t.ID, &t.Name, &t.RepoName, &t.Tag, &t.Title, &t.Description, &t.Size,
		&t.Architecture, &t.Digest, &t.MediaType, &t.Status, &t.LastPushed, &updated); err != nil {
		return nil, err
	}
	if updated != 0 {
		t.UpdatedAt = time.Unix(0, updated).UTC()
	}
	return &t, nil
}
