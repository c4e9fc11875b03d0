// Package store keeps archived-work metadata in SQLite: one row per work in
// `works` and a 1:1 row of JSON tag arrays in `tags`.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/brogergvhs/archivist/internal/ui"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS works (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time_added TIMESTAMP NOT NULL,
	title TEXT NOT NULL,
	original_url TEXT,
	preview_url TEXT,
	file_location TEXT
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY REFERENCES works(id),
	language TEXT NOT NULL DEFAULT '[]',
	artist TEXT NOT NULL DEFAULT '[]',
	team TEXT NOT NULL DEFAULT '[]',
	original TEXT NOT NULL DEFAULT '[]',
	characters TEXT NOT NULL DEFAULT '[]',
	male TEXT NOT NULL DEFAULT '[]',
	female TEXT NOT NULL DEFAULT '[]',
	others TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_works_title ON works(title);
CREATE INDEX IF NOT EXISTS idx_works_file_location ON works(file_location);
CREATE INDEX IF NOT EXISTS idx_tags_language ON tags(language);
CREATE INDEX IF NOT EXISTS idx_tags_artist ON tags(artist);
CREATE INDEX IF NOT EXISTS idx_tags_team ON tags(team);
CREATE INDEX IF NOT EXISTS idx_tags_original ON tags(original);
CREATE INDEX IF NOT EXISTS idx_tags_characters ON tags(characters);
CREATE INDEX IF NOT EXISTS idx_tags_male ON tags(male);
CREATE INDEX IF NOT EXISTS idx_tags_female ON tags(female);
CREATE INDEX IF NOT EXISTS idx_tags_others ON tags(others);
`

type Options struct {
	// RandomRange bounds the key space Random samples from.
	RandomRange int
}

type Store struct {
	db   *sql.DB
	log  *ui.Logger
	opts Options

	intn func(n int) int
	now  func() time.Time
}

// Open opens the database at path. The schema is created only when the file
// does not exist yet; an existing file is used as is.
func Open(path string, log *ui.Logger, opts Options) (*Store, error) {
	if log == nil {
		log = ui.NopLogger()
	}
	if opts.RandomRange < 1 {
		opts.RandomRange = 100
	}

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, wrap("open", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, wrap("open", err)
	}

	if fresh {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			return nil, wrap("schema", err)
		}
		log.Infof("created metadata store at %s", path)
	}

	return &Store{
		db:   db,
		log:  log,
		opts: opts,
		intn: rand.IntN,
		now:  time.Now,
	}, nil
}

func (s *Store) Close() error {
	return wrap("close", s.db.Close())
}

// Insert records a work and its tags in one transaction and returns the new
// id. With a non-nil artifact the title and file location come from it, and
// an artifact without output inserts nothing. A record whose file location is
// already stored is not inserted again; the existing id is returned.
func (s *Store) Insert(ctx context.Context, rec Record, art *Artifact) (int64, error) {
	if art != nil {
		if art.OutputPath == "" {
			return 0, nil
		}
		rec.FileLocation = art.OutputPath
		if art.Title != "" {
			rec.Title = art.Title
		}
	}
	if rec.TimeAdded.IsZero() {
		rec.TimeAdded = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.FileLocation != "" {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM works WHERE file_location = ? LIMIT 1`, rec.FileLocation).Scan(&existing)
		if err == nil {
			s.log.Debugf("%s already recorded as #%d", rec.FileLocation, existing)
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, wrap("insert", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO works (time_added, title, original_url, preview_url, file_location) VALUES (?, ?, ?, ?, ?)`,
		rec.TimeAdded, rec.Title, rec.OriginalURL, rec.PreviewURL, rec.FileLocation,
	)
	if err != nil {
		return 0, wrap("insert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("insert", err)
	}

	args := []any{id}
	for _, p := range rec.tagPtrs() {
		enc, err := encodeTags(*p)
		if err != nil {
			return 0, wrap("insert", err)
		}
		args = append(args, enc)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO tags (id, `+strings.Join(TagColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return 0, wrap("insert", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("insert", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE w.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, wrap("get", ErrNotFound)
	}
	if err != nil {
		return Record{}, wrap("get", err)
	}
	return r, nil
}

// SearchByTitle returns works whose title contains sub, case-sensitively.
func (s *Store) SearchByTitle(ctx context.Context, sub string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE instr(w.title, ?) > 0 ORDER BY w.id`, sub)
	if err != nil {
		return nil, wrap("search title", err)
	}
	out, err := scanRecords(rows)
	return out, wrap("search title", err)
}

// SearchByTag returns works carrying value in any of their tag arrays.
func (s *Store) SearchByTag(ctx context.Context, value string) ([]Record, error) {
	parts := make([]string, len(TagColumns))
	args := make([]any, len(TagColumns))
	for i, col := range TagColumns {
		parts[i] = fmt.Sprintf("SELECT 1 FROM json_each(t.%s) WHERE json_each.value = ?", col)
		args[i] = value
	}

	q := selectRecord + ` WHERE EXISTS (` + strings.Join(parts, " UNION ALL ") + `) ORDER BY w.id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("search tag", err)
	}
	out, err := scanRecords(rows)
	return out, wrap("search tag", err)
}

// Random picks a key uniformly from [1, RandomRange] and returns that work.
// Keys outside the range are never picked and a gap yields ErrNotFound.
func (s *Store) Random(ctx context.Context) (Record, error) {
	id := int64(s.intn(s.opts.RandomRange) + 1)
	r, err := s.Get(ctx, id)
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			se.Op = "random"
		}
		return Record{}, err
	}
	return r, nil
}

// Modify updates one column of one row. Work columns take a string; tag
// columns take a []string or a single string.
func (s *Store) Modify(ctx context.Context, table, column string, id int64, value any) error {
	var (
		arg any
		err error
	)

	switch table {
	case "works":
		if !slices.Contains(workColumns, column) {
			return wrap("modify", fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column))
		}
		str, ok := value.(string)
		if !ok {
			return wrap("modify", fmt.Errorf("%s.%s wants a string, got %T", table, column, value))
		}
		arg = str
	case "tags":
		if !slices.Contains(TagColumns, column) {
			return wrap("modify", fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column))
		}
		var tags []string
		switch v := value.(type) {
		case []string:
			tags = v
		case string:
			tags = []string{v}
		default:
			return wrap("modify", fmt.Errorf("%s.%s wants tags, got %T", table, column, value))
		}
		if arg, err = encodeTags(tags); err != nil {
			return wrap("modify", err)
		}
	default:
		return wrap("modify", fmt.Errorf("%w: table %s", ErrUnknownColumn, table))
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, table, column), arg, id)
	if err != nil {
		return wrap("modify", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("modify", ErrNotFound)
	}
	return nil
}

// Remove deletes a work and its tag row.
func (s *Store) Remove(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("remove", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id); err != nil {
		return wrap("remove", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM works WHERE id = ?`, id)
	if err != nil {
		return wrap("remove", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("remove", ErrNotFound)
	}

	return wrap("remove", tx.Commit())
}

// CheckHealth runs PRAGMA integrity_check.
func (s *Store) CheckHealth(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return wrap("check", err)
	}
	defer func() { _ = rows.Close() }()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return wrap("check", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return wrap("check", err)
	}

	if len(problems) > 0 {
		return &CorruptStoreError{Problems: problems}
	}
	return nil
}
