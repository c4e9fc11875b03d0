package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one archived work together with its tag row.
type Record struct {
	ID           int64
	TimeAdded    time.Time
	Title        string
	OriginalURL  string
	PreviewURL   string
	FileLocation string

	Language   []string
	Artist     []string
	Team       []string
	Original   []string
	Characters []string
	Male       []string
	Female     []string
	Others     []string
}

// Artifact is what a finished job hands to Insert.
type Artifact struct {
	Title      string
	OutputPath string
}

// TagColumns lists the tag table columns in storage order.
var TagColumns = []string{"language", "artist", "team", "original", "characters", "male", "female", "others"}

var workColumns = []string{"title", "original_url", "preview_url", "file_location"}

func (r *Record) tagPtrs() []*[]string {
	return []*[]string{&r.Language, &r.Artist, &r.Team, &r.Original, &r.Characters, &r.Male, &r.Female, &r.Others}
}

// Tags returns the tag arrays keyed by column name.
func (r Record) Tags() map[string][]string {
	out := make(map[string][]string, len(TagColumns))
	for i, p := range r.tagPtrs() {
		out[TagColumns[i]] = *p
	}
	return out
}

// encodeTags stores a tag array as a JSON array of strings. nil and empty
// both encode to "[]" so json_each always sees an array.
func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode tags %q: %w", raw.String, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

const selectRecord = `
SELECT w.id, w.time_added, w.title, w.original_url, w.preview_url, w.file_location,
	t.language, t.artist, t.team, t.original, t.characters, t.male, t.female, t.others
FROM works w
LEFT JOIN tags t ON t.id = w.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r    Record
		orig sql.NullString
		prev sql.NullString
		file sql.NullString
		raw  [8]sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.TimeAdded, &r.Title, &orig, &prev, &file,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6], &raw[7],
	)
	if err != nil {
		return Record{}, err
	}

	r.OriginalURL = orig.String
	r.PreviewURL = prev.String
	r.FileLocation = file.String

	for i, p := range r.tagPtrs() {
		tags, err := decodeTags(raw[i])
		if err != nil {
			return Record{}, err
		}
		*p = tags
	}

	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
