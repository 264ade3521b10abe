package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	source_url TEXT UNIQUE NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	host TEXT NOT NULL DEFAULT '',
	searchengine TEXT NOT NULL DEFAULT 'api.indexnow.org',
	first_run_completed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE TABLE IF NOT EXISTS submitted_urls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	url TEXT NOT NULL,
	last_modified TEXT,
	submitted_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
	UNIQUE(source_id, url),
	FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
);
`

// sqliteStore implements Store backed by SQLite.
type sqliteStore struct {
	db *sql.DB
}

// openSQLite opens (creating if needed) the SQLite-backed store.
func openSQLite(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Sources() ([]domain.Source, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, source_url, api_key, host, searchengine, first_run_completed
		 FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) SourceByID(id int64) (domain.Source, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, source_url, api_key, host, searchengine, first_run_completed
		 FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, ErrSourceNotFound
	}
	return src, err
}

func (s *sqliteStore) SourceExists(sourceURL string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sources WHERE source_url = ?`, sourceURL).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query source by url: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) AddSource(src domain.Source) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sources (kind, source_url, api_key, host, searchengine, first_run_completed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(src.Kind), src.SourceURL, src.APIKey, src.Host, src.SearchEngine, boolToInt(src.FirstRunCompleted))
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("source id: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) UpdateSource(src domain.Source) error {
	res, err := s.db.Exec(
		`UPDATE sources SET kind = ?, source_url = ?, api_key = ?, host = ?, searchengine = ?
		 WHERE id = ?`,
		string(src.Kind), src.SourceURL, src.APIKey, src.Host, src.SearchEngine, src.ID)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) RemoveSource(id int64) error {
	// Cascade is explicit so it holds even without the foreign_keys pragma.
	if _, err := s.db.Exec(`DELETE FROM submitted_urls WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete source urls: %w", err)
	}
	res, err := s.db.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) KnownMarkers(sourceID int64) (map[string]*string, error) {
	rows, err := s.db.Query(`SELECT url, last_modified FROM submitted_urls WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query url records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*string)
	for rows.Next() {
		var url string
		var marker sql.NullString
		if err := rows.Scan(&url, &marker); err != nil {
			return nil, fmt.Errorf("scan url record: %w", err)
		}
		if marker.Valid {
			v := marker.String
			out[url] = &v
		} else {
			out[url] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url records: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) RecordURL(sourceID int64, url string, marker *string) error {
	var val sql.NullString
	if marker != nil {
		val = sql.NullString{String: *marker, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO submitted_urls (source_id, url, last_modified) VALUES (?, ?, ?)
		 ON CONFLICT(source_id, url) DO UPDATE SET
			last_modified = excluded.last_modified,
			submitted_at = strftime('%s', 'now')`,
		sourceID, url, val)
	if err != nil {
		return fmt.Errorf("record url: %w", err)
	}
	return nil
}

func (s *sqliteStore) IsFirstRun(sourceID int64) (bool, error) {
	var completed int
	err := s.db.QueryRow(`SELECT first_run_completed FROM sources WHERE id = ?`, sourceID).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrSourceNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query first run flag: %w", err)
	}
	return completed == 0, nil
}

func (s *sqliteStore) MarkFirstRunDone(sourceID int64) error {
	res, err := s.db.Exec(`UPDATE sources SET first_run_completed = 1 WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("mark first run done: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM submitted_urls`); err != nil {
		return fmt.Errorf("clear url records: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sources`); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (domain.Source, error) {
	var src domain.Source
	var kind string
	var completed int
	if err := row.Scan(&src.ID, &kind, &src.SourceURL, &src.APIKey, &src.Host, &src.SearchEngine, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Source{}, err
		}
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = domain.SourceKind(kind)
	src.FirstRunCompleted = completed == 1
	return src, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrSourceNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
