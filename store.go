package spacetraveling

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/spacetraveling/content"
)

// Store wraps a SQLite database holding a snapshot of the published posts
// and their banner renditions. It implements content.Source so the site can
// be served without reaching the content service.
type Store struct {
	db       *sql.DB
	pageSize int
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations. Listing pages hold pageSize
// posts.
func NewStore(path string, pageSize int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the web process read while sync writes; busy_timeout makes
	// writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
		PRAGMA mmap_size=268435456;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if pageSize <= 0 {
		pageSize = 20
	}
	s := &Store{db: db, pageSize: pageSize}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    uid TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    first_publication_date TEXT,
    document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_position ON posts(position);
CREATE TABLE IF NOT EXISTS banners (
    uid TEXT PRIMARY KEY,
    source_url TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    data BLOB NOT NULL,
    fetched_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
	return err
}

// ReplaceAll swaps the snapshot for posts, keeping their order. Posts with a
// duplicate uid keep the first position. Banners of posts that disappeared
// or whose banner changed are dropped.
func (s *Store) ReplaceAll(ctx context.Context, posts []content.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO posts (uid, position, first_publication_date, document) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range posts {
		if p.UID == "" {
			return fmt.Errorf("%w: post %d has no uid", content.ErrSourceMalformed, i)
		}
		doc, err := json.Marshal(p)
		if err != nil {
			return err
		}
		var first sql.NullString
		if p.FirstPublicationDate != nil {
			first = sql.NullString{String: p.FirstPublicationDate.UTC().Format(time.RFC3339), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.UID, i, first, string(doc)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM banners WHERE uid NOT IN (SELECT uid FROM posts)
		OR source_url != COALESCE((SELECT json_extract(document, '$.banner.url') FROM posts WHERE posts.uid = banners.uid), '')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sync_state (key, value) VALUES ('synced_at', ?)`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// FetchPage implements content.Source. The cursor is the decimal offset of
// the next post. Listing pages omit post content.
func (s *Store) FetchPage(ctx context.Context, cursor content.Cursor) (content.Page, error) {
	offset := 0
	if !cursor.IsZero() {
		n, err := strconv.Atoi(string(cursor))
		if err != nil || n < 0 {
			return content.Page{}, fmt.Errorf("%w: cursor %q", content.ErrSourceMalformed, cursor)
		}
		offset = n
	}
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM posts ORDER BY position LIMIT ? OFFSET ?`, s.pageSize+1, offset)
	if err != nil {
		return content.Page{}, fmt.Errorf("%w: %w", content.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var page content.Page
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return content.Page{}, fmt.Errorf("%w: %w", content.ErrSourceUnavailable, err)
		}
		if len(page.Results) == s.pageSize {
			page.NextCursor = content.Cursor(strconv.Itoa(offset + s.pageSize))
			break
		}
		post, err := decodePost(doc)
		if err != nil {
			return content.Page{}, err
		}
		post.Content = nil
		page.Results = append(page.Results, post)
	}
	if err := rows.Err(); err != nil {
		return content.Page{}, fmt.Errorf("%w: %w", content.ErrSourceUnavailable, err)
	}
	if page.Results == nil {
		page.Results = []content.Post{}
	}
	return page, nil
}

// FetchByKey implements content.Source.
func (s *Store) FetchByKey(ctx context.Context, uid string) (content.Post, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM posts WHERE uid = ?`, uid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Post{}, fmt.Errorf("%w: %s", content.ErrNotFound, uid)
	}
	if err != nil {
		return content.Post{}, fmt.Errorf("%w: %w", content.ErrSourceUnavailable, err)
	}
	return decodePost(doc)
}

// Count returns the number of posts in the snapshot.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// SyncedAt returns when ReplaceAll last succeeded, or the zero time.
func (s *Store) SyncedAt(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = 'synced_at'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// SaveBanner upserts a banner rendition.
func (s *Store) SaveBanner(ctx context.Context, b Banner) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO banners (uid, source_url, width, height, data, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.UID, b.SourceURL, b.Width, b.Height, b.Data, b.FetchedAt.UTC().Format(time.RFC3339))
	return err
}

// GetBanner returns the stored rendition for uid, or sql.ErrNoRows.
func (s *Store) GetBanner(ctx context.Context, uid string) (Banner, error) {
	b := Banner{UID: uid}
	var fetched string
	err := s.db.QueryRowContext(ctx, `SELECT source_url, width, height, data, fetched_at FROM banners WHERE uid = ?`, uid).
		Scan(&b.SourceURL, &b.Width, &b.Height, &b.Data, &fetched)
	if err != nil {
		return Banner{}, err
	}
	b.FetchedAt, _ = time.Parse(time.RFC3339, fetched)
	return b, nil
}

func decodePost(doc string) (content.Post, error) {
	var p content.Post
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return content.Post{}, fmt.Errorf("%w: stored post: %w", content.ErrSourceMalformed, err)
	}
	return p, nil
}
