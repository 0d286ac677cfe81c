package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheUltimateAbsol/technews/internal/models"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance, creating the
// database directory if needed.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; the poller and HTTP handlers share it
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	return storage, nil
}

// initDB initializes the database schema
func (s *SQLiteStorage) initDB() error {
	query := `
	CREATE TABLE IF NOT EXISTS processed_posts (
		post_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		community TEXT,
		title TEXT NOT NULL,
		body TEXT,
		author TEXT,
		url TEXT NOT NULL,
		score INTEGER DEFAULT 0,
		comments_count INTEGER DEFAULT 0,
		timestamp DATETIME,
		comments TEXT,
		run_id TEXT,
		processed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timestamp ON processed_posts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_posts(processed_at);
	CREATE INDEX IF NOT EXISTS idx_source ON processed_posts(source);
	`

	_, err := s.db.Exec(query)
	return err
}

// IsProcessed checks if a post has already been processed
func (s *SQLiteStorage) IsProcessed(postID string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM processed_posts WHERE post_id = ?", postID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SavePost saves a post to storage
func (s *SQLiteStorage) SavePost(post *models.Post) error {
	comments := post.Comments
	if comments == nil {
		comments = []models.CommentNode{}
	}
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("encode comments for %s: %w", post.ID, err)
	}

	processedAt := post.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO processed_posts (post_id, source, community, title, body, author, url, score,
		comments_count, timestamp, comments, run_id, processed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(post_id) DO UPDATE SET
		source = excluded.source,
		community = excluded.community,
		title = excluded.title,
		body = excluded.body,
		author = excluded.author,
		url = excluded.url,
		score = excluded.score,
		comments_count = excluded.comments_count,
		timestamp = excluded.timestamp,
		comments = excluded.comments,
		run_id = excluded.run_id,
		processed_at = excluded.processed_at
	`

	_, err = s.db.Exec(query,
		post.ID,
		post.Source,
		post.Community,
		post.Title,
		post.Body,
		post.Author,
		post.URL,
		post.Score,
		post.CommentsCount,
		post.Timestamp.UTC(),
		string(commentsJSON),
		post.RunID,
		processedAt,
	)
	if err != nil {
		return fmt.Errorf("save post %s: %w", post.ID, err)
	}
	return nil
}

const selectPosts = `SELECT post_id, source, community, title, body, author, url, score,
	comments_count, timestamp, comments, run_id, processed_at
	FROM processed_posts`

// GetAllPosts retrieves all processed posts
func (s *SQLiteStorage) GetAllPosts() ([]*models.Post, error) {
	rows, err := s.db.Query(selectPosts + ` ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []*models.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

// GetPost retrieves a single post by id
func (s *SQLiteStorage) GetPost(postID string) (*models.Post, error) {
	post, err := scanPost(s.db.QueryRow(selectPosts+` WHERE post_id = ?`, postID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	return post, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*models.Post, error) {
	var (
		post                    models.Post
		community, body, author sql.NullString
		runID                   sql.NullString
		commentsJSON            sql.NullString
		timestamp               sql.NullTime
	)

	err := row.Scan(
		&post.ID,
		&post.Source,
		&community,
		&post.Title,
		&body,
		&author,
		&post.URL,
		&post.Score,
		&post.CommentsCount,
		&timestamp,
		&commentsJSON,
		&runID,
		&post.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	post.Community = community.String
	post.Body = body.String
	post.Author = author.String
	post.RunID = runID.String
	post.Timestamp = timestamp.Time

	post.Comments = []models.CommentNode{}
	if commentsJSON.Valid && commentsJSON.String != "" {
		if err := json.Unmarshal([]byte(commentsJSON.String), &post.Comments); err != nil {
			return nil, fmt.Errorf("decode comments for %s: %w", post.ID, err)
		}
	}

	return &post, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
