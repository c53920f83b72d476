package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/advocacyflow/server/internal/feed"
	"github.com/advocacyflow/server/internal/model"
)

type postRepo struct {
	db *sql.DB
}

// NewPostRepo creates a Postgres-backed post store
func NewPostRepo(db *sql.DB) feed.Repo {
	return &postRepo{db: db}
}

const postColumns = `id, title, content, category, COALESCE(image_url, ''), COALESCE(link_url, ''), created_at`

// List returns all posts, newest first
func (r *postRepo) List(ctx context.Context) ([]model.Post, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Category, &p.ImageURL, &p.LinkURL, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// Get retrieves a post by ID
func (r *postRepo) Get(ctx context.Context, id string) (model.Post, error) {
	var p model.Post
	err := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.Title, &p.Content, &p.Category, &p.ImageURL, &p.LinkURL, &p.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, feed.ErrPostNotFound
		}
		return model.Post{}, fmt.Errorf("query post: %w", err)
	}
	return p, nil
}

// InsertMany inserts posts in one transaction. Existing ids are left untouched.
func (r *postRepo) InsertMany(ctx context.Context, posts []model.Post) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (id, title, content, category, image_url, link_url, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Content, string(p.Category), p.ImageURL, p.LinkURL, p.Timestamp); err != nil {
			return fmt.Errorf("insert post %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
