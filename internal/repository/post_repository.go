package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	// SetPlatformID records the id the platform assigned; the post stays draft.
	SetPlatformID(ctx context.Context, clientID, postID, platformID string) (bool, error)
	MarkPublished(ctx context.Context, clientID, postID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, clientID, postID, message string) (bool, error)
	ListByRun(ctx context.Context, clientID, runID string) ([]*models.Post, error)
	// StatusCounts returns failed and total posts for the client created since.
	StatusCounts(ctx context.Context, clientID string, since time.Time) (failed, total int, err error)

	// Cross-tenant scans used by the watchdog.
	ListPublished(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.Post, error)
	FailIfPublished(ctx context.Context, postID, message string, at time.Time) (bool, error)
	Lookup(ctx context.Context, postID string) (*models.Post, error)
	// ListUnrecordedPhantoms returns posts failed as phantoms that have no
	// resolved phantom_post incident.
	ListUnrecordedPhantoms(ctx context.Context, afterID string, limit int) ([]*models.Post, error)
}

const postColumns = `id, client_id, run_id, platform, body, confidence, status, platform_id, published_at, error_message, created_at, updated_at`

const (
	queryPostInsert = `
		INSERT INTO posts (id, client_id, run_id, platform, body, confidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	queryPostSetPlatformID = `
		UPDATE posts
		SET platform_id = $3,
			updated_at = NOW()
		WHERE id = $1 AND client_id = $2 AND status = 'draft' AND platform_id IS NULL
	`
	queryPostMarkPublished = `
		UPDATE posts
		SET status = 'published',
			published_at = $3,
			updated_at = $3
		WHERE id = $1 AND client_id = $2 AND status = 'draft'
	`
	queryPostMarkFailed = `
		UPDATE posts
		SET status = 'failed',
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1 AND client_id = $2 AND status = 'draft'
	`
	queryPostListByRun    = `SELECT ` + postColumns + ` FROM posts WHERE client_id = $1 AND run_id = $2 ORDER BY created_at, id`
	queryPostStatusCounts = `
		SELECT COUNT(*) FILTER (WHERE status = 'failed'), COUNT(*)
		FROM posts WHERE client_id = $1 AND created_at >= $2
	`

	queryPostListPublished = `
		SELECT ` + postColumns + ` FROM posts
		WHERE status = 'published' AND published_at >= $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	queryPostFailIfPublished = `
		UPDATE posts
		SET status = 'failed',
			error_message = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'published'
	`
	queryPostLookup = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	queryPostListUnrecordedPhantoms = `
		SELECT ` + postColumns + ` FROM posts p
		WHERE p.status = 'failed' AND p.error_message = $1 AND p.id > $2
			AND NOT EXISTS (
				SELECT 1 FROM incidents i
				WHERE i.entity_id = p.id AND i.kind = 'phantom_post' AND i.resolved_at IS NOT NULL
			)
		ORDER BY p.id
		LIMIT $3
	`
)

const maxPostPage = 500

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var platformID, errMsg sql.NullString
	var publishedAt sql.NullTime
	err := row.Scan(&post.ID, &post.ClientID, &post.RunID, &post.Platform, &post.Body, &post.Confidence, &post.Status,
		&platformID, &publishedAt, &errMsg, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	post.PlatformID = platformID.String
	post.PublishedAt = timePtr(publishedAt)
	post.ErrorMessage = stringPtr(errMsg)
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.UpdatedAt = post.CreatedAt
	_, err := r.db.ExecContext(ctx, queryPostInsert, post.ID, post.ClientID, post.RunID, post.Platform, post.Body,
		post.Confidence, post.Status, post.CreatedAt)
	if err != nil {
		slog.Info(err.Error())
		return mapPQ(err)
	}
	return nil
}

func (r *postRepository) SetPlatformID(ctx context.Context, clientID, postID, platformID string) (bool, error) {
	return r.exec(ctx, queryPostSetPlatformID, postID, clientID, platformID)
}

func (r *postRepository) MarkPublished(ctx context.Context, clientID, postID string, at time.Time) (bool, error) {
	return r.exec(ctx, queryPostMarkPublished, postID, clientID, at)
}

func (r *postRepository) MarkFailed(ctx context.Context, clientID, postID, message string) (bool, error) {
	return r.exec(ctx, queryPostMarkFailed, postID, clientID, message)
}

func (r *postRepository) ListByRun(ctx context.Context, clientID, runID string) ([]*models.Post, error) {
	return r.list(ctx, queryPostListByRun, clientID, runID)
}

func (r *postRepository) StatusCounts(ctx context.Context, clientID string, since time.Time) (int, int, error) {
	var failed, total int
	if err := r.db.QueryRowContext(ctx, queryPostStatusCounts, clientID, since).Scan(&failed, &total); err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}
	return failed, total, nil
}

func (r *postRepository) ListPublished(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.Post, error) {
	return r.list(ctx, queryPostListPublished, since, afterID, clampLimit(limit, maxPostPage))
}

func (r *postRepository) FailIfPublished(ctx context.Context, postID, message string, at time.Time) (bool, error) {
	return r.exec(ctx, queryPostFailIfPublished, postID, message, at)
}

func (r *postRepository) ListUnrecordedPhantoms(ctx context.Context, afterID string, limit int) ([]*models.Post, error) {
	return r.list(ctx, queryPostListUnrecordedPhantoms, models.PostErrPhantom, afterID, clampLimit(limit, maxPostPage))
}

func (r *postRepository) Lookup(ctx context.Context, postID string) (*models.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx, queryPostLookup, postID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return rowsChanged(res)
}

func (r *postRepository) list(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
