package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serenity/internal/models"
	apperrors "serenity/internal/pkg/errors"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const captureColumns = `id, url, type, options, status, object_key, content_type,
	size_bytes, provider, error_text, created_at, started_at, finished_at`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type CaptureRepository struct {
	db DB
}

func NewCaptureRepository(db DB) *CaptureRepository {
	return &CaptureRepository{db: db}
}

// Ping checks the database connection.
func (r *CaptureRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *CaptureRepository) Create(ctx context.Context, c *models.Capture) error {
	var opts any
	if len(c.Options) > 0 {
		opts = []byte(c.Options)
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO captures (id, url, type, options, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.URL, c.Type, opts, c.Status).Scan(&c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("capture already exists").WithField("id", c.ID)
		}
		return dbErr(err, "repositories.Capture.Create")
	}
	return nil
}

func (r *CaptureRepository) Get(ctx context.Context, id string) (*models.Capture, error) {
	row := r.db.QueryRow(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = $1`, id)
	c, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("capture", id)
		}
		return nil, dbErr(err, "repositories.Capture.Get")
	}
	return c, nil
}

// List returns captures newest first, optionally filtered by status.
func (r *CaptureRepository) List(ctx context.Context, status models.CaptureStatus, limit int) ([]models.Capture, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + captureColumns + ` FROM captures`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err, "repositories.Capture.List")
	}
	defer rows.Close()

	out := make([]models.Capture, 0)
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, dbErr(err, "repositories.Capture.List")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "repositories.Capture.List")
	}
	return out, nil
}

// MarkRunning moves a QUEUED capture to RUNNING. Any other state is a
// conflict, which keeps a redelivered id from being rendered twice.
func (r *CaptureRepository) MarkRunning(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE captures
		SET status = 'RUNNING', started_at = now(), error_text = NULL
		WHERE id = $1 AND status = ANY($2)
	`, id, sourcesOf(models.CaptureRunning))
	if err != nil {
		return dbErr(err, "repositories.Capture.MarkRunning")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, "capture is not queued")
	}
	return nil
}

// DoneInput is what the worker records for a stored artifact.
type DoneInput struct {
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	Provider    string
}

func (r *CaptureRepository) MarkDone(ctx context.Context, id string, in DoneInput) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE captures
		SET status = 'DONE', object_key = $2, content_type = $3, size_bytes = $4,
		    provider = $5, finished_at = now()
		WHERE id = $1 AND status = ANY($6)
	`, id, in.ObjectKey, in.ContentType, in.SizeBytes, in.Provider, sourcesOf(models.CaptureDone))
	if err != nil {
		return dbErr(err, "repositories.Capture.MarkDone")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, "capture is not running")
	}
	return nil
}

func (r *CaptureRepository) MarkFailed(ctx context.Context, id string, errText string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE captures
		SET status = 'FAILED', error_text = $2, finished_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, errText, sourcesOf(models.CaptureFailed))
	if err != nil {
		return dbErr(err, "repositories.Capture.MarkFailed")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, "capture already finished")
	}
	return nil
}

func (r *CaptureRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM captures WHERE id = $1`, id)
	if err != nil {
		return dbErr(err, "repositories.Capture.Delete")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("capture", id)
	}
	return nil
}

func (r *CaptureRepository) missingOrConflict(ctx context.Context, id, msg string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM captures WHERE id = $1)`, id).Scan(&exists); err != nil {
		return dbErr(err, "repositories.Capture")
	}
	if !exists {
		return apperrors.NotFound("capture", id)
	}
	return apperrors.Conflict(msg).WithField("id", id)
}

// sourcesOf renders the allowed source states of `to` as a text[] argument.
func sourcesOf(to models.CaptureStatus) []string {
	from := models.TransitionSources(to)
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}

func scanCapture(row pgx.Row) (*models.Capture, error) {
	var c models.Capture
	var opts []byte
	var objectKey, contentType, provider, errText *string
	var size *int64
	var startedAt, finishedAt *time.Time
	err := row.Scan(
		&c.ID, &c.URL, &c.Type, &opts, &c.Status,
		&objectKey, &contentType, &size, &provider, &errText,
		&c.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Options = opts
	c.ObjectKey = deref(objectKey)
	c.ContentType = deref(contentType)
	c.Provider = deref(provider)
	c.ErrorText = deref(errText)
	if size != nil {
		c.SizeBytes = *size
	}
	c.StartedAt = startedAt
	c.FinishedAt = finishedAt
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dbErr(err error, op string) error {
	if isUndefinedTable(err) {
		return apperrors.WrapWithCode(err, apperrors.CodeConfig, op,
			"captures table is missing; apply migrations/001_captures.sql")
	}
	return apperrors.Wrap(err, op, "database error")
}

// 42P01 = undefined_table
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
