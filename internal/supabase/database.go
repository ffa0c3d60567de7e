package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"video-effects-backend/internal/models"
)

var ErrNotFound = errors.New("transformation not found")

// ErrNotActive is returned when a write targets a record that already
// reached completed or failed.
var ErrNotActive = errors.New("transformation is no longer active")

// queryCanceled is the Postgres code for statement_timeout and cancel.
const queryCanceled = "57014"

type timeoutError struct{ err error }

func (e *timeoutError) Error() string { return "database timeout: " + e.err.Error() }
func (e *timeoutError) Unwrap() error { return e.err }
func (e *timeoutError) Timeout() bool { return true }

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == queryCanceled {
		return &timeoutError{err: err}
	}
	return err
}

const transformationColumns = `id, user_id, source_path, effect, status, progress, frames, fps, speed,
	timemark, size, transformed_path, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransformation(row rowScanner) (*models.Transformation, error) {
	var t models.Transformation
	var transformedPath, errorMessage sql.NullString
	err := row.Scan(
		&t.ID, &t.UserID, &t.SourcePath, &t.Effect, &t.Status, &t.Progress, &t.Frames, &t.FPS, &t.Speed,
		&t.Time, &t.Size, &transformedPath, &errorMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transformedPath.Valid {
		t.TransformedPath = &transformedPath.String
	}
	if errorMessage.Valid {
		t.ErrorMessage = &errorMessage.String
	}
	return &t, nil
}

// DatabaseClient reads and writes transformation records directly over
// Postgres.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewDatabaseClientWithDB(db), nil
}

// NewDatabaseClientWithDB wraps an already opened handle.
func NewDatabaseClientWithDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) CreateTransformation(ctx context.Context, t *models.Transformation) (*models.Transformation, error) {
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO transformations (id, user_id, source_path, effect, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+transformationColumns,
		t.ID, t.UserID, t.SourcePath, t.Effect, models.StatusPending,
	)
	created, err := scanTransformation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformation: %w", classify(err))
	}
	return created, nil
}

func (d *DatabaseClient) GetTransformation(ctx context.Context, id uuid.UUID) (*models.Transformation, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+transformationColumns+`
		FROM transformations
		WHERE id = $1
	`, id)
	t, err := scanTransformation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transformation: %w", classify(err))
	}
	return t, nil
}

func (d *DatabaseClient) GetTransformationForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transformation, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+transformationColumns+`
		FROM transformations
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	t, err := scanTransformation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transformation: %w", classify(err))
	}
	return t, nil
}

// UpdateProgress moves the record to processing and records telemetry.
// Progress never decreases and terminal records are left alone.
func (d *DatabaseClient) UpdateProgress(ctx context.Context, id uuid.UUID, u models.ProgressUpdate) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE transformations
		SET status = $8, progress = GREATEST(progress, $2),
			frames = $3, fps = $4, speed = $5, timemark = $6, size = $7
		WHERE id = $1 AND status = ANY($9)
	`, id, u.Progress, u.Frames, u.FPS, u.Speed, u.Time, u.Size,
		models.StatusProcessing, pq.Array(sourceStatuses(models.StatusProcessing)))
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", classify(err))
	}
	return requireActive(res)
}

// CompleteTransformation sets the transformed path and completed status in
// one statement so no reader sees one without the other.
func (d *DatabaseClient) CompleteTransformation(ctx context.Context, id uuid.UUID, transformedPath string, final models.ProgressUpdate) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE transformations
		SET status = $8, progress = 100, transformed_path = $2,
			frames = $3, fps = $4, speed = $5, timemark = $6, size = $7, error_message = NULL
		WHERE id = $1 AND status = ANY($9)
	`, id, transformedPath, final.Frames, final.FPS, final.Speed, final.Time, final.Size,
		models.StatusCompleted, pq.Array(sourceStatuses(models.StatusCompleted)))
	if err != nil {
		return fmt.Errorf("failed to complete transformation: %w", classify(err))
	}
	return requireActive(res)
}

func (d *DatabaseClient) FailTransformation(ctx context.Context, id uuid.UUID, message string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE transformations
		SET status = $3, error_message = $2
		WHERE id = $1 AND status = ANY($4)
	`, id, message, models.StatusFailed, pq.Array(sourceStatuses(models.StatusFailed)))
	if err != nil {
		return fmt.Errorf("failed to mark transformation failed: %w", classify(err))
	}
	return requireActive(res)
}

// GetQuota returns the user's storage usage, defaulting when no row exists.
func (d *DatabaseClient) GetQuota(ctx context.Context, userID uuid.UUID) (models.Quota, error) {
	q := models.Quota{MaxSizeBytes: models.DefaultMaxSizeBytes}
	err := d.db.QueryRowContext(ctx, `
		SELECT total_size_bytes, max_size_bytes
		FROM user_quotas
		WHERE user_id = $1
	`, userID).Scan(&q.TotalSizeBytes, &q.MaxSizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return models.Quota{}, fmt.Errorf("failed to get quota: %w", classify(err))
	}
	return q, nil
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

func requireActive(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// sourceStatuses is the status guard for a write that moves a record to to.
func sourceStatuses(to models.TransformationStatus) []string {
	from := models.SourcesFor(to)
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
