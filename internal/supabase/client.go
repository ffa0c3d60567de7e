package supabase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"video-effects-backend/internal/models"
)

const (
	transformationsTable = "transformations"
	quotasTable          = "user_quotas"
)

// RestClient is the record store used when no direct database connection is
// configured. It talks to PostgREST with the service role key. The same
// monotonic rules as DatabaseClient are enforced with row filters.
type RestClient struct {
	Supabase *supabase.Client
}

func NewRestClient(supabaseURL, serviceRoleKey string) (*RestClient, error) {
	client, err := supabase.NewClient(supabaseURL, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &RestClient{Supabase: client}, nil
}

func (r *RestClient) table(name string) *postgrest.QueryBuilder {
	return r.Supabase.From(name)
}

type transformationInsert struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	SourcePath string    `json:"source_path"`
	Effect     string    `json:"effect"`
	Status     string    `json:"status"`
}

func (r *RestClient) CreateTransformation(ctx context.Context, t *models.Transformation) (*models.Transformation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.Transformation
	_, err := r.table(transformationsTable).
		Insert(transformationInsert{
			ID:         t.ID,
			UserID:     t.UserID,
			SourcePath: t.SourcePath,
			Effect:     t.Effect,
			Status:     string(models.StatusPending),
		}, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to create transformation: empty response")
	}
	return &rows[0], nil
}

func (r *RestClient) GetTransformation(ctx context.Context, id uuid.UUID) (*models.Transformation, error) {
	return r.getOne(ctx, r.table(transformationsTable).Select("*", "", false).Eq("id", id.String()))
}

func (r *RestClient) GetTransformationForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transformation, error) {
	return r.getOne(ctx, r.table(transformationsTable).Select("*", "", false).
		Eq("id", id.String()).
		Eq("user_id", userID.String()))
}

func (r *RestClient) getOne(ctx context.Context, q *postgrest.FilterBuilder) (*models.Transformation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.Transformation
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to get transformation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdateProgress records telemetry and moves the record to processing, then
// raises progress only where the stored value is lower. A late, lower
// progress still lands its telemetry.
func (r *RestClient) UpdateProgress(ctx context.Context, id uuid.UUID, u models.ProgressUpdate) error {
	err := r.update(ctx, id, models.StatusProcessing, map[string]interface{}{
		"frames":   u.Frames,
		"fps":      u.FPS,
		"speed":    u.Speed,
		"timemark": u.Time,
		"size":     u.Size,
	}, nil)
	if err != nil {
		return err
	}
	err = r.update(ctx, id, models.StatusProcessing, map[string]interface{}{
		"progress": u.Progress,
	}, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Lt("progress", strconv.Itoa(u.Progress))
	})
	if errors.Is(err, ErrNotActive) {
		return nil
	}
	return err
}

func (r *RestClient) CompleteTransformation(ctx context.Context, id uuid.UUID, transformedPath string, final models.ProgressUpdate) error {
	return r.update(ctx, id, models.StatusCompleted, map[string]interface{}{
		"progress":         100,
		"transformed_path": transformedPath,
		"frames":           final.Frames,
		"fps":              final.FPS,
		"speed":            final.Speed,
		"timemark":         final.Time,
		"size":             final.Size,
		"error_message":    nil,
	}, nil)
}

func (r *RestClient) FailTransformation(ctx context.Context, id uuid.UUID, message string) error {
	return r.update(ctx, id, models.StatusFailed, map[string]interface{}{
		"error_message": message,
	}, nil)
}

// update writes values and the target status to a record whose current
// status may move to it. ErrNotActive means no row matched.
func (r *RestClient) update(ctx context.Context, id uuid.UUID, to models.TransformationStatus, values map[string]interface{}, extra func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values["status"] = to
	q := r.table(transformationsTable).
		Update(values, "representation", "").
		Eq("id", id.String()).
		In("status", sourceStatuses(to))
	if extra != nil {
		q = extra(q)
	}
	var rows []models.Transformation
	if _, err := q.ExecuteTo(&rows); err != nil {
		return fmt.Errorf("failed to update transformation: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotActive
	}
	return nil
}

func (r *RestClient) GetQuota(ctx context.Context, userID uuid.UUID) (models.Quota, error) {
	if err := ctx.Err(); err != nil {
		return models.Quota{}, err
	}
	var rows []models.Quota
	_, err := r.table(quotasTable).
		Select("total_size_bytes,max_size_bytes", "", false).
		Eq("user_id", userID.String()).
		ExecuteTo(&rows)
	if err != nil {
		return models.Quota{}, fmt.Errorf("failed to get quota: %w", err)
	}
	if len(rows) == 0 {
		return models.Quota{MaxSizeBytes: models.DefaultMaxSizeBytes}, nil
	}
	return rows[0], nil
}
