package video

import (
	"context"
	"errors"

	apperrors "github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of pgxpool.Pool used by this repository
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// videoRepository implements Repository using PostgreSQL
type videoRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &videoRepository{
		pool: pool,
	}
}

// Create creates a new video record
func (r *videoRepository) Create(ctx context.Context, video *model.Video) error {
	sql := "INSERT INTO videos (id, path, title, status, duration) VALUES ($1, $2, $3, $4, $5)"
	_, err := r.pool.Exec(ctx, sql, video.ID, video.Path, video.Title, string(video.Status), video.Duration)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create video")
	}
	return nil
}

// GetByID retrieves a video by its ID
func (r *videoRepository) GetByID(ctx context.Context, id string) (*model.Video, error) {
	sql := "SELECT id, path, title, status, duration, error_message FROM videos WHERE id = $1"
	row := r.pool.QueryRow(ctx, sql, id)

	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "video not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get video")
	}

	return video, nil
}

// GetByPath retrieves a video by its file path
func (r *videoRepository) GetByPath(ctx context.Context, path string) (*model.Video, error) {
	sql := "SELECT id, path, title, status, duration, error_message FROM videos WHERE path = $1"
	row := r.pool.QueryRow(ctx, sql, path)

	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "video not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get video by path")
	}

	return video, nil
}

// List retrieves videos with pagination
func (r *videoRepository) List(ctx context.Context, limit, offset int) ([]*model.Video, error) {
	sql := "SELECT id, path, title, status, duration, error_message FROM videos ORDER BY id LIMIT $1 OFFSET $2"
	rows, err := r.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list videos")
	}
	defer rows.Close()

	videos := []*model.Video{}
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan video row")
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate video rows")
	}

	return videos, nil
}

// UpdateStatus updates the processing status of a video
func (r *videoRepository) UpdateStatus(ctx context.Context, id string, status model.VideoStatus, errorMessage *string) error {
	sql := "UPDATE videos SET status = $2, error_message = $3 WHERE id = $1"
	_, err := r.pool.Exec(ctx, sql, id, string(status), errorMessage)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to update video status")
	}
	return nil
}

// UpdateDuration stores the probed media duration in seconds
func (r *videoRepository) UpdateDuration(ctx context.Context, id string, duration float64) error {
	sql := "UPDATE videos SET duration = $2 WHERE id = $1"
	_, err := r.pool.Exec(ctx, sql, id, duration)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to update video duration")
	}
	return nil
}

// Delete deletes a video by its ID
func (r *videoRepository) Delete(ctx context.Context, id string) error {
	sql := "DELETE FROM videos WHERE id = $1"
	_, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to delete video")
	}
	return nil
}

// scanVideo scans one videos row into a model.Video
func scanVideo(row pgx.Row) (*model.Video, error) {
	var video model.Video
	var status string
	err := row.Scan(&video.ID, &video.Path, &video.Title, &status, &video.Duration, &video.ErrorMessage)
	if err != nil {
		return nil, err
	}
	video.Status = model.VideoStatus(status)
	return &video, nil
}
