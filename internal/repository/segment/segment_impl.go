package segment

import (
	"context"

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

// segmentRepository implements Repository using PostgreSQL
type segmentRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &segmentRepository{
		pool: pool,
	}
}

// CreateBatch creates multiple segments using COPY FROM for performance.
// Segment order in the slice becomes the stored segment_index.
func (r *segmentRepository) CreateBatch(ctx context.Context, videoID string, segments []*model.Segment) error {
	if len(segments) == 0 {
		return nil // Nothing to insert
	}

	// Prepare data for COPY FROM
	rows := make([][]interface{}, len(segments))
	for i, seg := range segments {
		rows[i] = []interface{}{
			videoID,
			i,
			seg.Start,
			seg.End,
			seg.Text,
			seg.Confidence,
		}
	}

	// Use COPY FROM for efficient bulk insert
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"segments"},
		[]string{"video_id", "segment_index", "start_time", "end_time", "text", "confidence"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create segments")
	}

	return nil
}

// GetByVideoID retrieves all segments for a video, ordered by segment_index
func (r *segmentRepository) GetByVideoID(ctx context.Context, videoID string) ([]*model.Segment, error) {
	sql := `SELECT start_time, end_time, text, confidence
		FROM segments
		WHERE video_id = $1
		ORDER BY segment_index`

	rows, err := r.pool.Query(ctx, sql, videoID)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to get segments")
	}
	defer rows.Close()

	var segments []*model.Segment
	for rows.Next() {
		var seg model.Segment
		err := rows.Scan(&seg.Start, &seg.End, &seg.Text, &seg.Confidence)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan segment")
		}
		segments = append(segments, &seg)
	}

	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate segment rows")
	}

	return segments, nil
}

// GetByTimeRange retrieves segments within a time range in seconds
func (r *segmentRepository) GetByTimeRange(ctx context.Context, videoID string, startTime, endTime float64) ([]*model.Segment, error) {
	sql := `SELECT start_time, end_time, text, confidence
		FROM segments
		WHERE video_id = $1
		AND start_time >= $2
		AND end_time <= $3
		ORDER BY segment_index`

	rows, err := r.pool.Query(ctx, sql, videoID, startTime, endTime)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to get segments by time range")
	}
	defer rows.Close()

	var segments []*model.Segment
	for rows.Next() {
		var seg model.Segment
		err := rows.Scan(&seg.Start, &seg.End, &seg.Text, &seg.Confidence)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan segment")
		}
		segments = append(segments, &seg)
	}

	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate segment rows")
	}

	return segments, nil
}

// CountByVideoID returns the number of stored segments for a video
func (r *segmentRepository) CountByVideoID(ctx context.Context, videoID string) (int, error) {
	sql := "SELECT COUNT(*) FROM segments WHERE video_id = $1"
	row := r.pool.QueryRow(ctx, sql, videoID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, common.HandlePostgreSQLError(err, "failed to count segments")
	}

	return count, nil
}

// DeleteByVideoID deletes all segments for a video
func (r *segmentRepository) DeleteByVideoID(ctx context.Context, videoID string) error {
	sql := "DELETE FROM segments WHERE video_id = $1"
	_, err := r.pool.Exec(ctx, sql, videoID)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to delete segments")
	}
	return nil
}
