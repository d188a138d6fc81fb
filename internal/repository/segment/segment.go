package segment

import (
	"context"

	"github.com/Taichi-iskw/vid-scribe/internal/model"
)

// Repository defines operations for transcription segment persistence.
// Segments are stored per video; a re-run replaces the whole set.
type Repository interface {
	CreateBatch(ctx context.Context, videoID string, segments []*model.Segment) error
	GetByVideoID(ctx context.Context, videoID string) ([]*model.Segment, error)
	GetByTimeRange(ctx context.Context, videoID string, startTime, endTime float64) ([]*model.Segment, error)
	CountByVideoID(ctx context.Context, videoID string) (int, error)
	DeleteByVideoID(ctx context.Context, videoID string) error
}
