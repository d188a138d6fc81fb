package video

import (
	"context"

	"github.com/Taichi-iskw/vid-scribe/internal/model"
)

// Repository defines operations for Video persistence
type Repository interface {
	Create(ctx context.Context, video *model.Video) error
	GetByID(ctx context.Context, id string) (*model.Video, error)
	GetByPath(ctx context.Context, path string) (*model.Video, error)
	List(ctx context.Context, limit, offset int) ([]*model.Video, error)
	UpdateStatus(ctx context.Context, id string, status model.VideoStatus, errorMessage *string) error
	UpdateDuration(ctx context.Context, id string, duration float64) error
	Delete(ctx context.Context, id string) error
}
