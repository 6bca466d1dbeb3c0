package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("workflow run not found")

// Checkpoints persists run state between steps.
type Checkpoints interface {
	Create(ctx context.Context, run *Run) error
	Checkpoint(ctx context.Context, id, stage string, completed int, state []byte) error
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	IncrementRetry(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Run, error)
	ListByStatus(ctx context.Context, workflow, status string) ([]Run, error)
	CleanupExpired(ctx context.Context, ttl time.Duration) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Run{})
}

func (r *Repository) Create(ctx context.Context, run *Run) error {
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) Checkpoint(ctx context.Context, id, stage string, completed int, state []byte) error {
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stage":           stage,
			"completed_steps": completed,
			"state":           datatypes.JSON(state),
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"updated_at":   time.Now().UTC(),
			"last_attempt": time.Now().UTC(),
		}).Error
}

func (r *Repository) IncrementRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":  gorm.Expr("retry_count + 1"),
			"last_attempt": time.Now().UTC(),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &run, result.Error
}

func (r *Repository) ListByStatus(ctx context.Context, workflow, status string) ([]Run, error) {
	var runs []Run
	err := r.db.WithContext(ctx).
		Where("workflow = ? AND status = ?", workflow, status).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}

// CleanupExpired removes finished runs older than ttl. Running checkpoints
// are kept so they can still be resumed.
func (r *Repository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).
		Where("created_at < ? AND status <> ?", cutoff, StatusRunning).
		Delete(&Run{}).Error
}
