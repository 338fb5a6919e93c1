package pipeline

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mlife-core/platform/pkg/storage"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunRecord{})
}

func (r *RunRepository) Create(ctx context.Context, rec *RunRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&RunRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *RunRepository) RecordCounts(ctx context.Context, id string, records, rejected, warnings int) error {
	return r.db.WithContext(ctx).Model(&RunRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"records":    records,
			"rejected":   rejected,
			"warnings":   warnings,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *RunRepository) Get(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, storage.ErrRunNotFound
	}
	return &rec, result.Error
}

func (r *RunRepository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&RunRecord{}).Error
}
