package store

import (
	"context"

	"gorm.io/gorm"

	"tiny-errors/internal/model"
)

// OccurrenceRepository reads persisted occurrences.
type OccurrenceRepository struct {
	db *gorm.DB
}

// NewOccurrenceRepository creates an OccurrenceRepository.
func NewOccurrenceRepository(db *gorm.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// FindByID returns a single occurrence.
func (r *OccurrenceRepository) FindByID(ctx context.Context, id string) (*model.ErrorData, error) {
	var e model.ErrorData
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	return found(&e, err)
}

// ListByProject returns a page of occurrences, newest first.
func (r *OccurrenceRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.ErrorData, error) {
	var out []model.ErrorData
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	return out, err
}

// CountByProject returns the number of occurrences in a project.
func (r *OccurrenceRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.ErrorData{}).Where("project_id = ?", projectID).Count(&total).Error
	return total, err
}

// FindByFingerprint returns up to limit occurrences of a group, newest first.
func (r *OccurrenceRepository) FindByFingerprint(ctx context.Context, projectID, fingerprint string, limit int) ([]model.ErrorData, error) {
	var out []model.ErrorData
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND fingerprint = ?", projectID, fingerprint).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OccurrenceTimes returns the occurred_at of every occurrence of a group with
// from <= occurred_at < to.
func (r *OccurrenceRepository) OccurrenceTimes(ctx context.Context, projectID, fingerprint string, from, to int64) ([]int64, error) {
	var times []int64
	err := r.db.WithContext(ctx).Model(&model.ErrorData{}).
		Where("project_id = ? AND fingerprint = ? AND occurred_at >= ? AND occurred_at < ?", projectID, fingerprint, from, to).
		Pluck("occurred_at", &times).Error
	return times, err
}

// RecentBreadcrumbs returns the serialized breadcrumbs of the limit most
// recent occurrences of a project. Occurrences without breadcrumbs are
// included as empty strings so the window stays bounded by occurrence count.
func (r *OccurrenceRepository) RecentBreadcrumbs(ctx context.Context, projectID string, limit int) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&model.ErrorData{}).
		Where("project_id = ?", projectID).
		Order("occurred_at DESC").
		Limit(limit).
		Pluck("breadcrumbs", &out).Error
	return out, err
}
