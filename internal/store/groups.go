package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tiny-errors/internal/model"
)

// GroupRepository maintains the per-fingerprint aggregates.
type GroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a GroupRepository.
func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Upsert folds one occurrence into its group with a single statement:
// the group is created with count 1, or its count is incremented and its
// first/last seen widened to include the occurrence time.
func (r *GroupRepository) Upsert(ctx context.Context, occ *model.ErrorData) error {
	return upsertGroup(r.db.WithContext(ctx), occ)
}

func upsertGroup(db *gorm.DB, occ *model.ErrorData) error {
	group := model.ErrorGroup{
		ID:          uuid.NewString(),
		ProjectID:   occ.ProjectID,
		Fingerprint: occ.Fingerprint,
		FirstSeen:   occ.OccurredAt,
		LastSeen:    occ.OccurredAt,
		Count:       1,
		Message:     occ.Message,
		ErrorType:   occ.ErrorType,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("error_groups.count + 1"),
			"last_seen":  gorm.Expr(greatest(db, "error_groups.last_seen", excluded(db, "last_seen"))),
			"first_seen": gorm.Expr(least(db, "error_groups.first_seen", excluded(db, "first_seen"))),
		}),
	}).Create(&group).Error
}

// Find returns the group for (projectID, fingerprint).
func (r *GroupRepository) Find(ctx context.Context, projectID, fingerprint string) (*model.ErrorGroup, error) {
	var g model.ErrorGroup
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND fingerprint = ?", projectID, fingerprint).
		First(&g).Error
	return found(&g, err)
}

// ListByProject returns a page of groups, most recently seen first.
func (r *GroupRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.ErrorGroup, error) {
	var out []model.ErrorGroup
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("last_seen DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	return out, err
}

// CountByProject returns the number of groups in a project.
func (r *GroupRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.ErrorGroup{}).Where("project_id = ?", projectID).Count(&total).Error
	return total, err
}

// AllByProject returns every group of a project, most recently seen first.
func (r *GroupRepository) AllByProject(ctx context.Context, projectID string) ([]model.ErrorGroup, error) {
	var out []model.ErrorGroup
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("last_seen DESC").
		Find(&out).Error
	return out, err
}
