package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tiny-errors/internal/model"
)

// ProjectRepository reads and seeds projects.
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a ProjectRepository.
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Upsert creates p or refreshes its name and credentials.
func (r *ProjectRepository) Upsert(ctx context.Context, p *model.Project) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "api_key", "hmac_secret"}),
		}).
		Create(p).Error
}

// Seed upserts p and returns the API key it replaced, or "" when the key is
// unchanged or the project is new.
func (r *ProjectRepository) Seed(ctx context.Context, p *model.Project) (replaced string, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev model.Project
		err := tx.Where("id = ?", p.ID).First(&prev).Error
		switch {
		case err == nil:
			if prev.APIKey != p.APIKey {
				replaced = prev.APIKey
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return NewProjectRepository(tx).Upsert(ctx, p)
	})
	return replaced, err
}

// FindByAPIKey returns the project owning apiKey.
func (r *ProjectRepository) FindByAPIKey(ctx context.Context, apiKey string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&p).Error
	return found(&p, err)
}

// FindByID returns the project with id.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	return found(&p, err)
}

func found[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
