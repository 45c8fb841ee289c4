package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tiny-errors/internal/model"
)

// Recorder writes an occurrence and its group aggregate together.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordOccurrence inserts occ and folds it into its group in one
// transaction. An occurrence whose id already exists is left alone and the
// group is not touched; inserted reports which case applied.
func (r *Recorder) RecordOccurrence(ctx context.Context, occ *model.ErrorData) (inserted bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(occ)
		if res.Error != nil {
			return fmt.Errorf("insert occurrence: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		if err := upsertGroup(tx, occ); err != nil {
			return fmt.Errorf("upsert group: %w", err)
		}
		return nil
	})
	return inserted, err
}
