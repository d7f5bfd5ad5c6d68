package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coroner-assist/internal/model"
	"coroner-assist/internal/store"
)

type ThreadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// Upsert writes the full thread, replacing any earlier snapshot.
func (r *ThreadRepository) Upsert(ctx context.Context, t store.Thread) error {
	record := model.NewThreadRecord(t)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"doctor_name", "content", "messages", "uploaded_files", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("upsert thread failed: %w", err)
	}
	return nil
}

func (r *ThreadRepository) Delete(ctx context.Context, userID, threadID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, threadID).
		Delete(&model.ThreadRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete thread failed: %w", err)
	}
	return nil
}

// ListAll returns every thread in creation order.
func (r *ThreadRepository) ListAll(ctx context.Context) ([]store.Thread, error) {
	var records []model.ThreadRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list threads failed: %w", err)
	}
	threads := make([]store.Thread, 0, len(records))
	for _, rec := range records {
		threads = append(threads, rec.Thread())
	}
	return threads, nil
}

// Apply makes the repository usable as a synchronous thread sink.
func (r *ThreadRepository) Apply(ctx context.Context, ev store.Event) error {
	switch ev.Kind {
	case store.EventUpsert:
		return r.Upsert(ctx, ev.Thread)
	case store.EventDelete:
		return r.Delete(ctx, ev.Thread.UserID, ev.Thread.ID)
	default:
		return fmt.Errorf("unknown thread event %q", ev.Kind)
	}
}
