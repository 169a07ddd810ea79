package db

import (
	"context"
	"errors"
	"time"

	"sealreg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository reads records and entities owned by the record editor.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetRecord(ctx context.Context, recordID string) (*domain.LedgerRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model LedgerRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", recordID).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return &domain.LedgerRecord{
		ID:        model.ID,
		EntityID:  model.EntityID,
		Title:     model.Title,
		Body:      model.Body,
		Status:    model.Status,
		Lane:      domain.Lane(model.Lane),
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *LedgerRepository) GetEntityByID(ctx context.Context, entityID string) (*domain.Entity, error) {
	return r.getEntity(ctx, "id = ?", entityID)
}

func (r *LedgerRepository) GetEntityBySlug(ctx context.Context, slug string) (*domain.Entity, error) {
	return r.getEntity(ctx, "slug = ?", slug)
}

func (r *LedgerRepository) getEntity(ctx context.Context, where string, arg string) (*domain.Entity, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model EntityModel
	if err := r.db.WithContext(ctx).Where(where, arg).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return &domain.Entity{ID: model.ID, Slug: model.Slug, Root: model.Root, Lane: domain.Lane(model.Lane)}, nil
}

func (r *LedgerRepository) UpdateRecordStatus(ctx context.Context, recordID, status string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&LedgerRecordModel{}).
		Where("id = ?", recordID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveEntity inserts or refreshes an entity.
func (r *LedgerRepository) SaveEntity(ctx context.Context, entity domain.Entity) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if entity.ID == "" || entity.Slug == "" {
		return errors.New("entity id and slug are required")
	}
	model := EntityModel{
		ID:        entity.ID,
		Slug:      entity.Slug,
		Root:      entity.Root,
		Lane:      string(entity.Lane),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"slug", "root", "lane"}),
		}).
		Create(&model).Error
}

// SaveRecord inserts or refreshes a ledger record.
func (r *LedgerRepository) SaveRecord(ctx context.Context, record domain.LedgerRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	now := time.Now().UTC()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	model := LedgerRecordModel{
		ID:        record.ID,
		EntityID:  record.EntityID,
		Title:     record.Title,
		Body:      record.Body,
		Status:    record.Status,
		Lane:      string(record.Lane),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"entity_id", "title", "body", "status", "lane", "updated_at"}),
		}).
		Create(&model).Error
}
