package db

import (
	"context"
	"errors"
	"time"

	"sealreg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistryRepository owns the minute book cache tables and the append-only
// verified document registry.
type RegistryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// UpsertMinuteBookEntry inserts or refreshes the entry for (record, lane) and
// returns the stored row. The first insert fixes the row id.
func (r *RegistryRepository) UpsertMinuteBookEntry(ctx context.Context, entry domain.MinuteBookEntry) (domain.MinuteBookEntry, error) {
	if r.db == nil {
		return domain.MinuteBookEntry{}, errDBUnavailable
	}
	if entry.SourceRecordID == "" || !entry.Lane.Valid() {
		return domain.MinuteBookEntry{}, errors.New("minute book entry requires source_record_id and lane")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	model := MinuteBookEntryModel{
		ID:             entry.ID,
		EntityID:       entry.EntityID,
		SourceRecordID: entry.SourceRecordID,
		Lane:           string(entry.Lane),
		Title:          entry.Title,
		Bucket:         entry.Pointer.Bucket,
		StoragePath:    entry.Pointer.Path,
		FileHash:       entry.Hash,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_record_id"}, {Name: "lane"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "bucket", "storage_path", "file_hash", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return domain.MinuteBookEntry{}, err
	}
	stored, err := r.GetMinuteBookEntry(ctx, entry.SourceRecordID, entry.Lane)
	if err != nil {
		return domain.MinuteBookEntry{}, err
	}
	return *stored, nil
}

func (r *RegistryRepository) GetMinuteBookEntry(ctx context.Context, recordID string, lane domain.Lane) (*domain.MinuteBookEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model MinuteBookEntryModel
	err := r.db.WithContext(ctx).
		Where("source_record_id = ? AND lane = ?", recordID, string(lane)).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &domain.MinuteBookEntry{
		ID:             model.ID,
		EntityID:       model.EntityID,
		SourceRecordID: model.SourceRecordID,
		Lane:           domain.Lane(model.Lane),
		Title:          model.Title,
		Pointer:        domain.Pointer{Bucket: model.Bucket, Path: model.StoragePath},
		Hash:           model.FileHash,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}

func (r *RegistryRepository) UpsertSupportingDocument(ctx context.Context, doc domain.SupportingDocument) (domain.SupportingDocument, error) {
	if r.db == nil {
		return domain.SupportingDocument{}, errDBUnavailable
	}
	if doc.EntryID == "" || doc.Role == "" {
		return domain.SupportingDocument{}, errors.New("supporting document requires entry_id and role")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	model := SupportingDocumentModel{
		ID:          doc.ID,
		EntryID:     doc.EntryID,
		Role:        doc.Role,
		Bucket:      doc.Pointer.Bucket,
		StoragePath: doc.Pointer.Path,
		FileHash:    doc.Hash,
		MimeType:    doc.MimeType,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"bucket", "storage_path", "file_hash", "mime_type", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return domain.SupportingDocument{}, err
	}

	var stored SupportingDocumentModel
	err = r.db.WithContext(ctx).
		Where("entry_id = ? AND role = ?", doc.EntryID, doc.Role).
		First(&stored).Error
	if err != nil {
		return domain.SupportingDocument{}, notFound(err)
	}
	return domain.SupportingDocument{
		ID:        stored.ID,
		EntryID:   stored.EntryID,
		Role:      stored.Role,
		Pointer:   domain.Pointer{Bucket: stored.Bucket, Path: stored.StoragePath},
		Hash:      stored.FileHash,
		MimeType:  stored.MimeType,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// CreateRegistryEntry never overwrites. An existing row for the record is
// returned with created=false; losing a concurrent insert surfaces as
// domain.ErrDuplicate for the caller to absorb.
func (r *RegistryRepository) CreateRegistryEntry(ctx context.Context, entry domain.RegistryEntry) (domain.RegistryEntry, bool, error) {
	if r.db == nil {
		return domain.RegistryEntry{}, false, errDBUnavailable
	}
	if entry.ID == "" || entry.SourceRecordID == "" {
		return domain.RegistryEntry{}, false, errors.New("registry entry requires id and source_record_id")
	}

	existing, err := r.GetRegistryEntryByRecord(ctx, entry.SourceRecordID)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RegistryEntry{}, false, err
	}

	if entry.VerifiedAt.IsZero() {
		entry.VerifiedAt = time.Now().UTC()
	}
	model := VerifiedDocumentModel{
		ID:                entry.ID,
		EntityID:          entry.EntityID,
		EntityKey:         entry.EntityKey,
		SourceRecordID:    entry.SourceRecordID,
		Lane:              string(entry.Lane),
		DocumentClass:     entry.DocumentClass,
		Bucket:            entry.Pointer.Bucket,
		StoragePath:       entry.Pointer.Path,
		FileHash:          entry.Hash,
		MimeType:          entry.MimeType,
		VerificationLevel: entry.VerificationLevel,
		Archived:          entry.Archived,
		VerifiedAt:        entry.VerifiedAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.RegistryEntry{}, false, duplicate("insert verified document", err)
		}
		return domain.RegistryEntry{}, false, err
	}
	return registryFromModel(model), true, nil
}

func (r *RegistryRepository) GetRegistryEntryByRecord(ctx context.Context, recordID string) (*domain.RegistryEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model VerifiedDocumentModel
	if err := r.db.WithContext(ctx).Where("source_record_id = ?", recordID).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	entry := registryFromModel(model)
	return &entry, nil
}

// FindRegistryEntriesByHash returns rows owning hash, oldest first. An empty
// lane searches every lane.
func (r *RegistryRepository) FindRegistryEntriesByHash(ctx context.Context, hash string, lane domain.Lane) ([]domain.RegistryEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Where("file_hash = ?", hash)
	if lane != "" {
		query = query.Where("lane = ?", string(lane))
	}
	var models []VerifiedDocumentModel
	if err := query.Order("verified_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RegistryEntry, 0, len(models))
	for _, m := range models {
		out = append(out, registryFromModel(m))
	}
	return out, nil
}

func registryFromModel(m VerifiedDocumentModel) domain.RegistryEntry {
	return domain.RegistryEntry{
		ID:                m.ID,
		EntityID:          m.EntityID,
		EntityKey:         m.EntityKey,
		SourceRecordID:    m.SourceRecordID,
		Lane:              domain.Lane(m.Lane),
		DocumentClass:     m.DocumentClass,
		Pointer:           domain.Pointer{Bucket: m.Bucket, Path: m.StoragePath},
		Hash:              m.FileHash,
		MimeType:          m.MimeType,
		VerificationLevel: m.VerificationLevel,
		Archived:          m.Archived,
		VerifiedAt:        m.VerifiedAt,
	}
}
