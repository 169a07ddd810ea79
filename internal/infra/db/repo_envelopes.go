package db

import (
	"context"
	"errors"
	"time"

	"sealreg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnvelopeRepository struct {
	db *gorm.DB
}

func NewEnvelopeRepository(db *gorm.DB) *EnvelopeRepository {
	return &EnvelopeRepository{db: db}
}

func (r *EnvelopeRepository) FindActive(ctx context.Context, recordID string, lane domain.Lane) (*domain.Envelope, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignatureEnvelopeModel
	err := r.db.WithContext(ctx).
		Where("record_id = ? AND lane = ? AND status <> ?", recordID, string(lane), string(domain.EnvelopeCancelled)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	env := envelopeFromModel(model)
	return &env, nil
}

// CreateDraft inserts env unless another non-cancelled envelope already
// exists for its (record, lane). The second return value reports whether
// this call created the row.
func (r *EnvelopeRepository) CreateDraft(ctx context.Context, env domain.Envelope) (domain.Envelope, bool, error) {
	if r.db == nil {
		return domain.Envelope{}, false, errDBUnavailable
	}
	if env.ID == "" || env.RecordID == "" {
		return domain.Envelope{}, false, errors.New("envelope id and record_id are required")
	}
	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	if env.UpdatedAt.IsZero() {
		env.UpdatedAt = env.CreatedAt
	}
	model := SignatureEnvelopeModel{
		ID:        env.ID,
		RecordID:  env.RecordID,
		EntityID:  env.EntityID,
		Lane:      string(env.Lane),
		Status:    string(domain.EnvelopeDraft),
		CreatedBy: env.CreatedBy,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil && !isDuplicateKey(result.Error) {
		return domain.Envelope{}, false, result.Error
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return envelopeFromModel(model), true, nil
	}

	existing, err := r.FindActive(ctx, env.RecordID, env.Lane)
	if err != nil {
		return domain.Envelope{}, false, err
	}
	return *existing, false, nil
}

func (r *EnvelopeRepository) Get(ctx context.Context, envelopeID string) (*domain.Envelope, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignatureEnvelopeModel
	if err := r.db.WithContext(ctx).Where("id = ?", envelopeID).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	env := envelopeFromModel(model)
	return &env, nil
}

// SetBaseDocument attaches ptr only when no base document is set and returns
// whichever pointer ends up stored.
func (r *EnvelopeRepository) SetBaseDocument(ctx context.Context, envelopeID string, ptr domain.Pointer) (domain.Pointer, error) {
	if r.db == nil {
		return domain.Pointer{}, errDBUnavailable
	}
	err := r.db.WithContext(ctx).
		Model(&SignatureEnvelopeModel{}).
		Where("id = ? AND base_path IS NULL", envelopeID).
		Updates(map[string]any{
			"base_bucket": ptr.Bucket,
			"base_path":   ptr.Path,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return domain.Pointer{}, err
	}
	env, err := r.Get(ctx, envelopeID)
	if err != nil {
		return domain.Pointer{}, err
	}
	if env.BaseDocument == nil {
		return domain.Pointer{}, errors.New("base document not stored")
	}
	return *env.BaseDocument, nil
}

// AttachSignedDocument completes an open envelope. A closed envelope yields
// domain.ErrConflict.
func (r *EnvelopeRepository) AttachSignedDocument(ctx context.Context, envelopeID string, artifact domain.ContentArtifact, completedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&SignatureEnvelopeModel{}).
		Where("id = ? AND status IN ?", envelopeID, []string{string(domain.EnvelopeDraft), string(domain.EnvelopePending)}).
		Updates(map[string]any{
			"signed_bucket":    artifact.Pointer.Bucket,
			"signed_path":      artifact.Pointer.Path,
			"signed_hash":      artifact.Hash,
			"signed_mime_type": artifact.MimeType,
			"status":           string(domain.EnvelopeCompleted),
			"completed_at":     completedAt,
			"updated_at":       completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, envelopeID)
	}
	return nil
}

// UpdateStatus moves an envelope to `to` only from one of the `from` states.
func (r *EnvelopeRepository) UpdateStatus(ctx context.Context, envelopeID string, from []domain.EnvelopeStatus, to domain.EnvelopeStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}
	result := r.db.WithContext(ctx).
		Model(&SignatureEnvelopeModel{}).
		Where("id = ? AND status IN ?", envelopeID, states).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, envelopeID)
	}
	return nil
}

func (r *EnvelopeRepository) missingOrConflict(ctx context.Context, envelopeID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&SignatureEnvelopeModel{}).Where("id = ?", envelopeID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *EnvelopeRepository) ListParties(ctx context.Context, envelopeID string) ([]domain.Party, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SignaturePartyModel
	err := r.db.WithContext(ctx).
		Where("envelope_id = ?", envelopeID).
		Order("signing_order ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Party, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Party{
			ID:           m.ID,
			EnvelopeID:   m.EnvelopeID,
			Email:        m.Email,
			Name:         m.Name,
			Role:         m.Role,
			SigningOrder: m.SigningOrder,
			Status:       domain.PartyStatus(m.Status),
			SignedAt:     m.SignedAt,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

// InsertParty reports false when the (envelope, email) pair already exists.
func (r *EnvelopeRepository) InsertParty(ctx context.Context, party domain.Party) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	createdAt := party.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SignaturePartyModel{
		ID:           party.ID,
		EnvelopeID:   party.EnvelopeID,
		Email:        party.Email,
		Name:         party.Name,
		Role:         party.Role,
		SigningOrder: party.SigningOrder,
		Status:       string(party.Status),
		CreatedAt:    createdAt,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *EnvelopeRepository) UpdatePartyStatus(ctx context.Context, envelopeID, email string, status domain.PartyStatus, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates := map[string]any{"status": string(status), "signed_at": nil}
	if status == domain.PartySigned {
		updates["signed_at"] = at
	}
	result := r.db.WithContext(ctx).
		Model(&SignaturePartyModel{}).
		Where("envelope_id = ? AND email = ?", envelopeID, email).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func envelopeFromModel(m SignatureEnvelopeModel) domain.Envelope {
	env := domain.Envelope{
		ID:           m.ID,
		RecordID:     m.RecordID,
		EntityID:     m.EntityID,
		Lane:         domain.Lane(m.Lane),
		Status:       domain.EnvelopeStatus(m.Status),
		BaseDocument: pointerOf(m.BaseBucket, m.BasePath),
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}
	if signed := pointerOf(m.SignedBucket, m.SignedPath); signed != nil {
		env.SignedDocument = &domain.ContentArtifact{
			Pointer:  *signed,
			Hash:     strVal(m.SignedHash),
			MimeType: strVal(m.SignedMimeType),
		}
	}
	return env
}
