package db

import (
	"context"
	"errors"
	"fmt"

	"sealreg/internal/domain"

	"gorm.io/gorm"
)

// LocalSealProcedure is the in-process seal primitive used when no database
// function is configured. The canonical artifact of a record is the signed
// document of its completed envelope; a record that already has a registry
// entry keeps that pointer.
type LocalSealProcedure struct {
	db *gorm.DB
}

func NewLocalSealProcedure(db *gorm.DB) *LocalSealProcedure {
	return &LocalSealProcedure{db: db}
}

func (p *LocalSealProcedure) Seal(ctx context.Context, recordID string) (domain.SealedArtifact, error) {
	if p.db == nil {
		return domain.SealedArtifact{}, errDBUnavailable
	}
	if entry, err := NewRegistryRepository(p.db).GetRegistryEntryByRecord(ctx, recordID); err == nil {
		return domain.SealedArtifact{Pointer: entry.Pointer, Hash: entry.Hash}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SealedArtifact{}, err
	}

	record, err := NewLedgerRepository(p.db).GetRecord(ctx, recordID)
	if err != nil {
		return domain.SealedArtifact{}, err
	}
	env, err := NewEnvelopeRepository(p.db).FindActive(ctx, record.ID, record.Lane)
	if err != nil {
		return domain.SealedArtifact{}, err
	}
	if env.Status != domain.EnvelopeCompleted || env.SignedDocument == nil {
		return domain.SealedArtifact{}, fmt.Errorf("envelope %s has no signed document", env.ID)
	}
	return domain.SealedArtifact{Pointer: env.SignedDocument.Pointer, Hash: env.SignedDocument.Hash}, nil
}

// LocalCanonicalResolver resolves through the operational tables. Like the
// database function it requires a record linkage: a hash is only resolvable
// through a minute book entry or a signed envelope, never through the
// registry alone.
type LocalCanonicalResolver struct {
	db *gorm.DB
}

func NewLocalCanonicalResolver(db *gorm.DB) *LocalCanonicalResolver {
	return &LocalCanonicalResolver{db: db}
}

func (p *LocalCanonicalResolver) ResolveVerifiedRecord(ctx context.Context, ref domain.ResolveReference) (*domain.ResolutionPayload, error) {
	if p.db == nil {
		return nil, errDBUnavailable
	}
	envelopes := NewEnvelopeRepository(p.db)
	registry := NewRegistryRepository(p.db)

	recordID, err := p.linkedRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	if recordID == "" {
		return &domain.ResolutionPayload{OK: false}, nil
	}
	record, err := NewLedgerRepository(p.db).GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ResolutionPayload{OK: false}, nil
		}
		return nil, err
	}

	out := &domain.ResolutionPayload{
		OK:       true,
		Source:   domain.ResolutionSourceCanonical,
		RecordID: record.ID,
		EntityID: record.EntityID,
		Lane:     record.Lane,
		Title:    record.Title,
	}
	var signed *domain.Candidate
	if env, err := envelopes.FindActive(ctx, record.ID, record.Lane); err == nil {
		out.EnvelopeID = env.ID
		if env.SignedDocument != nil {
			signed = &domain.Candidate{Pointer: env.SignedDocument.Pointer, Lane: env.Lane}
			out.Hash = env.SignedDocument.Hash
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if entry, err := registry.GetMinuteBookEntry(ctx, record.ID, record.Lane); err == nil {
		out.MinuteBook = &domain.Candidate{Pointer: entry.Pointer, Lane: entry.Lane}
		out.Hash = entry.Hash
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if entry, err := registry.GetRegistryEntryByRecord(ctx, record.ID); err == nil {
		out.Archive = &domain.Candidate{Pointer: entry.Pointer, Lane: entry.Lane}
		out.Hash = entry.Hash
		if out.EntityID == "" {
			out.EntityID = entry.EntityID
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	switch {
	case out.Archive != nil:
		out.Best = out.Archive
	case out.MinuteBook != nil:
		out.Best = out.MinuteBook
	case signed != nil:
		out.Best = signed
	default:
		return &domain.ResolutionPayload{OK: false}, nil
	}
	return out, nil
}

func (p *LocalCanonicalResolver) linkedRecord(ctx context.Context, ref domain.ResolveReference) (string, error) {
	if ref.RecordID != "" {
		return ref.RecordID, nil
	}
	if ref.EnvelopeID != "" {
		env, err := NewEnvelopeRepository(p.db).Get(ctx, ref.EnvelopeID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", nil
			}
			return "", err
		}
		return env.RecordID, nil
	}
	if ref.Hash == "" {
		return "", nil
	}

	var entry MinuteBookEntryModel
	query := p.db.WithContext(ctx).Where("file_hash = ?", ref.Hash)
	if ref.Lane != "" {
		query = query.Where("lane = ?", string(ref.Lane))
	}
	err := query.Order("updated_at DESC").First(&entry).Error
	if err == nil {
		return entry.SourceRecordID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var env SignatureEnvelopeModel
	query = p.db.WithContext(ctx).Where("signed_hash = ?", ref.Hash)
	if ref.Lane != "" {
		query = query.Where("lane = ?", string(ref.Lane))
	}
	err = query.Order("completed_at DESC").First(&env).Error
	if err == nil {
		return env.RecordID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	return "", nil
}
