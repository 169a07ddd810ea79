package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"sealreg/internal/domain"
	"sealreg/internal/infra/crypto"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ArchivalSealer reconciles a completed envelope into the minute book, its
// primary supporting document and the append-only registry.
type ArchivalSealer struct {
	Ledger    LedgerRepository
	Envelopes EnvelopeRepository
	Registry  RegistryRepository
	Seals     SealProcedure
	Storage   ObjectStorage
	Logger    logrus.FieldLogger

	// DefaultEntitySlug owns records that carry no entity of their own.
	DefaultEntitySlug string
	DependencyTimeout time.Duration
	Now               func() time.Time
}

type SealOutcome struct {
	EntryID              string      `json:"entry_id"`
	SupportingDocumentID string      `json:"supporting_document_id"`
	RegistryEntryID      string      `json:"registry_entry_id"`
	RegistryCreated      bool        `json:"registry_created"`
	Bucket               string      `json:"bucket"`
	StoragePath          string      `json:"storage_path"`
	FileHash             string      `json:"file_hash"`
	RegistryHash         string      `json:"registry_hash"`
	Lane                 domain.Lane `json:"lane"`
}

func (s *ArchivalSealer) Seal(ctx context.Context, recordID string) (SealOutcome, error) {
	if s == nil || s.Ledger == nil || s.Envelopes == nil || s.Registry == nil || s.Seals == nil {
		return SealOutcome{}, errors.New("archival sealer requires ledger, envelope, registry and seal dependencies")
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return SealOutcome{}, domain.Validation(domain.CodeInvalidRequest, "record_id is required")
	}
	record, err := s.Ledger.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SealOutcome{}, domain.NotFound(domain.CodeRecordNotFound, "record "+recordID+" not found")
		}
		return SealOutcome{}, err
	}
	if err := s.requireCompletedEnvelope(ctx, record); err != nil {
		return SealOutcome{}, err
	}
	log := s.logger().WithFields(logrus.Fields{"record_id": record.ID, "lane": record.Lane})

	sealed, err := callWithTimeout(ctx, s.DependencyTimeout, domain.CodeSealFailed, "seal primitive",
		func(cctx context.Context) (domain.SealedArtifact, error) {
			return s.Seals.Seal(cctx, record.ID)
		})
	if err != nil {
		log.WithError(err).Error("seal primitive failed")
		return SealOutcome{}, err
	}
	if sealed.Pointer.IsZero() {
		return SealOutcome{}, domain.Dependency(domain.CodeSealFailed, "seal primitive returned an empty pointer", nil)
	}
	hash, err := s.sealedHash(ctx, sealed)
	if err != nil {
		log.WithError(err).Error("sealed artifact hash unavailable")
		return SealOutcome{}, err
	}

	entity, err := s.owningEntity(ctx, record)
	if err != nil {
		return SealOutcome{}, err
	}
	key := entityKey(entity)
	now := s.now()

	entry, err := s.Registry.UpsertMinuteBookEntry(ctx, domain.MinuteBookEntry{
		ID:             uuid.NewString(),
		EntityID:       entity.ID,
		SourceRecordID: record.ID,
		Lane:           record.Lane,
		Title:          record.Title,
		Pointer:        sealed.Pointer,
		Hash:           hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return SealOutcome{}, err
	}
	if err := domain.CheckLane(record.Lane, entry.Lane, "minute book entry"); err != nil {
		return SealOutcome{}, err
	}

	doc, err := s.Registry.UpsertSupportingDocument(ctx, domain.SupportingDocument{
		ID:        uuid.NewString(),
		EntryID:   entry.ID,
		Role:      domain.DocumentRolePrimary,
		Pointer:   sealed.Pointer,
		Hash:      hash,
		MimeType:  domain.MimeTypePDF,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return SealOutcome{}, err
	}

	registryEntry, created, err := s.createRegistryEntry(ctx, domain.RegistryEntry{
		ID:                uuid.NewString(),
		EntityID:          entity.ID,
		EntityKey:         key,
		SourceRecordID:    record.ID,
		Lane:              record.Lane,
		DocumentClass:     domain.DocumentClassGovernanceRecord,
		Pointer:           sealed.Pointer,
		Hash:              hash,
		MimeType:          domain.MimeTypePDF,
		VerificationLevel: domain.VerificationLevelSigned,
		Archived:          true,
		VerifiedAt:        now,
	})
	if err != nil {
		return SealOutcome{}, err
	}
	if err := domain.CheckLane(record.Lane, registryEntry.Lane, "registry entry"); err != nil {
		return SealOutcome{}, err
	}
	if !created && registryEntry.Hash != hash {
		log.WithFields(logrus.Fields{
			"registry_hash": registryEntry.Hash,
			"sealed_hash":   hash,
		}).Warn("sealed hash differs from first verified hash; registry left unchanged")
	}

	return SealOutcome{
		EntryID:              entry.ID,
		SupportingDocumentID: doc.ID,
		RegistryEntryID:      registryEntry.ID,
		RegistryCreated:      created,
		Bucket:               sealed.Pointer.Bucket,
		StoragePath:          sealed.Pointer.Path,
		FileHash:             hash,
		RegistryHash:         registryEntry.Hash,
		Lane:                 record.Lane,
	}, nil
}

// createRegistryEntry absorbs a lost insert race by returning the winner.
func (s *ArchivalSealer) createRegistryEntry(ctx context.Context, entry domain.RegistryEntry) (domain.RegistryEntry, bool, error) {
	out, created, err := s.Registry.CreateRegistryEntry(ctx, entry)
	if err == nil {
		return out, created, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return domain.RegistryEntry{}, false, err
	}
	existing, getErr := s.Registry.GetRegistryEntryByRecord(ctx, entry.SourceRecordID)
	if getErr != nil {
		return domain.RegistryEntry{}, false, getErr
	}
	s.logger().WithField("record_id", entry.SourceRecordID).Info("registry insert lost race; using existing entry")
	return *existing, false, nil
}

func (s *ArchivalSealer) requireCompletedEnvelope(ctx context.Context, record *domain.LedgerRecord) error {
	env, err := s.Envelopes.FindActive(ctx, record.ID, record.Lane)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conflict(domain.CodeEnvelopeNotCompleted, "record "+record.ID+" has no signing envelope")
		}
		return err
	}
	if err := domain.CheckLane(record.Lane, env.Lane, "envelope"); err != nil {
		return err
	}
	if env.Status != domain.EnvelopeCompleted {
		return domain.Conflict(domain.CodeEnvelopeNotCompleted, "envelope "+env.ID+" is "+string(env.Status))
	}
	return nil
}

// sealedHash trusts the primitive's hash and computes it from the stored
// bytes only when the primitive did not report one.
func (s *ArchivalSealer) sealedHash(ctx context.Context, sealed domain.SealedArtifact) (string, error) {
	if sealed.Hash != "" {
		hash, ok := crypto.NormalizeHash(sealed.Hash)
		if !ok {
			return "", domain.Dependency(domain.CodeSealFailed, "seal primitive returned a malformed hash", nil)
		}
		return hash, nil
	}
	if s.Storage == nil {
		return "", domain.Dependency(domain.CodeSealFailed, "seal primitive returned no hash and no storage is configured", nil)
	}
	data, err := callWithTimeout(ctx, s.DependencyTimeout, domain.CodeStorageFailed, "download sealed artifact",
		func(cctx context.Context) ([]byte, error) {
			return s.Storage.Download(cctx, sealed.Pointer)
		})
	if err != nil {
		return "", err
	}
	return crypto.HashBytes(data), nil
}

func (s *ArchivalSealer) owningEntity(ctx context.Context, record *domain.LedgerRecord) (*domain.Entity, error) {
	var (
		entity *domain.Entity
		err    error
		ref    string
	)
	switch {
	case record.EntityID != "":
		ref = record.EntityID
		entity, err = s.Ledger.GetEntityByID(ctx, record.EntityID)
	case s.DefaultEntitySlug != "":
		ref = s.DefaultEntitySlug
		entity, err = s.Ledger.GetEntityBySlug(ctx, s.DefaultEntitySlug)
	default:
		return nil, domain.NotFound(domain.CodeEntityNotFound, "record "+record.ID+" has no owning entity")
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeEntityNotFound, "entity "+ref+" not found")
		}
		return nil, err
	}
	if err := domain.CheckLane(record.Lane, entity.Lane, "entity"); err != nil {
		return nil, err
	}
	return entity, nil
}

func entityKey(entity *domain.Entity) string {
	return string(entity.Lane) + "/" + entity.Slug
}

func (s *ArchivalSealer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return systemNow()
}

func (s *ArchivalSealer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return nopLogger()
	}
	return s.Logger
}
