package usecase

import (
	"context"
	"time"

	"sealreg/internal/domain"
)

type LedgerRepository interface {
	GetRecord(ctx context.Context, recordID string) (*domain.LedgerRecord, error)
	GetEntityByID(ctx context.Context, entityID string) (*domain.Entity, error)
	GetEntityBySlug(ctx context.Context, slug string) (*domain.Entity, error)
	UpdateRecordStatus(ctx context.Context, recordID, status string) error
}

type EnvelopeRepository interface {
	// FindActive returns the most recent non-cancelled envelope for the
	// record in lane, or domain.ErrNotFound.
	FindActive(ctx context.Context, recordID string, lane domain.Lane) (*domain.Envelope, error)
	// CreateDraft inserts env unless an active envelope already exists, in
	// which case the existing one is returned with created=false.
	CreateDraft(ctx context.Context, env domain.Envelope) (out domain.Envelope, created bool, err error)
	Get(ctx context.Context, envelopeID string) (*domain.Envelope, error)
	// SetBaseDocument attaches ptr only when no base document is set and
	// returns whatever pointer is attached afterwards.
	SetBaseDocument(ctx context.Context, envelopeID string, ptr domain.Pointer) (domain.Pointer, error)
	AttachSignedDocument(ctx context.Context, envelopeID string, artifact domain.ContentArtifact, completedAt time.Time) error
	UpdateStatus(ctx context.Context, envelopeID string, from []domain.EnvelopeStatus, to domain.EnvelopeStatus) error
	ListParties(ctx context.Context, envelopeID string) ([]domain.Party, error)
	// InsertParty returns false when the normalized email already exists on
	// the envelope.
	InsertParty(ctx context.Context, party domain.Party) (bool, error)
	UpdatePartyStatus(ctx context.Context, envelopeID, email string, status domain.PartyStatus, at time.Time) error
}

type RegistryRepository interface {
	UpsertMinuteBookEntry(ctx context.Context, entry domain.MinuteBookEntry) (domain.MinuteBookEntry, error)
	GetMinuteBookEntry(ctx context.Context, recordID string, lane domain.Lane) (*domain.MinuteBookEntry, error)
	UpsertSupportingDocument(ctx context.Context, doc domain.SupportingDocument) (domain.SupportingDocument, error)
	// CreateRegistryEntry inserts entry only if no row exists for its source
	// record. An existing row is returned untouched with created=false.
	CreateRegistryEntry(ctx context.Context, entry domain.RegistryEntry) (out domain.RegistryEntry, created bool, err error)
	GetRegistryEntryByRecord(ctx context.Context, recordID string) (*domain.RegistryEntry, error)
	// FindRegistryEntriesByHash lists rows holding hash, oldest first. An
	// empty lane matches every lane.
	FindRegistryEntriesByHash(ctx context.Context, hash string, lane domain.Lane) ([]domain.RegistryEntry, error)
}

// ObjectStorage is the storage-pointer abstraction.
type ObjectStorage interface {
	Bucket() string
	Upload(ctx context.Context, ptr domain.Pointer, contentType string, data []byte) error
	Download(ctx context.Context, ptr domain.Pointer) ([]byte, error)
	SignedURL(ctx context.Context, ptr domain.Pointer, expires time.Duration) (string, error)
}

// Renderer produces the unsigned base document and returns its storage path.
type Renderer interface {
	RenderBaseDocument(ctx context.Context, recordID, envelopeID string) (string, error)
}

// SealProcedure returns the canonical sealed artifact for a record. Calling
// it again for a sealed record returns the same pointer.
type SealProcedure interface {
	Seal(ctx context.Context, recordID string) (domain.SealedArtifact, error)
}

type CanonicalResolver interface {
	ResolveVerifiedRecord(ctx context.Context, ref domain.ResolveReference) (*domain.ResolutionPayload, error)
}

// RenderLease is an optional best-effort guard against duplicate renders.
type RenderLease interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
