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

// EnvelopeManager owns the signing-envelope lifecycle.
type EnvelopeManager struct {
	Ledger    LedgerRepository
	Envelopes EnvelopeRepository
	Renderer  Renderer
	Storage   ObjectStorage
	Lease     RenderLease
	Logger    logrus.FieldLogger

	DependencyTimeout time.Duration
	Now               func() time.Time
}

type CreateEnvelopeRequest struct {
	RecordID   string
	EntitySlug string
	Lane       domain.Lane
	Actor      string
}

type CreateEnvelopeResult struct {
	Envelope domain.Envelope
	Reused   bool
}

// BaseDocumentResult reports the outcome of EnsureBaseDocument. A nil
// Pointer with a FailureCode is a soft, retryable failure.
type BaseDocumentResult struct {
	Pointer     *domain.Pointer
	Rendered    bool
	FailureCode string
	Failure     string
}

func (m *EnvelopeManager) CreateOrReuse(ctx context.Context, req CreateEnvelopeRequest) (CreateEnvelopeResult, error) {
	if m == nil || m.Ledger == nil || m.Envelopes == nil {
		return CreateEnvelopeResult{}, errors.New("envelope manager requires ledger and envelope repositories")
	}
	recordID := strings.TrimSpace(req.RecordID)
	slug := strings.TrimSpace(req.EntitySlug)
	if recordID == "" {
		return CreateEnvelopeResult{}, domain.Validation(domain.CodeInvalidRequest, "record_id is required")
	}
	if slug == "" {
		return CreateEnvelopeResult{}, domain.Validation(domain.CodeInvalidRequest, "entity_slug is required")
	}
	if !req.Lane.Valid() {
		return CreateEnvelopeResult{}, domain.Validation(domain.CodeInvalidRequest, "lane must be rot or sandbox")
	}

	record, err := m.Ledger.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CreateEnvelopeResult{}, domain.NotFound(domain.CodeRecordNotFound, "record "+recordID+" not found")
		}
		return CreateEnvelopeResult{}, err
	}
	entity, err := m.Ledger.GetEntityBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CreateEnvelopeResult{}, domain.Validation(domain.CodeEntityMismatch, "entity "+slug+" does not own record "+recordID)
		}
		return CreateEnvelopeResult{}, err
	}
	if entity.ID != record.EntityID {
		return CreateEnvelopeResult{}, domain.Validation(domain.CodeEntityMismatch, "entity "+slug+" does not own record "+recordID)
	}
	if err := domain.CheckLane(req.Lane, record.Lane, "record"); err != nil {
		return CreateEnvelopeResult{}, err
	}
	if err := domain.CheckLane(req.Lane, entity.Lane, "entity"); err != nil {
		return CreateEnvelopeResult{}, err
	}

	existing, err := m.Envelopes.FindActive(ctx, record.ID, req.Lane)
	if err == nil {
		return CreateEnvelopeResult{Envelope: *existing, Reused: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return CreateEnvelopeResult{}, err
	}

	now := m.now()
	env, created, err := m.Envelopes.CreateDraft(ctx, domain.Envelope{
		ID:        uuid.NewString(),
		RecordID:  record.ID,
		EntityID:  entity.ID,
		Lane:      req.Lane,
		Status:    domain.EnvelopeDraft,
		CreatedBy: strings.TrimSpace(req.Actor),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CreateEnvelopeResult{}, err
	}
	if !created {
		return CreateEnvelopeResult{Envelope: env, Reused: true}, nil
	}

	if err := m.Ledger.UpdateRecordStatus(ctx, record.ID, domain.RecordStatusSigning); err != nil {
		m.logger().WithFields(logrus.Fields{
			"record_id":   record.ID,
			"envelope_id": env.ID,
		}).WithError(err).Warn("record status not moved to signing")
	}
	return CreateEnvelopeResult{Envelope: env}, nil
}

func (m *EnvelopeManager) EnsureBaseDocument(ctx context.Context, envelopeID string) (BaseDocumentResult, error) {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return BaseDocumentResult{}, err
	}
	if env.BaseDocument != nil && !env.BaseDocument.IsZero() {
		ptr := *env.BaseDocument
		return BaseDocumentResult{Pointer: &ptr}, nil
	}
	if m.Renderer == nil {
		return softFailure(domain.CodeRenderFailed, "no renderer configured"), nil
	}

	log := m.logger().WithFields(logrus.Fields{"envelope_id": env.ID, "record_id": env.RecordID})
	if m.Lease != nil {
		release, err := m.Lease.Acquire(ctx, "render:"+env.ID)
		if err != nil {
			if errors.Is(err, domain.ErrLeaseHeld) {
				return softFailure(domain.CodeRenderInProgress, "another render is in progress"), nil
			}
			log.WithError(err).Warn("render lease unavailable; rendering without it")
		} else {
			defer release()
		}
	}

	path, err := callWithTimeout(ctx, m.DependencyTimeout, domain.CodeRenderFailed, "render base document",
		func(cctx context.Context) (string, error) {
			return m.Renderer.RenderBaseDocument(cctx, env.RecordID, env.ID)
		})
	if err != nil {
		log.WithError(err).Warn("base document render failed")
		return softFailure(domain.CodeOf(err), err.Error()), nil
	}
	path = strings.TrimSpace(path)
	if path == "" {
		log.Warn("renderer returned an empty storage path")
		return softFailure(domain.CodeRenderFailed, "renderer returned an empty storage path"), nil
	}

	ptr := domain.Pointer{Bucket: m.bucket(), Path: path}
	attached, err := m.Envelopes.SetBaseDocument(ctx, env.ID, ptr)
	if err != nil {
		log.WithError(err).Warn("base document pointer not attached")
		return softFailure(domain.CodeStorageFailed, err.Error()), nil
	}
	return BaseDocumentResult{Pointer: &attached, Rendered: true}, nil
}

// AddParties inserts new signers and returns how many were actually added.
// A closed envelope only rejects the call when it would gain a new party, so
// replaying an earlier roster stays a no-op.
func (m *EnvelopeManager) AddParties(ctx context.Context, envelopeID string, parties []domain.PartyInput) (int, error) {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return 0, err
	}
	existing, err := m.Envelopes.ListParties(ctx, env.ID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	nextOrder := 1
	for _, p := range existing {
		seen[p.Email] = struct{}{}
		if p.SigningOrder >= nextOrder {
			nextOrder = p.SigningOrder + 1
		}
	}

	inserted := 0
	now := m.now()
	for _, in := range parties {
		email := domain.NormalizeEmail(in.Email)
		if email == "" || !strings.Contains(email, "@") {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		if !env.Status.Open() {
			return inserted, domain.Conflict(domain.CodeEnvelopeClosed, "envelope is "+string(env.Status))
		}
		order := in.SigningOrder
		if order <= 0 {
			order = nextOrder
		}
		if order >= nextOrder {
			nextOrder = order + 1
		}
		ok, err := m.Envelopes.InsertParty(ctx, domain.Party{
			ID:           uuid.NewString(),
			EnvelopeID:   env.ID,
			Email:        email,
			Name:         strings.TrimSpace(in.Name),
			Role:         defaultString(strings.TrimSpace(in.Role), "signer"),
			SigningOrder: order,
			Status:       domain.PartyPending,
			CreatedAt:    now,
		})
		if err != nil {
			return inserted, err
		}
		seen[email] = struct{}{}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// UpdatePartyStatus records a signer decision reported by the signing
// service. The first decision moves a draft envelope to pending.
func (m *EnvelopeManager) UpdatePartyStatus(ctx context.Context, envelopeID, email string, status domain.PartyStatus) error {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return err
	}
	if !env.Status.Open() {
		return domain.Conflict(domain.CodeEnvelopeClosed, "envelope is "+string(env.Status))
	}
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return domain.Validation(domain.CodeInvalidRequest, "email is required")
	}
	if err := m.Envelopes.UpdatePartyStatus(ctx, env.ID, normalized, status, m.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFound(domain.CodePartyNotFound, "party "+normalized+" is not on envelope "+env.ID)
		}
		return err
	}
	if env.Status == domain.EnvelopeDraft && status != domain.PartyPending {
		err := m.Envelopes.UpdateStatus(ctx, env.ID, []domain.EnvelopeStatus{domain.EnvelopeDraft}, domain.EnvelopePending)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return nil
}

// AttachSignedDocument stores the signed PDF under the entity root, hashes
// it once and completes the envelope. Re-attaching identical bytes is a
// no-op.
func (m *EnvelopeManager) AttachSignedDocument(ctx context.Context, envelopeID string, data []byte) (domain.Envelope, error) {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return domain.Envelope{}, err
	}
	if len(data) == 0 {
		return domain.Envelope{}, domain.Validation(domain.CodeInvalidRequest, "signed document is empty")
	}
	hash := crypto.HashBytes(data)
	switch env.Status {
	case domain.EnvelopeCancelled:
		return domain.Envelope{}, domain.Conflict(domain.CodeEnvelopeClosed, "envelope is cancelled")
	case domain.EnvelopeCompleted:
		if env.SignedDocument != nil && env.SignedDocument.Hash == hash {
			return *env, nil
		}
		return domain.Envelope{}, domain.Conflict(domain.CodeSignedDocumentConflict, "envelope already completed with a different document")
	}
	if m.Storage == nil {
		return domain.Envelope{}, errors.New("envelope manager requires object storage")
	}

	entity, err := m.Ledger.GetEntityByID(ctx, env.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Envelope{}, domain.NotFound(domain.CodeEntityNotFound, "entity "+env.EntityID+" not found")
		}
		return domain.Envelope{}, err
	}
	if err := domain.CheckLane(env.Lane, entity.Lane, "entity"); err != nil {
		return domain.Envelope{}, err
	}

	artifact := domain.ContentArtifact{
		Pointer:  domain.Pointer{Bucket: m.Storage.Bucket(), Path: domain.ObjectPath(entity.Root, "signed", env.ID+".pdf")},
		Hash:     hash,
		MimeType: domain.MimeTypePDF,
	}
	_, err = callWithTimeout(ctx, m.DependencyTimeout, domain.CodeStorageFailed, "upload signed document",
		func(cctx context.Context) (struct{}, error) {
			return struct{}{}, m.Storage.Upload(cctx, artifact.Pointer, artifact.MimeType, data)
		})
	if err != nil {
		return domain.Envelope{}, err
	}
	now := m.now()
	if err := m.Envelopes.AttachSignedDocument(ctx, env.ID, artifact, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return m.reloadCompleted(ctx, env.ID, hash)
		}
		return domain.Envelope{}, err
	}
	env.Status = domain.EnvelopeCompleted
	env.SignedDocument = &artifact
	env.CompletedAt = &now
	env.UpdatedAt = now
	return *env, nil
}

func (m *EnvelopeManager) Cancel(ctx context.Context, envelopeID string) error {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return err
	}
	if env.Status == domain.EnvelopeCancelled {
		return nil
	}
	if env.Status == domain.EnvelopeCompleted {
		return domain.Conflict(domain.CodeEnvelopeClosed, "completed envelopes cannot be cancelled")
	}
	err = m.Envelopes.UpdateStatus(ctx, env.ID,
		[]domain.EnvelopeStatus{domain.EnvelopeDraft, domain.EnvelopePending}, domain.EnvelopeCancelled)
	if errors.Is(err, domain.ErrConflict) {
		return domain.Conflict(domain.CodeEnvelopeClosed, "envelope changed state concurrently")
	}
	return err
}

func (m *EnvelopeManager) reloadCompleted(ctx context.Context, envelopeID, hash string) (domain.Envelope, error) {
	env, err := m.load(ctx, envelopeID)
	if err != nil {
		return domain.Envelope{}, err
	}
	if env.Status == domain.EnvelopeCompleted && env.SignedDocument != nil && env.SignedDocument.Hash == hash {
		return *env, nil
	}
	return domain.Envelope{}, domain.Conflict(domain.CodeSignedDocumentConflict, "envelope changed state concurrently")
}

func (m *EnvelopeManager) load(ctx context.Context, envelopeID string) (*domain.Envelope, error) {
	if m == nil || m.Envelopes == nil {
		return nil, errors.New("envelope manager requires envelope repository")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return nil, domain.Validation(domain.CodeInvalidRequest, "envelope_id is required")
	}
	env, err := m.Envelopes.Get(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeEnvelopeNotFound, "envelope "+envelopeID+" not found")
		}
		return nil, err
	}
	return env, nil
}

func (m *EnvelopeManager) bucket() string {
	if m.Storage == nil {
		return ""
	}
	return m.Storage.Bucket()
}

func (m *EnvelopeManager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return systemNow()
}

func (m *EnvelopeManager) logger() logrus.FieldLogger {
	if m.Logger == nil {
		return nopLogger()
	}
	return m.Logger
}

func softFailure(code, message string) BaseDocumentResult {
	return BaseDocumentResult{FailureCode: code, Failure: message}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
