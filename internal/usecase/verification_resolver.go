package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"sealreg/internal/domain"
	"sealreg/internal/infra/crypto"

	"github.com/sirupsen/logrus"
)

const (
	CategoryBest       = "best"
	CategoryMinuteBook = "minute_book"
	CategoryArchive    = "archive"

	NotePointerMissing    = "pointer_missing"
	NoteSigningFailed     = "signing_failed"
	NoteCrossLane         = "cross_lane_pointer_rejected"
	NotePrimaryFailed     = "canonical_resolver_failed"
	NotePrimaryNotOK      = "canonical_resolver_not_ok"
	NoteRegistryFallback  = "registry_fallback_used"
	NoteRegistryFailed    = "registry_lookup_failed"
	NoteIntegrityWarning  = "integrity_warning"
	NoteIntegrityUnknown  = "integrity_unchecked"
	ResolveErrNotResolved = "NOT_RESOLVED"
	ResolveErrUnavailable = "RESOLVER_UNAVAILABLE"
)

// VerificationResolver answers which artifact a hash, envelope or record
// refers to and where it can be fetched.
type VerificationResolver struct {
	Canonical CanonicalResolver
	Registry  RegistryRepository
	Envelopes EnvelopeRepository
	Ledger    LedgerRepository
	Storage   ObjectStorage
	Logger    logrus.FieldLogger

	DependencyTimeout time.Duration
	DefaultExpiry     time.Duration
}

type ResolveRequest struct {
	Reference        domain.ResolveReference
	ExpiresInSeconds int
	// Recompute downloads the best artifact and compares its SHA-256 with
	// the stored hash.
	Recompute bool
}

type Note struct {
	Scope   string `json:"scope"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type ResolvedURLs struct {
	Best       *string `json:"best"`
	MinuteBook *string `json:"minute_book"`
	Archive    *string `json:"archive"`
}

type Resolution struct {
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	Source     string           `json:"source,omitempty"`
	Hash       string           `json:"hash,omitempty"`
	RecordID   string           `json:"record_id,omitempty"`
	EnvelopeID string           `json:"envelope_id,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Lane       domain.Lane      `json:"lane,omitempty"`
	Title      string           `json:"title,omitempty"`
	ExpiresIn  int              `json:"expires_in"`
	URLs       ResolvedURLs     `json:"urls"`
	Integrity  *bool            `json:"integrity_verified,omitempty"`
	Notes      []Note           `json:"notes,omitempty"`
	Pointers   ResolvedPointers `json:"-"`
}

// ResolvedPointers keeps the lane-checked pointers behind each URL.
type ResolvedPointers struct {
	Best       *domain.Pointer
	MinuteBook *domain.Pointer
	Archive    *domain.Pointer
}

func (r *Resolution) note(scope, code, message string) {
	r.Notes = append(r.Notes, Note{Scope: scope, Code: code, Message: message})
}

func (v *VerificationResolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	if v == nil || v.Registry == nil || v.Storage == nil {
		return Resolution{}, errors.New("verification resolver requires registry and storage")
	}
	ref, err := normalizeReference(req.Reference)
	if err != nil {
		return Resolution{}, err
	}
	expiry := domain.ClampExpiry(req.ExpiresInSeconds, v.DefaultExpiry)
	out := Resolution{ExpiresIn: int(expiry / time.Second)}
	log := v.logger().WithFields(logrus.Fields{
		"hash":        ref.Hash,
		"envelope_id": ref.EnvelopeID,
		"record_id":   ref.RecordID,
	})

	var owners []domain.RegistryEntry
	ownersLoaded := false
	if ref.Hash != "" {
		owners, err = v.Registry.FindRegistryEntriesByHash(ctx, ref.Hash, ref.Lane)
		if err != nil {
			log.WithError(err).Warn("registry lookup by hash failed")
			out.note("registry", NoteRegistryFailed, err.Error())
		} else {
			ownersLoaded = true
		}
	}
	expected := expectedLane(ref, owners)

	primaryFailed := false
	payload, err := v.primary(ctx, ref)
	switch {
	case err != nil:
		primaryFailed = true
		log.WithError(err).Warn("canonical resolution failed")
		out.note("canonical", NotePrimaryFailed, err.Error())
		payload = nil
	case payload == nil || !payload.OK:
		out.note("canonical", NotePrimaryNotOK, "")
		payload = nil
	}

	var pointers ResolvedPointers
	if payload != nil {
		var foreign bool
		pointers, foreign = filterLane(payload, expected, &out)
		if foreign && pointers.empty() {
			payload = nil
		}
	}

	if payload == nil && ref.Hash != "" && ownersLoaded && len(owners) > 0 {
		entry := owners[0]
		payload = registryPayload(entry)
		pointers = ResolvedPointers{Best: &entry.Pointer, Archive: &entry.Pointer}
		out.note("registry", NoteRegistryFallback, "")
	}

	if payload == nil {
		out.OK = false
		out.Error = ResolveErrNotResolved
		if primaryFailed {
			out.Error = ResolveErrUnavailable
		}
		return out, nil
	}

	out.OK = true
	out.Source = payload.Source
	out.Hash = payload.Hash
	out.RecordID = payload.RecordID
	out.EnvelopeID = payload.EnvelopeID
	out.EntityID = payload.EntityID
	out.Lane = payload.Lane
	if expected != "" {
		out.Lane = expected
	}
	out.Title = payload.Title
	out.Pointers = pointers
	v.signAll(ctx, expiry, &out)

	if req.Recompute {
		v.recompute(ctx, &out)
	}
	return out, nil
}

func (v *VerificationResolver) primary(ctx context.Context, ref domain.ResolveReference) (*domain.ResolutionPayload, error) {
	if v.Canonical == nil {
		return nil, domain.Dependency(domain.CodeResolverFailed, "no canonical resolver configured", nil)
	}
	payload, err := callWithTimeout(ctx, v.DependencyTimeout, domain.CodeResolverFailed, "canonical resolution",
		func(cctx context.Context) (*domain.ResolutionPayload, error) {
			return v.Canonical.ResolveVerifiedRecord(cctx, ref)
		})
	if err != nil {
		return nil, err
	}
	if payload != nil && payload.Source == "" {
		payload.Source = domain.ResolutionSourceCanonical
	}
	return payload, nil
}

// signAll issues one signed URL per category concurrently. A failure in one
// category leaves the others untouched.
func (v *VerificationResolver) signAll(ctx context.Context, expiry time.Duration, out *Resolution) {
	targets := []struct {
		scope string
		ptr   *domain.Pointer
		dst   **string
	}{
		{CategoryBest, out.Pointers.Best, &out.URLs.Best},
		{CategoryMinuteBook, out.Pointers.MinuteBook, &out.URLs.MinuteBook},
		{CategoryArchive, out.Pointers.Archive, &out.URLs.Archive},
	}
	notes := make([]*Note, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		if target.ptr == nil || target.ptr.IsZero() {
			notes[i] = &Note{Scope: target.scope, Code: NotePointerMissing}
			continue
		}
		wg.Add(1)
		go func(i int, ptr domain.Pointer, dst **string, scope string) {
			defer wg.Done()
			url, err := callWithTimeout(ctx, v.DependencyTimeout, domain.CodeStorageFailed, "sign url",
				func(cctx context.Context) (string, error) {
					return v.Storage.SignedURL(cctx, ptr, expiry)
				})
			if err != nil {
				notes[i] = &Note{Scope: scope, Code: NoteSigningFailed, Message: err.Error()}
				return
			}
			*dst = &url
		}(i, *target.ptr, target.dst, target.scope)
	}
	wg.Wait()
	for _, n := range notes {
		if n != nil {
			out.Notes = append(out.Notes, *n)
		}
	}
}

func (v *VerificationResolver) recompute(ctx context.Context, out *Resolution) {
	if out.Pointers.Best == nil || out.Hash == "" {
		out.note(CategoryBest, NoteIntegrityUnknown, "no pointer or stored hash to compare")
		return
	}
	data, err := v.Download(ctx, *out.Pointers.Best)
	if err != nil {
		out.note(CategoryBest, NoteIntegrityUnknown, err.Error())
		return
	}
	ok := crypto.Matches(out.Hash, data)
	out.Integrity = &ok
	if !ok {
		out.note(CategoryBest, NoteIntegrityWarning, "stored object does not match recorded hash")
	}
}

// Download fetches the bytes behind a resolved pointer.
func (v *VerificationResolver) Download(ctx context.Context, ptr domain.Pointer) ([]byte, error) {
	return callWithTimeout(ctx, v.DependencyTimeout, domain.CodeStorageFailed, "download artifact",
		func(cctx context.Context) ([]byte, error) {
			return v.Storage.Download(cctx, ptr)
		})
}

type VerifyRequest struct {
	EnvelopeID string
	Recompute  bool
}

type PartyView struct {
	Email        string             `json:"email"`
	Name         string             `json:"name,omitempty"`
	Role         string             `json:"role"`
	SigningOrder int                `json:"signing_order"`
	Status       domain.PartyStatus `json:"status"`
	SignedAt     *time.Time         `json:"signed_at,omitempty"`
}

type Verification struct {
	Valid       bool                  `json:"valid"`
	Status      domain.EnvelopeStatus `json:"status"`
	Reason      string                `json:"reason,omitempty"`
	EnvelopeID  string                `json:"envelope_id"`
	RecordID    string                `json:"record_id"`
	RecordTitle string                `json:"record_title,omitempty"`
	EntitySlug  string                `json:"entity_slug,omitempty"`
	Lane        domain.Lane           `json:"lane"`
	Hash        string                `json:"hash,omitempty"`
	StoragePath string                `json:"storage_path,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Parties     []PartyView           `json:"parties"`
}

// Verify reports whether an envelope carries a completed, signed document.
// An invalid envelope is an answer, not an error.
func (v *VerificationResolver) Verify(ctx context.Context, req VerifyRequest) (Verification, error) {
	if v == nil || v.Envelopes == nil {
		return Verification{}, errors.New("verification resolver requires envelope repository")
	}
	envelopeID := strings.TrimSpace(req.EnvelopeID)
	if envelopeID == "" {
		return Verification{}, domain.Validation(domain.CodeInvalidRequest, "envelope_id is required")
	}
	env, err := v.Envelopes.Get(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Verification{}, domain.NotFound(domain.CodeEnvelopeNotFound, "envelope "+envelopeID+" not found")
		}
		return Verification{}, err
	}
	parties, err := v.Envelopes.ListParties(ctx, env.ID)
	if err != nil {
		return Verification{}, err
	}

	out := Verification{
		Status:      env.Status,
		EnvelopeID:  env.ID,
		RecordID:    env.RecordID,
		Lane:        env.Lane,
		CompletedAt: env.CompletedAt,
		Parties:     make([]PartyView, 0, len(parties)),
	}
	for _, p := range parties {
		out.Parties = append(out.Parties, PartyView{
			Email:        p.Email,
			Name:         p.Name,
			Role:         p.Role,
			SigningOrder: p.SigningOrder,
			Status:       p.Status,
			SignedAt:     p.SignedAt,
		})
	}
	v.decorate(ctx, env, &out)

	signed := env.SignedDocument != nil && !env.SignedDocument.Pointer.IsZero()
	if signed {
		out.Hash = env.SignedDocument.Hash
		out.StoragePath = env.SignedDocument.Pointer.Path
	}
	switch {
	case env.Status != domain.EnvelopeCompleted && !signed:
		out.Reason = "no signed document attached yet (envelope status: " + string(env.Status) + ")"
		return out, nil
	case env.Status != domain.EnvelopeCompleted:
		out.Reason = "envelope status is " + string(env.Status) + "; signing has not completed"
		return out, nil
	case !signed:
		out.Reason = "envelope completed but no signed document attached yet"
		return out, nil
	}

	if req.Recompute && v.Storage != nil {
		data, err := v.Download(ctx, env.SignedDocument.Pointer)
		if err != nil {
			out.Reason = "signed document could not be fetched for hash comparison"
			return out, nil
		}
		if !crypto.Matches(env.SignedDocument.Hash, data) {
			out.Reason = "signed document does not match its recorded hash"
			return out, nil
		}
	}
	out.Valid = true
	return out, nil
}

// decorate fills display fields; a missing record or entity does not change
// validity.
func (v *VerificationResolver) decorate(ctx context.Context, env *domain.Envelope, out *Verification) {
	if v.Ledger == nil {
		return
	}
	if record, err := v.Ledger.GetRecord(ctx, env.RecordID); err == nil {
		out.RecordTitle = record.Title
	}
	if entity, err := v.Ledger.GetEntityByID(ctx, env.EntityID); err == nil {
		out.EntitySlug = entity.Slug
	}
}

func normalizeReference(ref domain.ResolveReference) (domain.ResolveReference, error) {
	ref.EnvelopeID = strings.TrimSpace(ref.EnvelopeID)
	ref.RecordID = strings.TrimSpace(ref.RecordID)
	if strings.TrimSpace(ref.Hash) != "" {
		hash, ok := crypto.NormalizeHash(ref.Hash)
		if !ok {
			return ref, domain.Validation(domain.CodeInvalidRequest, "hash must be a sha256 hex digest")
		}
		ref.Hash = hash
	} else {
		ref.Hash = ""
	}
	if ref.Lane != "" && !ref.Lane.Valid() {
		return ref, domain.Validation(domain.CodeInvalidRequest, "lane must be rot or sandbox")
	}
	if ref.Empty() {
		return ref, domain.Validation(domain.CodeInvalidRequest, "one of hash, envelope_id or record_id is required")
	}
	return ref, nil
}

// expectedLane is the lane every returned pointer must belong to: the
// caller's lane, else the lane of the registry row owning the hash.
func expectedLane(ref domain.ResolveReference, owners []domain.RegistryEntry) domain.Lane {
	if ref.Lane != "" {
		return ref.Lane
	}
	if len(owners) == 0 {
		return ""
	}
	lane := owners[0].Lane
	for _, o := range owners[1:] {
		if o.Lane != lane {
			return ""
		}
	}
	return lane
}

// filterLane keeps the candidates that belong to the expected lane. The
// second result reports whether the payload carried anything from another
// lane; a payload with no candidates at all is not foreign.
func filterLane(payload *domain.ResolutionPayload, expected domain.Lane, out *Resolution) (ResolvedPointers, bool) {
	foreign := expected != "" && payload.Lane != "" && payload.Lane != expected
	if expected == "" {
		expected = payload.Lane
	}
	pick := func(scope string, c *domain.Candidate) *domain.Pointer {
		if c == nil || c.Pointer.IsZero() {
			return nil
		}
		lane := c.Lane
		if lane == "" {
			lane = payload.Lane
		}
		if expected != "" && lane != expected {
			out.note(scope, NoteCrossLane, "pointer lane "+string(lane)+" != "+string(expected))
			foreign = true
			return nil
		}
		ptr := c.Pointer
		return &ptr
	}
	pointers := ResolvedPointers{
		Best:       pick(CategoryBest, payload.Best),
		MinuteBook: pick(CategoryMinuteBook, payload.MinuteBook),
		Archive:    pick(CategoryArchive, payload.Archive),
	}
	return pointers, foreign
}

func (p ResolvedPointers) empty() bool {
	return p.Best == nil && p.MinuteBook == nil && p.Archive == nil
}

func registryPayload(entry domain.RegistryEntry) *domain.ResolutionPayload {
	return &domain.ResolutionPayload{
		OK:       true,
		Source:   domain.ResolutionSourceRegistry,
		RecordID: entry.SourceRecordID,
		EntityID: entry.EntityID,
		Lane:     entry.Lane,
		Hash:     entry.Hash,
		Best:     &domain.Candidate{Pointer: entry.Pointer, Lane: entry.Lane},
		Archive:  &domain.Candidate{Pointer: entry.Pointer, Lane: entry.Lane},
	}
}

func (v *VerificationResolver) logger() logrus.FieldLogger {
	if v.Logger == nil {
		return nopLogger()
	}
	return v.Logger
}
