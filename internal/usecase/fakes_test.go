package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sealreg/internal/domain"
)

type memLedger struct {
	mu        sync.Mutex
	records   map[string]domain.LedgerRecord
	entities  map[string]domain.Entity
	statusErr error
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]domain.LedgerRecord{}, entities: map[string]domain.Entity{}}
}

func (l *memLedger) addEntity(e domain.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities[e.ID] = e
}

func (l *memLedger) addRecord(r domain.LedgerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[r.ID] = r
}

func (l *memLedger) GetRecord(ctx context.Context, recordID string) (*domain.LedgerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[recordID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (l *memLedger) GetEntityByID(ctx context.Context, entityID string) (*domain.Entity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[entityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (l *memLedger) GetEntityBySlug(ctx context.Context, slug string) (*domain.Entity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entities {
		if e.Slug == slug {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (l *memLedger) UpdateRecordStatus(ctx context.Context, recordID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusErr != nil {
		return l.statusErr
	}
	r, ok := l.records[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	l.records[recordID] = r
	return nil
}

type memEnvelopes struct {
	mu        sync.Mutex
	envelopes map[string]domain.Envelope
	parties   map[string][]domain.Party
	order     []string
	creates   int
}

func newMemEnvelopes() *memEnvelopes {
	return &memEnvelopes{envelopes: map[string]domain.Envelope{}, parties: map[string][]domain.Party{}}
}

func (m *memEnvelopes) findActiveLocked(recordID string, lane domain.Lane) (domain.Envelope, bool) {
	for i := len(m.order) - 1; i >= 0; i-- {
		env := m.envelopes[m.order[i]]
		if env.RecordID == recordID && env.Lane == lane && env.Status != domain.EnvelopeCancelled {
			return env, true
		}
	}
	return domain.Envelope{}, false
}

func (m *memEnvelopes) FindActive(ctx context.Context, recordID string, lane domain.Lane) (*domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.findActiveLocked(recordID, lane)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &env, nil
}

func (m *memEnvelopes) CreateDraft(ctx context.Context, env domain.Envelope) (domain.Envelope, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.findActiveLocked(env.RecordID, env.Lane); ok {
		return existing, false, nil
	}
	m.envelopes[env.ID] = env
	m.order = append(m.order, env.ID)
	m.creates++
	return env, true, nil
}

func (m *memEnvelopes) Get(ctx context.Context, envelopeID string) (*domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &env, nil
}

func (m *memEnvelopes) SetBaseDocument(ctx context.Context, envelopeID string, ptr domain.Pointer) (domain.Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return domain.Pointer{}, domain.ErrNotFound
	}
	if env.BaseDocument == nil {
		env.BaseDocument = &ptr
		m.envelopes[envelopeID] = env
	}
	return *env.BaseDocument, nil
}

func (m *memEnvelopes) AttachSignedDocument(ctx context.Context, envelopeID string, artifact domain.ContentArtifact, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return domain.ErrNotFound
	}
	if !env.Status.Open() {
		return domain.ErrConflict
	}
	env.SignedDocument = &artifact
	env.Status = domain.EnvelopeCompleted
	env.CompletedAt = &completedAt
	m.envelopes[envelopeID] = env
	return nil
}

func (m *memEnvelopes) UpdateStatus(ctx context.Context, envelopeID string, from []domain.EnvelopeStatus, to domain.EnvelopeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, s := range from {
		if env.Status == s {
			env.Status = to
			m.envelopes[envelopeID] = env
			return nil
		}
	}
	return domain.ErrConflict
}

func (m *memEnvelopes) ListParties(ctx context.Context, envelopeID string) ([]domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Party(nil), m.parties[envelopeID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SigningOrder < out[j].SigningOrder })
	return out, nil
}

func (m *memEnvelopes) InsertParty(ctx context.Context, party domain.Party) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parties[party.EnvelopeID] {
		if p.Email == party.Email {
			return false, nil
		}
	}
	m.parties[party.EnvelopeID] = append(m.parties[party.EnvelopeID], party)
	return true, nil
}

func (m *memEnvelopes) UpdatePartyStatus(ctx context.Context, envelopeID, email string, status domain.PartyStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.parties[envelopeID] {
		if p.Email == email {
			p.Status = status
			p.SignedAt = &at
			m.parties[envelopeID][i] = p
			return nil
		}
	}
	return domain.ErrNotFound
}

// complete simulates the external signer finishing an envelope.
func (m *memEnvelopes) complete(envelopeID string, artifact domain.ContentArtifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env := m.envelopes[envelopeID]
	env.Status = domain.EnvelopeCompleted
	env.SignedDocument = &artifact
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.CompletedAt = &now
	m.envelopes[envelopeID] = env
}

type memRegistry struct {
	mu          sync.Mutex
	minuteBook  map[string]domain.MinuteBookEntry
	supporting  map[string]domain.SupportingDocument
	registry    map[string]domain.RegistryEntry
	registryIDs []string

	// raceOnce makes the next CreateRegistryEntry behave like a loser of an
	// insert race: the winner row appears and ErrDuplicate is returned.
	raceOnce   *domain.RegistryEntry
	hashErr    error
	createHook func()
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		minuteBook: map[string]domain.MinuteBookEntry{},
		supporting: map[string]domain.SupportingDocument{},
		registry:   map[string]domain.RegistryEntry{},
	}
}

func (r *memRegistry) UpsertMinuteBookEntry(ctx context.Context, entry domain.MinuteBookEntry) (domain.MinuteBookEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entry.SourceRecordID + "|" + string(entry.Lane)
	if existing, ok := r.minuteBook[key]; ok {
		existing.Title = entry.Title
		existing.Pointer = entry.Pointer
		existing.Hash = entry.Hash
		existing.UpdatedAt = entry.UpdatedAt
		r.minuteBook[key] = existing
		return existing, nil
	}
	r.minuteBook[key] = entry
	return entry, nil
}

func (r *memRegistry) GetMinuteBookEntry(ctx context.Context, recordID string, lane domain.Lane) (*domain.MinuteBookEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.minuteBook[recordID+"|"+string(lane)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (r *memRegistry) UpsertSupportingDocument(ctx context.Context, doc domain.SupportingDocument) (domain.SupportingDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := doc.EntryID + "|" + doc.Role
	if existing, ok := r.supporting[key]; ok {
		existing.Pointer = doc.Pointer
		existing.Hash = doc.Hash
		existing.MimeType = doc.MimeType
		r.supporting[key] = existing
		return existing, nil
	}
	r.supporting[key] = doc
	return doc, nil
}

func (r *memRegistry) CreateRegistryEntry(ctx context.Context, entry domain.RegistryEntry) (domain.RegistryEntry, bool, error) {
	if r.createHook != nil {
		r.createHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raceOnce != nil {
		winner := *r.raceOnce
		r.raceOnce = nil
		r.registry[winner.SourceRecordID] = winner
		r.registryIDs = append(r.registryIDs, winner.ID)
		return domain.RegistryEntry{}, false, fmt.Errorf("insert registry entry: %w", domain.ErrDuplicate)
	}
	if existing, ok := r.registry[entry.SourceRecordID]; ok {
		return existing, false, nil
	}
	r.registry[entry.SourceRecordID] = entry
	r.registryIDs = append(r.registryIDs, entry.ID)
	return entry, true, nil
}

func (r *memRegistry) GetRegistryEntryByRecord(ctx context.Context, recordID string) (*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.registry[recordID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (r *memRegistry) FindRegistryEntriesByHash(ctx context.Context, hash string, lane domain.Lane) ([]domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hashErr != nil {
		return nil, r.hashErr
	}
	var out []domain.RegistryEntry
	for _, entry := range r.registry {
		if entry.Hash == hash && (lane == "" || entry.Lane == lane) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerifiedAt.Before(out[j].VerifiedAt) })
	return out, nil
}

func (r *memRegistry) count() (minuteBook, registry int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.minuteBook), len(r.registry)
}

type memStorage struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	failSign map[string]bool
	signs    int
}

func newMemStorage(bucket string) *memStorage {
	return &memStorage{bucket: bucket, objects: map[string][]byte{}, failSign: map[string]bool{}}
}

func (s *memStorage) Bucket() string { return s.bucket }

func (s *memStorage) Upload(ctx context.Context, ptr domain.Pointer, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ptr.String()] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Download(ctx context.Context, ptr domain.Pointer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ptr.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStorage) SignedURL(ctx context.Context, ptr domain.Pointer, expires time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signs++
	if s.failSign[ptr.Path] {
		return "", errors.New("signing key unavailable")
	}
	return fmt.Sprintf("https://signed.test/%s/%s?ttl=%d", ptr.Bucket, ptr.Path, int(expires/time.Second)), nil
}

type stubRenderer struct {
	mu    sync.Mutex
	path  string
	err   error
	delay time.Duration
	calls int
}

func (r *stubRenderer) RenderBaseDocument(ctx context.Context, recordID, envelopeID string) (string, error) {
	r.mu.Lock()
	r.calls++
	path, err, delay := r.path, r.err, r.delay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return path, err
}

type stubSeal struct {
	mu       sync.Mutex
	artifact domain.SealedArtifact
	err      error
	calls    int
}

func (s *stubSeal) Seal(ctx context.Context, recordID string) (domain.SealedArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.artifact, s.err
}

type stubCanonical struct {
	payload *domain.ResolutionPayload
	err     error
	calls   int
}

func (s *stubCanonical) ResolveVerifiedRecord(ctx context.Context, ref domain.ResolveReference) (*domain.ResolutionPayload, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.payload == nil {
		return nil, nil
	}
	out := *s.payload
	return &out, nil
}

type stubLease struct {
	held     bool
	err      error
	released int
}

func (l *stubLease) Acquire(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLeaseHeld
	}
	return func() { l.released++ }, nil
}
