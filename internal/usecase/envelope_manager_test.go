package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sealreg/internal/domain"
	"sealreg/internal/infra/crypto"
)

type envelopeFixture struct {
	ledger    *memLedger
	envelopes *memEnvelopes
	renderer  *stubRenderer
	storage   *memStorage
	manager   *EnvelopeManager
}

func newEnvelopeFixture() *envelopeFixture {
	ledger := newMemLedger()
	ledger.addEntity(domain.Entity{ID: "ent-1", Slug: "holdings", Root: "holdings", Lane: domain.LaneRoT})
	ledger.addEntity(domain.Entity{ID: "ent-2", Slug: "ventures", Root: "ventures", Lane: domain.LaneRoT})
	ledger.addEntity(domain.Entity{ID: "ent-sb", Slug: "holdings-sandbox", Root: "sandbox/holdings", Lane: domain.LaneSandbox})
	ledger.addRecord(domain.LedgerRecord{ID: "L1", EntityID: "ent-1", Title: "Board resolution 1", Status: "approved", Lane: domain.LaneRoT})
	ledger.addRecord(domain.LedgerRecord{ID: "S1", EntityID: "ent-sb", Title: "Sandbox minutes", Status: "approved", Lane: domain.LaneSandbox})

	envelopes := newMemEnvelopes()
	renderer := &stubRenderer{path: "holdings/base/L1.pdf"}
	storage := newMemStorage("minute-books")
	return &envelopeFixture{
		ledger:    ledger,
		envelopes: envelopes,
		renderer:  renderer,
		storage:   storage,
		manager: &EnvelopeManager{
			Ledger:            ledger,
			Envelopes:         envelopes,
			Renderer:          renderer,
			Storage:           storage,
			DependencyTimeout: time.Second,
			Now:               func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) },
		},
	}
}

func TestCreateOrReuse_ReturnsSameEnvelope(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	req := CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT, Actor: "secretary"}

	first, err := f.manager.CreateOrReuse(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Reused {
		t.Fatal("expected first call to create")
	}
	if first.Envelope.Status != domain.EnvelopeDraft {
		t.Fatalf("expected draft, got %s", first.Envelope.Status)
	}
	second, err := f.manager.CreateOrReuse(ctx, req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.Reused || second.Envelope.ID != first.Envelope.ID {
		t.Fatalf("expected reuse of %s, got %+v", first.Envelope.ID, second)
	}
	if f.envelopes.creates != 1 {
		t.Fatalf("expected exactly one draft, got %d", f.envelopes.creates)
	}
	record, _ := f.ledger.GetRecord(ctx, "L1")
	if record.Status != domain.RecordStatusSigning {
		t.Fatalf("expected record in signing, got %s", record.Status)
	}
}

func TestCreateOrReuse_ConcurrentCallsShareOneEnvelope(t *testing.T) {
	f := newEnvelopeFixture()
	req := CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT}

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.manager.CreateOrReuse(context.Background(), req)
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids[i] = res.Envelope.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one envelope id, got %v", ids)
		}
	}
	if f.envelopes.creates != 1 {
		t.Fatalf("expected one draft, got %d", f.envelopes.creates)
	}
}

func TestCreateOrReuse_CancelledEnvelopeIsNotReused(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	req := CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT}
	first, err := f.manager.CreateOrReuse(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.manager.Cancel(ctx, first.Envelope.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second, err := f.manager.CreateOrReuse(ctx, req)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if second.Reused || second.Envelope.ID == first.Envelope.ID {
		t.Fatalf("expected a fresh envelope after cancel, got %+v", second)
	}
}

func TestCreateOrReuse_ValidationCodes(t *testing.T) {
	cases := []struct {
		name string
		req  CreateEnvelopeRequest
		kind error
		code string
	}{
		{"missing record", CreateEnvelopeRequest{RecordID: "nope", EntitySlug: "holdings", Lane: domain.LaneRoT}, domain.ErrNotFound, domain.CodeRecordNotFound},
		{"wrong entity", CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "ventures", Lane: domain.LaneRoT}, domain.ErrValidation, domain.CodeEntityMismatch},
		{"unknown entity", CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "ghost", Lane: domain.LaneRoT}, domain.ErrValidation, domain.CodeEntityMismatch},
		{"wrong lane", CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneSandbox}, domain.ErrValidation, domain.CodeLaneMismatch},
		{"blank record", CreateEnvelopeRequest{RecordID: " ", EntitySlug: "holdings", Lane: domain.LaneRoT}, domain.ErrValidation, domain.CodeInvalidRequest},
		{"bad lane", CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: "staging"}, domain.ErrValidation, domain.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEnvelopeFixture()
			_, err := f.manager.CreateOrReuse(context.Background(), tc.req)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if code := domain.CodeOf(err); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
			if f.envelopes.creates != 0 {
				t.Fatal("expected no envelope on validation failure")
			}
		})
	}
}

func TestCreateOrReuse_RecordStatusFailureIsBestEffort(t *testing.T) {
	f := newEnvelopeFixture()
	f.ledger.statusErr = errors.New("ledger read-only")
	res, err := f.manager.CreateOrReuse(context.Background(), CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})
	if err != nil {
		t.Fatalf("expected status failure to be ignored, got %v", err)
	}
	if res.Envelope.ID == "" {
		t.Fatal("expected envelope id")
	}
}

func TestEnsureBaseDocument_Idempotent(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, err := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.Pointer == nil || first.Pointer.Path != "holdings/base/L1.pdf" || first.Pointer.Bucket != "minute-books" {
		t.Fatalf("unexpected pointer %+v", first.Pointer)
	}
	if !first.Rendered {
		t.Fatal("expected first call to render")
	}

	f.renderer.path = "holdings/base/other.pdf"
	second, err := f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.Rendered || second.Pointer.Path != "holdings/base/L1.pdf" {
		t.Fatalf("expected existing pointer, got %+v", second)
	}
	if f.renderer.calls != 1 {
		t.Fatalf("expected one render, got %d", f.renderer.calls)
	}
}

func TestEnsureBaseDocument_RendererFailureIsSoft(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})

	f.renderer.err = errors.New("renderer 503")
	res, err := f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil {
		t.Fatalf("expected soft failure, got %v", err)
	}
	if res.Pointer != nil || res.FailureCode != domain.CodeRenderFailed {
		t.Fatalf("expected unset pointer with RENDER_FAILED, got %+v", res)
	}
	env, _ := f.envelopes.Get(ctx, created.Envelope.ID)
	if env.BaseDocument != nil {
		t.Fatal("expected pointer to stay unset")
	}

	f.renderer.err = nil
	res, err = f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil || res.Pointer == nil {
		t.Fatalf("expected retry to succeed, got %+v %v", res, err)
	}
}

func TestEnsureBaseDocument_TimeoutIsDependencyTimeout(t *testing.T) {
	f := newEnvelopeFixture()
	f.manager.DependencyTimeout = 20 * time.Millisecond
	f.renderer.delay = time.Second
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})

	res, err := f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil {
		t.Fatalf("expected soft failure, got %v", err)
	}
	if res.FailureCode != domain.CodeDependencyTimeout {
		t.Fatalf("expected DEPENDENCY_TIMEOUT, got %+v", res)
	}
}

func TestEnsureBaseDocument_HeldLeaseSkipsRender(t *testing.T) {
	f := newEnvelopeFixture()
	lease := &stubLease{held: true}
	f.manager.Lease = lease
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})

	res, err := f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if res.FailureCode != domain.CodeRenderInProgress || f.renderer.calls != 0 {
		t.Fatalf("expected render skipped, got %+v calls=%d", res, f.renderer.calls)
	}

	lease.held = false
	res, err = f.manager.EnsureBaseDocument(ctx, created.Envelope.ID)
	if err != nil || res.Pointer == nil {
		t.Fatalf("expected render, got %+v %v", res, err)
	}
	if lease.released != 1 {
		t.Fatalf("expected lease released once, got %d", lease.released)
	}
}

func TestEnsureBaseDocument_UnknownEnvelope(t *testing.T) {
	f := newEnvelopeFixture()
	_, err := f.manager.EnsureBaseDocument(context.Background(), "missing")
	if domain.CodeOf(err) != domain.CodeEnvelopeNotFound {
		t.Fatalf("expected ENVELOPE_NOT_FOUND, got %v", err)
	}
}

func TestAddParties_NormalizesAndDeduplicates(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})

	n, err := f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{
		{Email: "  Alice@Example.com ", Name: "Alice"},
		{Email: "alice@example.com", Name: "Alice again"},
		{Email: "   ", Name: "Nobody"},
		{Email: "bob@example.com", Name: "Bob", SigningOrder: 5},
		{Email: "carol@example.com", Name: "Carol"},
	})
	if err != nil {
		t.Fatalf("add parties: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 inserted, got %d", n)
	}
	n, err = f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{{Email: "ALICE@example.com"}, {Email: "dave@example.com"}})
	if err != nil {
		t.Fatalf("add parties again: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}

	parties, _ := f.envelopes.ListParties(ctx, created.Envelope.ID)
	want := map[string]int{"alice@example.com": 1, "bob@example.com": 5, "carol@example.com": 6, "dave@example.com": 7}
	if len(parties) != len(want) {
		t.Fatalf("expected %d parties, got %d", len(want), len(parties))
	}
	for _, p := range parties {
		if want[p.Email] != p.SigningOrder {
			t.Fatalf("party %s: expected order %d, got %d", p.Email, want[p.Email], p.SigningOrder)
		}
		if p.Status != domain.PartyPending || p.Role != "signer" {
			t.Fatalf("unexpected party defaults %+v", p)
		}
	}
}

func TestAddParties_ClosedEnvelope(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})
	if _, err := f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{{Email: "alice@example.com"}}); err != nil {
		t.Fatalf("add parties: %v", err)
	}
	f.envelopes.complete(created.Envelope.ID, domain.ContentArtifact{Pointer: domain.Pointer{Bucket: "b", Path: "p"}, Hash: crypto.HashBytes([]byte("x"))})

	n, err := f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{{Email: " Alice@Example.com"}, {Email: ""}})
	if err != nil || n != 0 {
		t.Fatalf("expected replayed roster to be a no-op, got n=%d err=%v", n, err)
	}
	_, err = f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{{Email: "alice@example.com"}, {Email: "late@example.com"}})
	if domain.CodeOf(err) != domain.CodeEnvelopeClosed {
		t.Fatalf("expected ENVELOPE_CLOSED for a new party, got %v", err)
	}
	parties, _ := f.envelopes.ListParties(ctx, created.Envelope.ID)
	if len(parties) != 1 {
		t.Fatalf("expected roster unchanged, got %d parties", len(parties))
	}
}

func TestUpdatePartyStatus_MovesDraftToPending(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})
	if _, err := f.manager.AddParties(ctx, created.Envelope.ID, []domain.PartyInput{{Email: "alice@example.com"}}); err != nil {
		t.Fatalf("add parties: %v", err)
	}
	if err := f.manager.UpdatePartyStatus(ctx, created.Envelope.ID, " ALICE@example.com", domain.PartySigned); err != nil {
		t.Fatalf("update status: %v", err)
	}
	env, _ := f.envelopes.Get(ctx, created.Envelope.ID)
	if env.Status != domain.EnvelopePending {
		t.Fatalf("expected pending, got %s", env.Status)
	}
	err := f.manager.UpdatePartyStatus(ctx, created.Envelope.ID, "mallory@example.com", domain.PartySigned)
	if !errors.Is(err, domain.ErrNotFound) || domain.CodeOf(err) != domain.CodePartyNotFound {
		t.Fatalf("expected PARTY_NOT_FOUND for unknown party, got %v", err)
	}
}

func TestAttachSignedDocument_CompletesAndIsIdempotent(t *testing.T) {
	f := newEnvelopeFixture()
	ctx := context.Background()
	created, _ := f.manager.CreateOrReuse(ctx, CreateEnvelopeRequest{RecordID: "L1", EntitySlug: "holdings", Lane: domain.LaneRoT})
	pdf := []byte("%PDF-1.7 signed minutes")

	env, err := f.manager.AttachSignedDocument(ctx, created.Envelope.ID, pdf)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if env.Status != domain.EnvelopeCompleted || env.SignedDocument == nil {
		t.Fatalf("expected completed with document, got %+v", env)
	}
	wantPath := "holdings/signed/" + created.Envelope.ID + ".pdf"
	if env.SignedDocument.Pointer.Path != wantPath || env.SignedDocument.Hash != crypto.HashBytes(pdf) {
		t.Fatalf("unexpected artifact %+v", env.SignedDocument)
	}
	stored, err := f.storage.Download(ctx, env.SignedDocument.Pointer)
	if err != nil || string(stored) != string(pdf) {
		t.Fatalf("expected uploaded bytes, got %q %v", stored, err)
	}

	again, err := f.manager.AttachSignedDocument(ctx, created.Envelope.ID, pdf)
	if err != nil || again.SignedDocument.Hash != env.SignedDocument.Hash {
		t.Fatalf("expected idempotent re-attach, got %+v %v", again, err)
	}
	_, err = f.manager.AttachSignedDocument(ctx, created.Envelope.ID, []byte("different"))
	if domain.CodeOf(err) != domain.CodeSignedDocumentConflict {
		t.Fatalf("expected SIGNED_DOCUMENT_CONFLICT, got %v", err)
	}
	if err := f.manager.Cancel(ctx, created.Envelope.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected cancel of completed envelope to conflict, got %v", err)
	}
}
