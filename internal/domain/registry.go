package domain

import "time"

const (
	DocumentRolePrimary = "primary"

	DocumentClassGovernanceRecord = "governance_record"
	VerificationLevelSigned       = "signed_envelope"
)

// SealedArtifact is what the seal primitive reports for a record.
type SealedArtifact struct {
	Pointer Pointer
	Hash    string
}

// MinuteBookEntry is the self-healing pointer row for (record, lane).
type MinuteBookEntry struct {
	ID             string
	EntityID       string
	SourceRecordID string
	Lane           Lane
	Title          string
	Pointer        Pointer
	Hash           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SupportingDocument struct {
	ID        string
	EntryID   string
	Role      string
	Pointer   Pointer
	Hash      string
	MimeType  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegistryEntry is the append-only record of first verification.
type RegistryEntry struct {
	ID                string
	EntityID          string
	EntityKey         string
	SourceRecordID    string
	Lane              Lane
	DocumentClass     string
	Pointer           Pointer
	Hash              string
	MimeType          string
	VerificationLevel string
	Archived          bool
	VerifiedAt        time.Time
}

// ResolveReference names an artifact by any combination of identifiers.
type ResolveReference struct {
	Hash       string
	EnvelopeID string
	RecordID   string
	Lane       Lane
}

func (r ResolveReference) Empty() bool {
	return r.Hash == "" && r.EnvelopeID == "" && r.RecordID == ""
}

// Candidate is one pointer offered by a resolution payload.
type Candidate struct {
	Pointer Pointer
	Lane    Lane
}

const (
	ResolutionSourceCanonical = "canonical"
	ResolutionSourceRegistry  = "registry_fallback"
)

// ResolutionPayload is what the canonical resolution procedure returns.
type ResolutionPayload struct {
	OK         bool
	Source     string
	RecordID   string
	EnvelopeID string
	EntityID   string
	Lane       Lane
	Hash       string
	Title      string
	Best       *Candidate
	MinuteBook *Candidate
	Archive    *Candidate
}
