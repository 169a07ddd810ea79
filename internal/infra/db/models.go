package db

import "time"

type EntityModel struct {
	ID        string    `gorm:"primaryKey"`
	Slug      string    `gorm:"uniqueIndex;not null"`
	Root      string    `gorm:"not null"`
	Lane      string    `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (EntityModel) TableName() string { return "entities" }

type LedgerRecordModel struct {
	ID        string `gorm:"primaryKey"`
	EntityID  string `gorm:"index"`
	Title     string `gorm:"not null"`
	Body      string
	Status    string    `gorm:"not null"`
	Lane      string    `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (LedgerRecordModel) TableName() string { return "ledger_records" }

// SignatureEnvelopeModel allows one non-cancelled envelope per (record, lane).
type SignatureEnvelopeModel struct {
	ID             string `gorm:"primaryKey"`
	RecordID       string `gorm:"uniqueIndex:idx_envelopes_active_record_lane,where:status <> 'cancelled';not null"`
	EntityID       string `gorm:"index"`
	Lane           string `gorm:"uniqueIndex:idx_envelopes_active_record_lane,where:status <> 'cancelled';not null"`
	Status         string `gorm:"index;not null"`
	BaseBucket     *string
	BasePath       *string
	SignedBucket   *string
	SignedPath     *string
	SignedHash     *string `gorm:"index"`
	SignedMimeType *string
	CreatedBy      string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	CompletedAt    *time.Time
}

func (SignatureEnvelopeModel) TableName() string { return "signature_envelopes" }

type SignaturePartyModel struct {
	ID           string `gorm:"primaryKey"`
	EnvelopeID   string `gorm:"uniqueIndex:idx_parties_envelope_email;not null"`
	Email        string `gorm:"uniqueIndex:idx_parties_envelope_email;not null"`
	Name         string
	Role         string `gorm:"not null"`
	SigningOrder int    `gorm:"not null"`
	Status       string `gorm:"not null"`
	SignedAt     *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

func (SignaturePartyModel) TableName() string { return "signature_parties" }

type MinuteBookEntryModel struct {
	ID             string `gorm:"primaryKey"`
	EntityID       string `gorm:"index;not null"`
	SourceRecordID string `gorm:"uniqueIndex:idx_minute_book_record_lane;not null"`
	Lane           string `gorm:"uniqueIndex:idx_minute_book_record_lane;not null"`
	Title          string
	Bucket         string    `gorm:"not null"`
	StoragePath    string    `gorm:"not null"`
	FileHash       string    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (MinuteBookEntryModel) TableName() string { return "minute_book_entries" }

type SupportingDocumentModel struct {
	ID          string    `gorm:"primaryKey"`
	EntryID     string    `gorm:"uniqueIndex:idx_supporting_entry_role;not null"`
	Role        string    `gorm:"uniqueIndex:idx_supporting_entry_role;not null"`
	Bucket      string    `gorm:"not null"`
	StoragePath string    `gorm:"not null"`
	FileHash    string    `gorm:"not null"`
	MimeType    string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (SupportingDocumentModel) TableName() string { return "supporting_documents" }

// VerifiedDocumentModel is append-only; rows are inserted once and never
// updated.
type VerifiedDocumentModel struct {
	ID                string `gorm:"primaryKey"`
	EntityID          string `gorm:"index;not null"`
	EntityKey         string `gorm:"not null"`
	SourceRecordID    string `gorm:"uniqueIndex;not null"`
	Lane              string `gorm:"index;not null"`
	DocumentClass     string `gorm:"not null"`
	Bucket            string `gorm:"not null"`
	StoragePath       string `gorm:"not null"`
	FileHash          string `gorm:"index;not null"`
	MimeType          string `gorm:"not null"`
	VerificationLevel string `gorm:"not null"`
	Archived          bool
	VerifiedAt        time.Time `gorm:"not null"`
}

func (VerifiedDocumentModel) TableName() string { return "verified_document_registry" }
