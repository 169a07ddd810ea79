package domain

import (
	"strings"
	"time"
)

type EnvelopeStatus string

const (
	EnvelopeDraft     EnvelopeStatus = "draft"
	EnvelopePending   EnvelopeStatus = "pending"
	EnvelopeCompleted EnvelopeStatus = "completed"
	EnvelopeCancelled EnvelopeStatus = "cancelled"
)

// Open reports whether the envelope still accepts party activity.
func (s EnvelopeStatus) Open() bool {
	return s == EnvelopeDraft || s == EnvelopePending
}

type PartyStatus string

const (
	PartyPending  PartyStatus = "pending"
	PartySigned   PartyStatus = "signed"
	PartyDeclined PartyStatus = "declined"
)

func ParsePartyStatus(raw string) (PartyStatus, error) {
	switch PartyStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PartyPending:
		return PartyPending, nil
	case PartySigned:
		return PartySigned, nil
	case PartyDeclined:
		return PartyDeclined, nil
	}
	return "", Validation(CodeInvalidRequest, "party status must be pending, signed or declined")
}

type Envelope struct {
	ID             string
	RecordID       string
	EntityID       string
	Lane           Lane
	Status         EnvelopeStatus
	BaseDocument   *Pointer
	SignedDocument *ContentArtifact
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

type Party struct {
	ID           string
	EnvelopeID   string
	Email        string
	Name         string
	Role         string
	SigningOrder int
	Status       PartyStatus
	SignedAt     *time.Time
	CreatedAt    time.Time
}

// PartyInput is a roster entry as supplied by a caller; SigningOrder zero
// means "assign one".
type PartyInput struct {
	Email        string
	Name         string
	Role         string
	SigningOrder int
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
