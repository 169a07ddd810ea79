package domain

import "time"

const (
	RecordStatusSigning = "signing"
)

// LedgerRecord is owned by the record editor; the registry only reads it and
// nudges its status when signing starts.
type LedgerRecord struct {
	ID        string
	EntityID  string
	Title     string
	Body      string
	Status    string
	Lane      Lane
	CreatedAt time.Time
}

type Entity struct {
	ID   string
	Slug string
	Root string
	Lane Lane
}
