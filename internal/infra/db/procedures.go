package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"sealreg/internal/domain"

	"gorm.io/gorm"
)

var procedureName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func validProcedure(name string) error {
	if !procedureName.MatchString(name) {
		return fmt.Errorf("invalid procedure name %q", name)
	}
	return nil
}

// SealProcedure calls a set-returning Postgres function
// name(record_id) -> (bucket, path, hash). The function is expected to be
// transactional and to return the same pointer for an already sealed record.
type SealProcedure struct {
	db   *gorm.DB
	name string
}

func NewSealProcedure(db *gorm.DB, name string) (*SealProcedure, error) {
	if err := validProcedure(name); err != nil {
		return nil, err
	}
	return &SealProcedure{db: db, name: name}, nil
}

func (p *SealProcedure) Seal(ctx context.Context, recordID string) (domain.SealedArtifact, error) {
	if p.db == nil {
		return domain.SealedArtifact{}, errDBUnavailable
	}
	var row struct {
		Bucket string
		Path   string
		Hash   string
	}
	err := p.db.WithContext(ctx).
		Raw("SELECT bucket, path, hash FROM "+p.name+"(?)", recordID).
		Scan(&row).Error
	if err != nil {
		return domain.SealedArtifact{}, fmt.Errorf("call %s: %w", p.name, err)
	}
	return domain.SealedArtifact{
		Pointer: domain.Pointer{Bucket: row.Bucket, Path: row.Path},
		Hash:    row.Hash,
	}, nil
}

// CanonicalResolver calls name(hash, envelope_id, record_id) which returns a
// jsonb resolution payload.
type CanonicalResolver struct {
	db   *gorm.DB
	name string
}

func NewCanonicalResolver(db *gorm.DB, name string) (*CanonicalResolver, error) {
	if err := validProcedure(name); err != nil {
		return nil, err
	}
	return &CanonicalResolver{db: db, name: name}, nil
}

type payloadWire struct {
	OK         bool           `json:"ok"`
	RecordID   string         `json:"record_id"`
	EnvelopeID string         `json:"envelope_id"`
	EntityID   string         `json:"entity_id"`
	Lane       string         `json:"lane"`
	Hash       string         `json:"hash"`
	Title      string         `json:"title"`
	Best       *candidateWire `json:"best"`
	MinuteBook *candidateWire `json:"minute_book"`
	Archive    *candidateWire `json:"archive"`
}

type candidateWire struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	Lane   string `json:"lane"`
}

func (c *candidateWire) toDomain() *domain.Candidate {
	if c == nil || c.Path == "" {
		return nil
	}
	return &domain.Candidate{Pointer: domain.Pointer{Bucket: c.Bucket, Path: c.Path}, Lane: domain.Lane(c.Lane)}
}

func (p *CanonicalResolver) ResolveVerifiedRecord(ctx context.Context, ref domain.ResolveReference) (*domain.ResolutionPayload, error) {
	if p.db == nil {
		return nil, errDBUnavailable
	}
	var raw sql.NullString
	err := p.db.WithContext(ctx).
		Raw("SELECT CAST("+p.name+"(?, ?, ?) AS text)", nullable(ref.Hash), nullable(ref.EnvelopeID), nullable(ref.RecordID)).
		Row().
		Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", p.name, err)
	}
	if !raw.Valid || raw.String == "" {
		return &domain.ResolutionPayload{OK: false}, nil
	}
	return decodePayload([]byte(raw.String))
}

func decodePayload(data []byte) (*domain.ResolutionPayload, error) {
	var wire payloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode resolution payload: %w", err)
	}
	return &domain.ResolutionPayload{
		OK:         wire.OK,
		Source:     domain.ResolutionSourceCanonical,
		RecordID:   wire.RecordID,
		EnvelopeID: wire.EnvelopeID,
		EntityID:   wire.EntityID,
		Lane:       domain.Lane(wire.Lane),
		Hash:       wire.Hash,
		Title:      wire.Title,
		Best:       wire.Best.toDomain(),
		MinuteBook: wire.MinuteBook.toDomain(),
		Archive:    wire.Archive.toDomain(),
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
