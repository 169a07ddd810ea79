package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"sealreg/internal/domain"
)

// Seed is the SEED_FILE layout used to bootstrap entities and records in
// environments without the record editor.
type Seed struct {
	Entities []SeedEntity `json:"entities"`
	Records  []SeedRecord `json:"records"`
}

type SeedEntity struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Root string `json:"root"`
	Lane string `json:"lane"`
}

type SeedRecord struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Status   string `json:"status"`
	Lane     string `json:"lane"`
}

func ReadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// ApplySeed upserts every entity and then every record. It returns the
// number of rows written.
func (r *LedgerRepository) ApplySeed(ctx context.Context, seed Seed) (int, error) {
	written := 0
	for _, e := range seed.Entities {
		lane, err := domain.ParseLane(e.Lane)
		if err != nil {
			return written, fmt.Errorf("entity %s: %w", e.ID, err)
		}
		root := e.Root
		if root == "" {
			root = e.Slug
		}
		if err := r.SaveEntity(ctx, domain.Entity{ID: e.ID, Slug: e.Slug, Root: root, Lane: lane}); err != nil {
			return written, fmt.Errorf("entity %s: %w", e.ID, err)
		}
		written++
	}
	for _, rec := range seed.Records {
		lane, err := domain.ParseLane(rec.Lane)
		if err != nil {
			return written, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if err := r.SaveRecord(ctx, domain.LedgerRecord{
			ID:       rec.ID,
			EntityID: rec.EntityID,
			Title:    rec.Title,
			Body:     rec.Body,
			Status:   rec.Status,
			Lane:     lane,
		}); err != nil {
			return written, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		written++
	}
	return written, nil
}
