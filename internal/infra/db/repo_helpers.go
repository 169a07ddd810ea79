package db

import (
	"errors"
	"fmt"

	"sealreg/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var errDBUnavailable = domain.Dependency("DB_UNAVAILABLE", "db unavailable", nil)

const pgUniqueViolation = "23505"

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// duplicate rewraps a unique-constraint rejection as domain.ErrDuplicate.
func duplicate(what string, err error) error {
	return fmt.Errorf("%s: %w", what, errors.Join(domain.ErrDuplicate, err))
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func strVal(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func pointerOf(bucket, path *string) *domain.Pointer {
	if bucket == nil || path == nil || *path == "" {
		return nil
	}
	return &domain.Pointer{Bucket: *bucket, Path: *path}
}
