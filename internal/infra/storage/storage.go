package storage

import (
	"context"
	"fmt"

	"sealreg/internal/config"
	"sealreg/internal/usecase"
)

const (
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// New builds the object store selected by STORAGE_PROVIDER.
func New(ctx context.Context, cfg config.Config) (usecase.ObjectStorage, error) {
	switch cfg.StorageProvider {
	case "", ProviderGCS:
		return NewGCS(ctx, GCSOptions{
			Bucket:          cfg.ArchiveBucket,
			CredentialsJSON: cfg.GCSCredentialsJSON,
			SignerEmail:     cfg.GCSSignerEmail,
			SignerKey:       cfg.GCSSignerPrivateKey,
		})
	case ProviderMemory:
		return NewMemory(cfg.ArchiveBucket, ""), nil
	}
	return nil, fmt.Errorf("storage provider %q is not supported", cfg.StorageProvider)
}
