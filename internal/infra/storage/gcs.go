package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"sealreg/internal/domain"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores artifacts in Google Cloud Storage and issues V4 signed GET URLs.
type GCS struct {
	client *gcs.Client
	bucket string

	accessID   string
	privateKey []byte
}

type GCSOptions struct {
	Bucket          string
	CredentialsJSON string
	SignerEmail     string
	SignerKey       string
}

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewGCS prefers explicit credentials JSON and falls back to ADC. Signing uses
// the service account key when one is available; otherwise the client signs
// through its own credentials.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("ARCHIVE_BUCKET is required for gcs storage")
	}
	var clientOpts []option.ClientOption
	if credJSON := strings.TrimSpace(opts.CredentialsJSON); credJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	accessID, key, err := loadSigner(opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &GCS{client: client, bucket: opts.Bucket, accessID: accessID, privateKey: key}, nil
}

func loadSigner(opts GCSOptions) (string, []byte, error) {
	if credJSON := strings.TrimSpace(opts.CredentialsJSON); credJSON != "" {
		var key serviceAccountJSON
		if err := json.Unmarshal([]byte(credJSON), &key); err != nil {
			return "", nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if key.ClientEmail == "" || key.PrivateKey == "" {
			return "", nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		return key.ClientEmail, normalizePrivateKey(key.PrivateKey), nil
	}
	email := strings.TrimSpace(opts.SignerEmail)
	privateKey := strings.TrimSpace(opts.SignerKey)
	if email == "" || privateKey == "" {
		return "", nil, nil
	}
	return email, normalizePrivateKey(privateKey), nil
}

func normalizePrivateKey(key string) []byte {
	return []byte(strings.ReplaceAll(key, "\\n", "\n"))
}

func (s *GCS) Bucket() string {
	return s.bucket
}

func (s *GCS) Upload(ctx context.Context, ptr domain.Pointer, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucketOf(ptr)).Object(ptr.Path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", ptr, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", ptr, err)
	}
	return nil
}

func (s *GCS) Download(ctx context.Context, ptr domain.Pointer) ([]byte, error) {
	r, err := s.client.Bucket(s.bucketOf(ptr)).Object(ptr.Path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", ptr, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", ptr, err)
	}
	return data, nil
}

func (s *GCS) SignedURL(ctx context.Context, ptr domain.Pointer, expires time.Duration) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expires),
	}
	if s.accessID != "" {
		opts.GoogleAccessID = s.accessID
		opts.PrivateKey = s.privateKey
		return gcs.SignedURL(s.bucketOf(ptr), ptr.Path, opts)
	}
	return s.client.Bucket(s.bucketOf(ptr)).SignedURL(ptr.Path, opts)
}

func (s *GCS) Close() error {
	return s.client.Close()
}

func (s *GCS) bucketOf(ptr domain.Pointer) string {
	if ptr.Bucket != "" {
		return ptr.Bucket
	}
	return s.bucket
}
