package domain

import (
	"path"
	"strings"
	"time"
)

const (
	MinSignedURLExpiry     = 60 * time.Second
	MaxSignedURLExpiry     = 3600 * time.Second
	DefaultSignedURLExpiry = 900 * time.Second

	MimeTypePDF = "application/pdf"
)

// Pointer locates one object in object storage.
type Pointer struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

func (p Pointer) IsZero() bool {
	return p.Bucket == "" || p.Path == ""
}

func (p Pointer) String() string {
	return "gs://" + p.Bucket + "/" + p.Path
}

// ObjectPath builds {entityRoot}/{category}/{filename}.
func ObjectPath(entityRoot, category, filename string) string {
	return path.Join(strings.Trim(entityRoot, "/"), category, filename)
}

// ClampExpiry bounds a requested signed-URL lifetime in seconds. Zero or
// negative selects def, which is itself clamped.
func ClampExpiry(seconds int, def time.Duration) time.Duration {
	d := time.Duration(seconds) * time.Second
	if seconds <= 0 {
		d = def
		if d <= 0 {
			d = DefaultSignedURLExpiry
		}
	}
	if d < MinSignedURLExpiry {
		return MinSignedURLExpiry
	}
	if d > MaxSignedURLExpiry {
		return MaxSignedURLExpiry
	}
	return d
}

// ContentArtifact is one immutable binary addressed by its SHA-256.
type ContentArtifact struct {
	Pointer  Pointer
	Hash     string
	MimeType string
}
