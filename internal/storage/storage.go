package storage

import (
	"context"
	"time"
)

// Presigned URL expiry bounds. The storage backend enforces expiry; this
// core only chooses the duration within these bounds.
const (
	DefaultPresignedURLExpiry = 1 * time.Hour
	MaxPresignedURLExpiry     = 7 * 24 * time.Hour
)

// AssembledPart identifies one uploaded part when completing a multipart
// upload: the part number plus the checksum (ETag) the backend returned when
// the part was uploaded.
type AssembledPart struct {
	PartNumber int
	Checksum   string
}

// PartURL is a presigned URL for uploading one part, with its expiry.
type PartURL struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectStorage defines the interface to the multipart-capable object
// storage backend. The backend is a black box: it opens multipart sessions,
// signs per-part upload URLs, and assembles or discards parts given the
// opaque upload handle returned at creation.
type ObjectStorage interface {
	// CreateMultipartUpload opens a multipart session for the object key and
	// returns the backend's opaque upload handle.
	CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error)

	// PresignUploadPart returns a time-limited URL allowing a PUT of the
	// given part. expires is clamped to MaxPresignedURLExpiry and defaults
	// to DefaultPresignedURLExpiry when zero.
	PresignUploadPart(ctx context.Context, objectKey, uploadID string, partNumber int, partSizeBytes int64, expires time.Duration) (PartURL, error)

	// CompleteMultipartUpload assembles the uploaded parts into the final
	// object and returns its size in bytes.
	CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []AssembledPart) (int64, error)

	// AbortMultipartUpload discards all uploaded parts for the session.
	// Aborting an upload the backend no longer knows about is not an error.
	AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error
}
