package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of an upload session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"   // Initiated, storage session open, no parts yet
	StatusUploading SessionStatus = "uploading" // At least one part URL issued or heartbeat received
	StatusCompleted SessionStatus = "completed" // Terminal: parts assembled
	StatusAborted   SessionStatus = "aborted"   // Terminal: parts discarded
	StatusError     SessionStatus = "error"     // Terminal: assembly failed
)

// IsTerminal reports whether the status is one of the terminal states.
// A session reaches a terminal state at most once; terminal sessions hold
// no concurrency slot and no quota reservation.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusError
}

// Part number and size bounds for multipart uploads. These mirror the limits
// enforced by S3-compatible backends.
const (
	MinPartNumber = 1
	MaxPartNumber = 10000

	// MinPartSizeBytes is the floor for every part except the last one.
	MinPartSizeBytes = 5 * 1024 * 1024 // 5 MiB
	// MaxPartSizeBytes is the absolute maximum size of a single part.
	MaxPartSizeBytes = 5 * 1024 * 1024 * 1024 // 5 GiB
)

// UploadPart records one acknowledged part of an upload session.
// Parts are keyed by PartNumber; re-issuing a URL for the same part number
// overwrites the previous entry (last write wins until completion).
type UploadPart struct {
	PartNumber int    `bson:"partNumber" json:"partNumber"`
	SizeBytes  int64  `bson:"sizeBytes" json:"sizeBytes"`
	Checksum   string `bson:"checksum,omitempty" json:"checksum,omitempty"`
}

// UploadSession is the aggregate root for one file being uploaded via
// multipart transfer. The actual bytes live in object storage; this record
// tracks lifecycle state, acknowledged parts, and the quota reservation
// held on behalf of the owner.
type UploadSession struct {
	ID      string `bson:"_id" json:"id"`
	OwnerID string `bson:"ownerId" json:"ownerId"` // Accounting key for slots and quota
	ScopeID string `bson:"scopeId" json:"scopeId"` // Tenant/company the session belongs to

	Path              string `bson:"path" json:"path"`
	Filename          string `bson:"filename" json:"filename"`
	OriginalName      string `bson:"originalName" json:"originalName"`
	MimeType          string `bson:"mimeType" json:"mimeType"`
	DeclaredSizeBytes int64  `bson:"declaredSizeBytes" json:"declaredSizeBytes"`

	// StorageUploadID is the opaque multipart handle returned by the object
	// storage backend at initiation. Required for all part and completion
	// operations against the backend.
	StorageUploadID string `bson:"storageUploadId" json:"-"`

	Status SessionStatus `bson:"status" json:"status"`
	Parts  []UploadPart  `bson:"parts" json:"parts"`

	// QuotaReservedBytes is provisionally deducted from the owner's quota at
	// initiation, reconciled to actual consumed bytes at completion, and
	// fully restored on abort or expiry.
	QuotaReservedBytes int64 `bson:"quotaReservedBytes" json:"quotaReservedBytes"`

	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	LastActivityAt time.Time `bson:"lastActivityAt" json:"lastActivityAt"`
}

// AcknowledgedSizeBytes returns the sum of all acknowledged part sizes.
// The invariant QuotaReservedBytes >= AcknowledgedSizeBytes is enforced at
// part URL issuance.
func (s *UploadSession) AcknowledgedSizeBytes() int64 {
	var total int64
	for _, p := range s.Parts {
		total += p.SizeBytes
	}
	return total
}

// Part returns the acknowledged part with the given number, if present.
func (s *UploadSession) Part(partNumber int) (UploadPart, bool) {
	for _, p := range s.Parts {
		if p.PartNumber == partNumber {
			return p, true
		}
	}
	return UploadPart{}, false
}

// HighestPartNumber returns the largest acknowledged part number, or zero
// when no parts have been acknowledged yet.
func (s *UploadSession) HighestPartNumber() int {
	highest := 0
	for _, p := range s.Parts {
		if p.PartNumber > highest {
			highest = p.PartNumber
		}
	}
	return highest
}
