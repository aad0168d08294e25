package models

import (
	"time"
)

// FileRole identifies which slot of the session pair a file fills.
type FileRole string

const (
	RoleCAR     FileRole = "car"
	RoleReceipt FileRole = "receipt"
)

// Valid reports whether the role is one of the two known slots.
func (r FileRole) Valid() bool {
	return r == RoleCAR || r == RoleReceipt
}

// FileDescriptor carries the metadata of a selected file. It is read once
// when the file is opened and treated as immutable afterwards.
type FileDescriptor struct {
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	MimeType       string    `json:"mimeType"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// Provenance records which strategy produced a fingerprint.
type Provenance string

const (
	ProvenanceFull     Provenance = "full"
	ProvenanceSampled  Provenance = "sampled"
	ProvenanceFallback Provenance = "fallback"
)

// ContentFingerprint is a lowercase hex SHA-256 digest plus how it was
// obtained. Sampled digests cover selected regions only and are comparable
// solely with other sampled digests.
type ContentFingerprint struct {
	Digest     string     `json:"digest"`
	Provenance Provenance `json:"provenance"`
}

// SessionFileRecord is one historical upload known to the session registry.
type SessionFileRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	FileName    string    `json:"fileName"`
	Role        FileRole  `json:"role"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeltaType classifies a delta match.
type DeltaType string

const (
	DeltaExact   DeltaType = "exact"
	DeltaSimilar DeltaType = "similar"
)

// DeltaMatch links a candidate upload to a previously uploaded file.
type DeltaMatch struct {
	Type           DeltaType `json:"type"`
	SessionName    string    `json:"sessionName"`
	FileName       string    `json:"fileName"`
	FileSize       int64     `json:"fileSize"`
	CreatedAt      time.Time `json:"createdAt"`
	SizeDifference int64     `json:"sizeDifference"`
}
