// Package snapshot defines the normalized codebase snapshot shared by every
// capture channel, together with its validation and serialization rules.
package snapshot

import (
	"time"
)

// Source identifies the channel a snapshot was captured from.
type Source string

const (
	SourceRepoClone    Source = "repo-clone"
	SourceDirectUpload Source = "direct-upload"
	SourceInline       Source = "inline"
)

// Valid reports whether s is a known channel.
func (s Source) Valid() bool {
	switch s {
	case SourceRepoClone, SourceDirectUpload, SourceInline:
		return true
	}
	return false
}

// MaxFiles bounds the number of files kept in a snapshot.
// Files beyond the bound are dropped, not queued.
const MaxFiles = 100

// File is one normalized file of a snapshot.
type File struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	SizeBytes int    `json:"sizeBytes"`
}

// Snapshot is an immutable, bounded collection of files captured for a project.
type Snapshot struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	OwnerID   string    `json:"ownerId"`
	Source    Source    `json:"source"`
	Origin    string    `json:"origin,omitempty"` // repository URL or display name
	Files     []File    `json:"files"`
	FileCount int       `json:"fileCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// RawFile is a file as received from a channel, before validation.
// A nil Content means the field was null or absent.
type RawFile struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}
