// Package project implements the project registry: projects, their API
// credentials, and the lifecycle pointers updated by capture and audit runs.
package project

import (
	"time"
)

// Status is the lifecycle stage of a project.
type Status string

const (
	StatusSetup      Status = "setup"
	StatusConfigured Status = "configured" // remote repository connected
	StatusAudit      Status = "audit"      // snapshot attached, ready for audit
)

// MaxNameLength is the longest accepted project name, in characters.
const MaxNameLength = 100

// Project is a logical unit owned by a single owner that snapshots and
// audits are attached to.
type Project struct {
	ID                 string
	Name               string
	OwnerID            string
	APIKey             string
	Status             Status
	CodebaseSnapshotID string
	LatestAuditID      string
	LatestAuditScore   *float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Credential is an API key record. Only active records are valid for lookup.
// AppID is empty for account-level keys not yet bound to a project.
type Credential struct {
	ID        string
	AppID     string
	OwnerID   string
	Key       string
	Active    bool
	CreatedAt time.Time
}
