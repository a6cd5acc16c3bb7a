// Package store records the history of purge and export campaigns and
// provides leases that keep two campaigns off the same target.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
)

// ErrCampaignNotFound is returned when no campaign has the requested id.
var ErrCampaignNotFound = errors.New("store: campaign not found")

// CampaignKind names what a campaign operated on.
type CampaignKind string

const (
	KindAssets  CampaignKind = "assets"
	KindClasses CampaignKind = "classes"
	KindSources CampaignKind = "sources"
	KindLineage CampaignKind = "lineage"
)

// CampaignStatus is the final state of a campaign.
type CampaignStatus string

const (
	StatusRunning   CampaignStatus = "running"
	StatusCompleted CampaignStatus = "completed"
	StatusFailed    CampaignStatus = "failed"
	StatusCancelled CampaignStatus = "cancelled"
)

// Campaign is one recorded run. Processed counts the items acted on
// (assets, sources or lineage records) and Succeeded those that went
// through.
type Campaign struct {
	ID          string             `json:"id"`
	Kind        CampaignKind       `json:"kind"`
	Target      string             `json:"target"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
	Passes      []int              `json:"passes,omitempty"`
	Processed   int                `json:"processed"`
	Succeeded   int                `json:"succeeded"`
	Status      CampaignStatus     `json:"status"`
	Error       string             `json:"error,omitempty"`
	Undeletable []catalog.AssetRef `json:"undeletable,omitempty"`
}

// CampaignFilter narrows ListCampaigns. Zero fields do not filter.
type CampaignFilter struct {
	Kind  CampaignKind
	Since time.Time
	Limit int
}

func (f CampaignFilter) match(c Campaign) bool {
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && c.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// CampaignStore persists campaigns. SaveCampaign upserts by id, so a
// campaign is saved once when it starts and again when it finishes.
type CampaignStore interface {
	SaveCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	// ListCampaigns returns matching campaigns, newest first.
	ListCampaigns(ctx context.Context, f CampaignFilter) ([]Campaign, error)
	// Prune deletes campaigns started before cutoff and reports how many
	// went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Lease represents an exclusive claim on a campaign target.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"`
	Epoch     int64     `json:"epoch"` // bumped each time a new holder takes over
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state, or nil when nobody holds it.
	Get(ctx context.Context, name string) (*Lease, error)
}

// History is a campaign store that also hands out leases.
type History interface {
	CampaignStore
	LeaseStore
}

// LeaseName is the lease guarding campaigns of kind on target.
func LeaseName(kind CampaignKind, target string) string {
	return "campaign:" + string(kind) + ":" + target
}
