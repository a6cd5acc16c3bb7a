// Package catalog is the client side of the remote metadata catalog:
// asset search and detail, relationship search, publish deletes, catalog
// sources and job status.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

// BulkLimit is the largest number of identities GetAssets accepts.
const BulkLimit = 5

var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrUnauthorized = errors.New("catalog: unauthorized")
	ErrBulkLimit    = fmt.Errorf("catalog: bulk fetch accepts at most %d ids", BulkLimit)
	ErrMalformedURI = errors.New("catalog: malformed asset uri")
)

// StatusError is returned when the catalog answers with an unexpected
// HTTP status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("catalog: %s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("catalog: %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Catalog is the full set of remote operations used by catalogctl.
type Catalog interface {
	GetAsset(ctx context.Context, id, segments string) (Asset, error)
	GetAssets(ctx context.Context, ids []string, segments string) ([]Asset, error)
	Search(ctx context.Context, q Query, from, size int) (SearchPage, error)
	SearchRelationships(ctx context.Context, q RelationshipQuery) ([]Relationship, error)
	DeleteAsset(ctx context.Context, id, classType string) (DeleteResult, error)
	DeleteRelationship(ctx context.Context, from, to, relType string) (DeleteResult, error)
	ListSources(ctx context.Context, offset, limit int) ([]Source, error)
	PurgeSource(ctx context.Context, name string) (JobHandle, error)
	DeleteSource(ctx context.Context, name string) error
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
}
