package domainlist

import (
	"context"

	domlist "github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// Repository defines the storage contract for domain list entries.
// Add returns domain.ErrAlreadyExists for a duplicate (organization, pattern, list type).
type Repository interface {
	Add(ctx context.Context, e domlist.Entry) error
	Remove(ctx context.Context, organizationID, id string) error
	List(ctx context.Context, organizationID string) ([]domlist.Entry, error)
}
