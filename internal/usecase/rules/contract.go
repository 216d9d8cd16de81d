package rules

import (
	"context"

	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// Repository defines the storage contract for rules.
// Create assigns the insertion sequence and returns the stored rule.
type Repository interface {
	Create(ctx context.Context, r rule.Rule) (rule.Rule, error)
	Get(ctx context.Context, organizationID, id string) (rule.Rule, error)
	Update(ctx context.Context, r rule.Rule) error
	Delete(ctx context.Context, organizationID, id string) error
	List(ctx context.Context, organizationID string) ([]rule.Rule, error)
	// ApplyStats adds all deltas in one write.
	ApplyStats(ctx context.Context, organizationID string, deltas []rule.StatsDelta) error
}
