package classify

import (
	"context"

	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// DomainLists resolves sender domain membership.
type DomainLists interface {
	Lookup(ctx context.Context, organizationID, domain string) (domainlist.Membership, error)
}

// RuleEngine evaluates an organization's rules.
type RuleEngine interface {
	Evaluate(ctx context.Context, organizationID string, env rule.Env, dryRun bool) (rule.Outcome, error)
}

// LogRepository persists classification results.
type LogRepository interface {
	Append(ctx context.Context, e classification.LogEntry) error
	List(ctx context.Context, organizationID string, limit int) ([]classification.LogEntry, error)
}
