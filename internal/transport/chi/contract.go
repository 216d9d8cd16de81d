package chi

import (
	"context"

	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/job"
	"github.com/kailas-cloud/triage/internal/domain/rule"
	healthuc "github.com/kailas-cloud/triage/internal/usecase/health"
	"github.com/kailas-cloud/triage/internal/usecase/retrieval"
)

// RuleService manages classification rules.
type RuleService interface {
	Create(ctx context.Context, org string, p rule.Params) (rule.Rule, error)
	Get(ctx context.Context, org, id string) (rule.Rule, error)
	Update(ctx context.Context, org, id string, p rule.Params) (rule.Rule, error)
	Delete(ctx context.Context, org, id string) error
	List(ctx context.Context, org string) ([]rule.Rule, error)
}

// DomainListService manages blacklist and VIP entries.
type DomainListService interface {
	Add(ctx context.Context, org, pattern, listType, reason string) (domainlist.Entry, error)
	Remove(ctx context.Context, org, id string) error
	Search(ctx context.Context, org, query string) ([]domainlist.Entry, error)
	Lookup(ctx context.Context, org, domain string) (domainlist.Membership, error)
}

// ClassificationService classifies entities synchronously.
type ClassificationService interface {
	Classify(ctx context.Context, e entity.Entity) (classification.Result, error)
	Test(ctx context.Context, e entity.Entity) (classification.Result, error)
	History(ctx context.Context, org string, limit int) ([]classification.LogEntry, error)
}

// SearchService answers hybrid retrieval queries.
type SearchService interface {
	Search(ctx context.Context, org, query string, types []string) (retrieval.Response, error)
}

// IndexingService queues entities for indexing and tracks their jobs.
type IndexingService interface {
	Submit(ctx context.Context, e entity.Entity) (job.Job, error)
	Retry(ctx context.Context, org, id string) (job.Job, error)
	Delete(ctx context.Context, org, entityID string) (int, error)
	Get(ctx context.Context, org, id string) (job.Job, error)
	List(ctx context.Context, org string, status job.Status, limit int) ([]job.Job, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
