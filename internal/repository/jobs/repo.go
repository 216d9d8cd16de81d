// Package jobs stores indexing job status as JSON values in Redis.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/triage/internal/db"
	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/job"
)

var keyPrefix = domain.KeyPrefix + "job:"

// DefaultTTL bounds how long finished jobs stay listable.
const DefaultTTL = 7 * 24 * time.Hour

const defaultListLimit = 100

// store is the consumer interface for job status (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements usecase/indexing.JobRepository.
type Repo struct {
	store store
	ttl   time.Duration
}

// New creates a job repository. A non-positive ttl selects DefaultTTL.
func New(s store, ttl time.Duration) *Repo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repo{store: s, ttl: ttl}
}

// Save writes j, replacing any previous state.
func (r *Repo) Save(ctx context.Context, j job.Job) error {
	if err := domain.CheckOrganization(j.OrganizationID); err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, jobKey(j.OrganizationID, j.ID), data, r.ttl); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Get returns a job of org.
func (r *Repo) Get(ctx context.Context, org, id string) (job.Job, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return job.Job{}, err
	}
	j, err := r.read(ctx, jobKey(org, id))
	if err != nil {
		return job.Job{}, err
	}
	if j.OrganizationID != org {
		return job.Job{}, domain.ErrNotFound
	}
	return j, nil
}

// List returns jobs of org, newest first, optionally filtered by status.
func (r *Repo) List(ctx context.Context, org string, status job.Status, limit int) ([]job.Job, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	keys, err := r.store.Scan(ctx, keyPrefix+org+":*")
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	out := make([]job.Job, 0, len(keys))
	for _, k := range keys {
		j, err := r.read(ctx, k)
		if errors.Is(err, domain.ErrNotFound) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		if j.OrganizationID != org || (status != "" && j.Status != status) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) read(ctx context.Context, key string) (job.Job, error) {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return job.Job{}, domain.ErrNotFound
		}
		return job.Job{}, fmt.Errorf("get job: %w", err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return job.Job{}, fmt.Errorf("decode job %s: %w", key, err)
	}
	return j, nil
}

func jobKey(org, id string) string {
	return keyPrefix + org + ":" + id
}
