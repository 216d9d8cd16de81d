package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/job"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// DomainLists stores domain list entries.
type DomainLists struct {
	mu      sync.RWMutex
	entries map[string][]domainlist.Entry
}

// NewDomainLists creates an empty store.
func NewDomainLists() *DomainLists {
	return &DomainLists{entries: map[string][]domainlist.Entry{}}
}

// Add stores e. A duplicate (organization, pattern, list type) returns domain.ErrAlreadyExists.
func (s *DomainLists) Add(_ context.Context, e domainlist.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.entries[e.OrganizationID()] {
		if strings.EqualFold(x.Pattern(), e.Pattern()) && x.ListType() == e.ListType() {
			return domain.ErrAlreadyExists
		}
	}
	s.entries[e.OrganizationID()] = append(s.entries[e.OrganizationID()], e)
	return nil
}

// Remove deletes an entry of org.
func (s *DomainLists) Remove(_ context.Context, org, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[org]
	for i, x := range list {
		if x.ID() == id {
			s.entries[org] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// List returns the entries of org in insertion order.
func (s *DomainLists) List(_ context.Context, org string) ([]domainlist.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domainlist.Entry(nil), s.entries[org]...), nil
}

// Rules stores rules with an insertion sequence.
type Rules struct {
	mu    sync.RWMutex
	seq   int64
	rules map[string]map[string]rule.Rule
}

// NewRules creates an empty store.
func NewRules() *Rules {
	return &Rules{rules: map[string]map[string]rule.Rule{}}
}

// Create stores r with the next sequence number.
func (s *Rules) Create(_ context.Context, r rule.Rule) (rule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org := r.OrganizationID()
	if _, ok := s.rules[org][r.ID()]; ok {
		return rule.Rule{}, domain.ErrAlreadyExists
	}
	if s.rules[org] == nil {
		s.rules[org] = map[string]rule.Rule{}
	}
	s.seq++
	r = r.WithSequence(s.seq)
	s.rules[org][r.ID()] = r
	return r, nil
}

// Get returns a rule of org.
func (s *Rules) Get(_ context.Context, org, id string) (rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[org][id]
	if !ok {
		return rule.Rule{}, domain.ErrNotFound
	}
	return r, nil
}

// Update replaces an existing rule. Statistics are kept from the stored copy.
func (s *Rules) Update(_ context.Context, r rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rules[r.OrganizationID()][r.ID()]
	if !ok {
		return domain.ErrNotFound
	}
	s.rules[r.OrganizationID()][r.ID()] = rule.Reconstruct(
		r.ID(), r.OrganizationID(), r.Name(), r.Category(), r.Priority(), r.Status(),
		r.Conditions(), r.Actions(), old.Stats(), old.Sequence(), old.CreatedAt(), r.UpdatedAt(),
	)
	return nil
}

// Delete removes a rule of org.
func (s *Rules) Delete(_ context.Context, org, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[org][id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rules[org], id)
	return nil
}

// List returns the rules of org ordered by sequence.
func (s *Rules) List(_ context.Context, org string) ([]rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rule.Rule, 0, len(s.rules[org]))
	for _, r := range s.rules[org] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence() < out[j].Sequence() })
	return out, nil
}

// ApplyStats adds deltas atomically. Unknown rules are ignored.
func (s *Rules) ApplyStats(_ context.Context, org string, deltas []rule.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		r, ok := s.rules[org][d.RuleID]
		if !ok {
			continue
		}
		st := r.Stats()
		st.Executions += d.Executions
		st.Successes += d.Successes
		st.Errors += d.Errors
		s.rules[org][d.RuleID] = rule.Reconstruct(
			r.ID(), r.OrganizationID(), r.Name(), r.Category(), r.Priority(), r.Status(),
			r.Conditions(), r.Actions(), st, r.Sequence(), r.CreatedAt(), r.UpdatedAt(),
		)
	}
	return nil
}

// DefaultLogCapacity bounds the log kept per organization.
const DefaultLogCapacity = 1000

// Ping always succeeds.
func (s *Rules) Ping(context.Context) error { return nil }

// ClassificationLog keeps the most recent classifications per organization.
type ClassificationLog struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]classification.LogEntry
}

// NewClassificationLog creates a log holding up to capacity entries per organization.
func NewClassificationLog(capacity int) *ClassificationLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &ClassificationLog{capacity: capacity, entries: map[string][]classification.LogEntry{}}
}

// Append records e, evicting the oldest entry when full.
func (l *ClassificationLog) Append(_ context.Context, e classification.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append(l.entries[e.OrganizationID], e)
	if len(list) > l.capacity {
		list = list[len(list)-l.capacity:]
	}
	l.entries[e.OrganizationID] = list
	return nil
}

// List returns up to limit entries of org, newest first.
func (l *ClassificationLog) List(_ context.Context, org string, limit int) ([]classification.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.entries[org]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]classification.LogEntry, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Jobs stores index job status.
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]map[string]job.Job
}

// NewJobs creates an empty store.
func NewJobs() *Jobs {
	return &Jobs{jobs: map[string]map[string]job.Job{}}
}

// Save writes j.
func (s *Jobs) Save(_ context.Context, j job.Job) error {
	if err := domain.CheckOrganization(j.OrganizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.OrganizationID] == nil {
		s.jobs[j.OrganizationID] = map[string]job.Job{}
	}
	s.jobs[j.OrganizationID][j.ID] = j
	return nil
}

// Get returns a job of org.
func (s *Jobs) Get(_ context.Context, org, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[org][id]
	if !ok {
		return job.Job{}, domain.ErrNotFound
	}
	return j, nil
}

// List returns jobs of org, newest first, optionally filtered by status.
func (s *Jobs) List(_ context.Context, org string, status job.Status, limit int) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]job.Job, 0, len(s.jobs[org]))
	for _, j := range s.jobs[org] {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
