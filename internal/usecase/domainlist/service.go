package domainlist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kailas-cloud/triage/internal/domain"
	domlist "github.com/kailas-cloud/triage/internal/domain/domainlist"
)

const defaultCacheSize = 1024

// Service manages per-organization domain lists and answers membership lookups.
type Service struct {
	repo  Repository
	now   func() time.Time
	cache *expirable.LRU[string, []domlist.Entry]
}

// Option configures the Service.
type Option func(*Service)

// WithCache keeps each organization's entries in memory for ttl.
// Writes through this service invalidate the organization immediately.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		if size <= 0 {
			size = defaultCacheSize
		}
		if ttl > 0 {
			s.cache = expirable.NewLRU[string, []domlist.Entry](size, nil, ttl)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a domain list service.
func New(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add validates and stores a new entry.
func (s *Service) Add(ctx context.Context, org, pattern, listType, reason string) (domlist.Entry, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return domlist.Entry{}, err
	}
	lt, err := domlist.ParseListType(listType)
	if err != nil {
		return domlist.Entry{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	e, err := domlist.New(uuid.NewString(), org, pattern, lt, reason, s.now())
	if err != nil {
		return domlist.Entry{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := s.repo.Add(ctx, e); err != nil {
		return domlist.Entry{}, fmt.Errorf("add domain list entry: %w", err)
	}
	s.invalidate(org)
	return e, nil
}

// Remove deletes an entry of org.
func (s *Service) Remove(ctx context.Context, org, id string) error {
	if err := domain.CheckOrganization(org); err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, org, id); err != nil {
		return fmt.Errorf("remove domain list entry: %w", err)
	}
	s.invalidate(org)
	return nil
}

// Search returns entries whose pattern, list type or reason contains query,
// case-insensitively. An empty query returns every entry. Results are ordered
// by pattern, then list type.
func (s *Service) Search(ctx context.Context, org, query string) ([]domlist.Entry, error) {
	entries, err := s.entries(ctx, org)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domlist.Entry, 0, len(entries))
	for _, e := range entries {
		if q == "" ||
			strings.Contains(e.Pattern(), q) ||
			strings.Contains(strings.ToLower(string(e.ListType())), q) ||
			strings.Contains(strings.ToLower(e.Reason()), q) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pattern() != out[j].Pattern() {
			return out[i].Pattern() < out[j].Pattern()
		}
		return out[i].ListType() < out[j].ListType()
	})
	return out, nil
}

// Lookup returns the lists domain appears on for org.
func (s *Service) Lookup(ctx context.Context, org, dom string) (domlist.Membership, error) {
	if strings.TrimSpace(dom) == "" {
		if err := domain.CheckOrganization(org); err != nil {
			return nil, err
		}
		return domlist.Membership{}, nil
	}
	entries, err := s.entries(ctx, org)
	if err != nil {
		return nil, err
	}
	return domlist.Resolve(entries, dom), nil
}

func (s *Service) entries(ctx context.Context, org string) ([]domlist.Entry, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if es, ok := s.cache.Get(org); ok {
			return es, nil
		}
	}
	es, err := s.repo.List(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("list domain list entries: %w", err)
	}
	if s.cache != nil {
		s.cache.Add(org, es)
	}
	return es, nil
}

func (s *Service) invalidate(org string) {
	if s.cache != nil {
		s.cache.Remove(org)
	}
}
