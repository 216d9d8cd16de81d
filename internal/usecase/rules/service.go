package rules

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

const defaultCompiledCacheSize = 4096

// Service manages rules and evaluates them against entities.
type Service struct {
	repo        Repository
	compiled    *lru.Cache[string, rule.Compiled]
	evaluations *prometheus.CounterVec
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets a counter vec with label "outcome" (matched/unmatched/error).
func WithMetrics(evaluations *prometheus.CounterVec) Option {
	return func(s *Service) { s.evaluations = evaluations }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCompiledCacheSize bounds the number of compiled rules kept in memory.
func WithCompiledCacheSize(n int) Option {
	return func(s *Service) {
		if c, err := lru.New[string, rule.Compiled](n); err == nil {
			s.compiled = c
		}
	}
}

// New creates a rules service.
func New(repo Repository, opts ...Option) *Service {
	c, _ := lru.New[string, rule.Compiled](defaultCompiledCacheSize)
	s := &Service{
		repo:     repo,
		compiled: c,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, org string, p rule.Params) (rule.Rule, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return rule.Rule{}, err
	}
	r, err := rule.New(uuid.NewString(), org, p, s.now())
	if err != nil {
		return rule.Rule{}, err
	}
	stored, err := s.repo.Create(ctx, r)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return stored, nil
}

// Get returns a rule of org.
func (s *Service) Get(ctx context.Context, org, id string) (rule.Rule, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return rule.Rule{}, err
	}
	r, err := s.repo.Get(ctx, org, id)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// Update replaces the editable attributes of a rule.
func (s *Service) Update(ctx context.Context, org, id string, p rule.Params) (rule.Rule, error) {
	current, err := s.Get(ctx, org, id)
	if err != nil {
		return rule.Rule{}, err
	}
	updated, err := current.Update(p, s.now())
	if err != nil {
		return rule.Rule{}, err
	}
	if err := s.repo.Update(ctx, updated); err != nil {
		return rule.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return updated, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, org, id string) error {
	if err := domain.CheckOrganization(org); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, org, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// List returns the rules of org in evaluation order.
func (s *Service) List(ctx context.Context, org string) ([]rule.Rule, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	rs, err := s.repo.List(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rule.Sort(rs)
	return rs, nil
}

// Evaluate runs every ACTIVE and TESTING rule of org against env in
// ascending priority. A rule that fails to compile or evaluate is skipped
// and reported in Outcome.Errors. Statistics are written in one batch; with
// dryRun only TESTING rules are counted.
func (s *Service) Evaluate(ctx context.Context, org string, env rule.Env, dryRun bool) (rule.Outcome, error) {
	rs, err := s.List(ctx, org)
	if err != nil {
		return rule.Outcome{}, err
	}

	var (
		out    rule.Outcome
		deltas []rule.StatsDelta
	)
	for _, r := range rs {
		if !r.Status().Evaluated() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rule.Outcome{}, fmt.Errorf("evaluate rules: %w", err)
		}
		out.Evaluated++
		delta := rule.StatsDelta{RuleID: r.ID(), Executions: 1}

		matched, actions, err := s.evaluateOne(ctx, r, env)
		switch {
		case err != nil:
			delta.Errors = 1
			out.Errors = append(out.Errors, &domain.RuleEvaluationError{RuleID: r.ID(), Err: err})
			s.observe("error")
			s.logger.Warn("Rule skipped",
				zap.String("organization_id", org),
				zap.String("rule_id", r.ID()),
				zap.Error(err),
			)
		case matched:
			delta.Successes = 1
			m := rule.Match{RuleID: r.ID(), Status: r.Status(), Actions: actions}
			if r.Status() == rule.StatusTesting {
				out.Testing = append(out.Testing, m)
			} else {
				out.Matched = append(out.Matched, m)
			}
			s.observe("matched")
		default:
			s.observe("unmatched")
		}

		if !dryRun || r.Status() == rule.StatusTesting {
			deltas = append(deltas, delta)
		}
	}

	if len(deltas) > 0 {
		if err := s.repo.ApplyStats(ctx, org, deltas); err != nil {
			s.logger.Warn("Failed to persist rule statistics",
				zap.String("organization_id", org),
				zap.Int("rules", len(deltas)),
				zap.Error(err),
			)
		}
	}
	return out, nil
}

func (s *Service) evaluateOne(ctx context.Context, r rule.Rule, env rule.Env) (bool, []rule.Action, error) {
	c, err := s.compile(r)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %w", domain.ErrInvalidRule, err)
	}
	ok, err := rule.Evaluate(ctx, c.Condition, env)
	if err != nil {
		return false, nil, err
	}
	return ok, c.Actions, nil
}

// compile returns the cached executable form of r, keyed by id and version.
func (s *Service) compile(r rule.Rule) (rule.Compiled, error) {
	key := r.ID() + "@" + strconv.FormatInt(r.UpdatedAt().UnixNano(), 10)
	if c, ok := s.compiled.Get(key); ok {
		return c, nil
	}
	c, err := rule.Compile(r.Conditions(), r.Actions())
	if err != nil {
		return rule.Compiled{}, err
	}
	s.compiled.Add(key, c)
	return c, nil
}

func (s *Service) observe(outcome string) {
	if s.evaluations != nil {
		s.evaluations.WithLabelValues(outcome).Inc()
	}
}
