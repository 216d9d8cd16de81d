package classify

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// BlacklistedClass is the final class of entities from blacklisted domains.
const BlacklistedClass = "blacklisted"

// Config holds classification thresholds.
type Config struct {
	// Threshold is the minimum rule confidence that skips the AI call.
	Threshold float64
	// VIPBoost is added to importance for VIP senders, capped at rule.MaxImportance.
	VIPBoost int
	// DefaultImportance applies when no rule sets one.
	DefaultImportance int
	// MinSubstantiveChars is the non-space length that makes content worth indexing.
	MinSubstantiveChars int
	// Categories are offered to the AI classifier.
	Categories []string
	// AITimeout bounds a single AI attempt.
	AITimeout time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:           0.6,
		VIPBoost:            3,
		DefaultImportance:   5,
		MinSubstantiveChars: 40,
		AITimeout:           20 * time.Second,
	}
}

// Metrics are optional counters; nil fields are skipped.
type Metrics struct {
	Outcomes *prometheus.CounterVec // labels: source, route
	Degraded prometheus.Counter
	AICalls  *prometheus.CounterVec // label: result (ok/error)
}

// Service produces one classification per entity.
type Service struct {
	lists   DomainLists
	engine  RuleEngine
	ai      domain.Classifier
	log     LogRepository
	cfg     Config
	metrics Metrics
	logger  *zap.Logger
	retry   func() backoff.BackOff
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithAI sets the AI classifier. Without one, rules and defaults decide alone.
func WithAI(c domain.Classifier) Option {
	return func(s *Service) { s.ai = c }
}

// WithLog persists every classification.
func WithLog(r LogRepository) Option {
	return func(s *Service) { s.log = r }
}

// WithConfig overrides thresholds.
func WithConfig(c Config) Option {
	return func(s *Service) { s.cfg = c }
}

// WithMetrics sets counters.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetryBackOff overrides the backoff between AI attempts.
func WithRetryBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.retry = f }
}

// New creates a classification service.
func New(lists DomainLists, engine RuleEngine, opts ...Option) *Service {
	s := &Service{
		lists:  lists,
		engine: engine,
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return b
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Classify decides class, routing and indexing for e and updates rule statistics.
func (s *Service) Classify(ctx context.Context, e entity.Entity) (classification.Result, error) {
	return s.run(ctx, e, false)
}

// Test is a dry run: ACTIVE rule statistics are left untouched and the
// actions of matching TESTING rules are included in the result.
func (s *Service) Test(ctx context.Context, e entity.Entity) (classification.Result, error) {
	return s.run(ctx, e, true)
}

// History returns recent classifications of org, newest first.
func (s *Service) History(ctx context.Context, org string, limit int) ([]classification.LogEntry, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if s.log == nil {
		return nil, nil
	}
	entries, err := s.log.List(ctx, org, limit)
	if err != nil {
		return nil, fmt.Errorf("list classification log: %w", err)
	}
	return entries, nil
}

func (s *Service) run(ctx context.Context, e entity.Entity, dryRun bool) (classification.Result, error) {
	if err := domain.CheckOrganization(e.OrganizationID); err != nil {
		return classification.Result{}, err
	}

	lists, err := s.lists.Lookup(ctx, e.OrganizationID, e.Domain())
	if err != nil {
		return classification.Result{}, fmt.Errorf("lookup domain lists: %w", err)
	}

	var res classification.Result
	if lists.Has(domainlist.Blacklist) {
		res = classification.Result{
			FinalClass:      BlacklistedClass,
			FinalConfidence: 1,
			MatchedRuleIDs:  []string{},
			Route:           classification.RouteDiscard,
			Source:          classification.SourceBlacklist,
			Priority:        rule.PriorityLow,
		}
	} else {
		res, err = s.decide(ctx, &e, lists, dryRun)
		if err != nil {
			return classification.Result{}, err
		}
	}

	s.record(ctx, e, res, dryRun)
	return res, nil
}

func (s *Service) decide(
	ctx context.Context, e *entity.Entity, lists domainlist.Membership, dryRun bool,
) (classification.Result, error) {
	ai := &predictor{call: func(ctx context.Context) (domain.Prediction, error) {
		return s.predict(ctx, e)
	}}
	out, err := s.engine.Evaluate(ctx, e.OrganizationID, &env{entity: e, lists: lists, ai: ai}, dryRun)
	if err != nil {
		return classification.Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	fx := combine(out.Actions(dryRun))

	res := classification.Result{
		MatchedRuleIDs: out.MatchedIDs(),
		TestingRuleIDs: out.TestingIDs(),
		Tags:           fx.tags,
		Workflows:      fx.workflows,
	}
	for _, re := range out.Errors {
		res.RuleErrors = append(res.RuleErrors, classification.RuleError{RuleID: re.RuleID, Message: re.Err.Error()})
		if s.ai != nil && errors.Is(re, domain.ErrClassifierUnavailable) {
			res.Degraded = true
		}
	}

	switch {
	case fx.class != "" && fx.confidence >= s.cfg.Threshold:
		res.FinalClass, res.FinalConfidence, res.Source = fx.class, fx.confidence, classification.SourceRule
	case s.ai != nil:
		pred, err := ai.Predict(ctx)
		if err == nil {
			res.FinalClass, res.FinalConfidence, res.Source = pred.Class, pred.Confidence, classification.SourceAI
			break
		}
		res.Degraded = true
		s.logger.Warn("AI classification unavailable, using rule result",
			zap.String("organization_id", e.OrganizationID),
			zap.String("entity_id", e.ID),
			zap.Error(err),
		)
		fallthrough
	default:
		if fx.class != "" {
			res.FinalClass, res.FinalConfidence, res.Source = fx.class, fx.confidence, classification.SourceRule
		} else {
			res.FinalClass, res.FinalConfidence, res.Source = domain.Unclassified, 0, classification.SourceDefault
		}
	}
	res.AICalled = ai.called

	res.Importance = s.cfg.DefaultImportance
	if fx.hasImportance {
		res.Importance = fx.importance
	}
	res.Priority = fx.priority
	if res.Priority == "" {
		res.Priority = rule.PriorityNormal
	}
	if lists.Has(domainlist.VIP) {
		res.Importance = min(res.Importance+s.cfg.VIPBoost, rule.MaxImportance)
		res.Priority = res.Priority.Raise()
	}

	switch {
	case fx.discard:
		res.Route = classification.RouteDiscard
	case fx.archive:
		res.Route = classification.RouteArchive
	case len(fx.workflows) > 0:
		res.Route = classification.RouteWorkflow
	default:
		res.Route = classification.RouteIndex
	}

	res.AddedToFlow = !fx.discard && len(fx.workflows) > 0
	res.AddedToRAG = !fx.discard && !fx.excludeRAG && (fx.indexToRAG || s.substantive(e))
	return res, nil
}

// predict calls the AI classifier, retrying once with backoff.
func (s *Service) predict(ctx context.Context, e *entity.Entity) (domain.Prediction, error) {
	if s.ai == nil {
		return domain.Prediction{}, domain.ErrClassifierUnavailable
	}
	in := e.ClassifierInput(s.cfg.Categories)
	op := func() (domain.Prediction, error) {
		attemptCtx := ctx
		if s.cfg.AITimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.AITimeout)
			defer cancel()
		}
		p, err := s.ai.Classify(attemptCtx, in)
		if err != nil {
			s.countAI("error")
			return domain.Prediction{}, err
		}
		s.countAI("ok")
		return p, nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.retry(), 1), ctx)
	p, err := backoff.RetryWithData(op, b)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
	}
	return p, nil
}

func (s *Service) substantive(e *entity.Entity) bool {
	n := 0
	for _, r := range e.Content {
		if !unicode.IsSpace(r) {
			n++
			if n >= s.cfg.MinSubstantiveChars {
				return true
			}
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, e entity.Entity, res classification.Result, dryRun bool) {
	if s.metrics.Outcomes != nil {
		s.metrics.Outcomes.WithLabelValues(string(res.Source), string(res.Route)).Inc()
	}
	if res.Degraded && s.metrics.Degraded != nil {
		s.metrics.Degraded.Inc()
	}
	if s.log == nil {
		return
	}
	entry := classification.LogEntry{
		ID:             uuid.NewString(),
		OrganizationID: e.OrganizationID,
		EntityID:       e.ID,
		EntityType:     e.Type,
		Result:         res,
		DryRun:         dryRun,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.log.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append classification log",
			zap.String("organization_id", e.OrganizationID),
			zap.String("entity_id", e.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) countAI(result string) {
	if s.metrics.AICalls != nil {
		s.metrics.AICalls.WithLabelValues(result).Inc()
	}
}
