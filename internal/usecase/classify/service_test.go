package classify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/rule"
	"github.com/kailas-cloud/triage/internal/usecase/rules"
)

// --- Mocks ---

type mockLists struct {
	membership domainlist.Membership
	err        error
}

func (m *mockLists) Lookup(context.Context, string, string) (domainlist.Membership, error) {
	return m.membership, m.err
}

type mockAI struct {
	pred  domain.Prediction
	err   error
	calls int
}

func (m *mockAI) Classify(context.Context, domain.ClassifierInput) (domain.Prediction, error) {
	m.calls++
	return m.pred, m.err
}

type mockLog struct {
	entries []classification.LogEntry
	err     error
}

func (m *mockLog) Append(_ context.Context, e classification.LogEntry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func (m *mockLog) List(context.Context, string, int) ([]classification.LogEntry, error) {
	return m.entries, nil
}

type ruleRepo struct {
	rules  []rule.Rule
	deltas []rule.StatsDelta
}

func (r *ruleRepo) Create(_ context.Context, x rule.Rule) (rule.Rule, error) {
	x = x.WithSequence(int64(len(r.rules) + 1))
	r.rules = append(r.rules, x)
	return x, nil
}

func (r *ruleRepo) Get(context.Context, string, string) (rule.Rule, error) {
	return rule.Rule{}, domain.ErrNotFound
}

func (r *ruleRepo) Update(context.Context, rule.Rule) error           { return nil }
func (r *ruleRepo) Delete(context.Context, string, string) error      { return nil }
func (r *ruleRepo) List(context.Context, string) ([]rule.Rule, error) { return r.rules, nil }

func (r *ruleRepo) ApplyStats(_ context.Context, _ string, d []rule.StatsDelta) error {
	r.deltas = append(r.deltas, d...)
	return nil
}

// --- Helpers ---

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func addRule(t *testing.T, repo *ruleRepo, name string, prio int, status rule.Status, cond, actions string) rule.Rule {
	t.Helper()
	r, err := rule.New(name, "acme", rule.Params{
		Name:       name,
		Priority:   prio,
		Status:     status,
		Conditions: json.RawMessage(cond),
		Actions:    json.RawMessage(actions),
	}, now)
	if err != nil {
		t.Fatalf("rule %s: %v", name, err)
	}
	r, _ = repo.Create(context.Background(), r)
	return r
}

func offerEmail() entity.Entity {
	return entity.Entity{
		ID:             "mail-1",
		OrganizationID: "acme",
		Type:           entity.TypeEmail,
		Sender:         "Anna <anna@client.com>",
		Subject:        "Zapytanie ofertowe: tuby kartonowe",
		Content:        "Prosimy o wycenę 5000 sztuk tub kartonowych z nadrukiem do końca miesiąca.",
	}
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newService(lists *mockLists, repo *ruleRepo, opts ...Option) *Service {
	engine := rules.New(repo, rules.WithClock(func() time.Time { return now }))
	opts = append([]Option{WithRetryBackOff(noWait)}, opts...)
	return New(lists, engine, opts...)
}

// --- Tests ---

func TestClassify_BlacklistShortCircuits(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "r1", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["wycenę"]}`, `[{"kind":"set_class","class":"offer","confidence":0.9}]`)
	ai := &mockAI{pred: domain.Prediction{Class: "offer", Confidence: 0.9}}
	log := &mockLog{}
	svc := newService(&mockLists{membership: domainlist.Membership{domainlist.Blacklist: true}}, repo,
		WithAI(ai), WithLog(log))

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalClass != BlacklistedClass || res.Route != classification.RouteDiscard || res.Source != classification.SourceBlacklist {
		t.Errorf("unexpected result %+v", res)
	}
	if res.AddedToRAG || res.AddedToFlow {
		t.Error("blacklisted content must not be indexed or routed")
	}
	if ai.calls != 0 || len(repo.deltas) != 0 {
		t.Errorf("no AI call or rule evaluation expected: calls=%d deltas=%d", ai.calls, len(repo.deltas))
	}
	if len(log.entries) != 1 {
		t.Errorf("expected one log entry, got %d", len(log.entries))
	}
}

func TestClassify_ConfidentRuleSkipsAI(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "offer", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["wycenę"]}`,
		`[{"kind":"set_class","class":"offer","confidence":0.9},{"kind":"set_priority","priority":"high"},{"kind":"add_tag","tag":"sales"}]`)
	ai := &mockAI{pred: domain.Prediction{Class: "spam", Confidence: 0.99}}
	svc := newService(&mockLists{}, repo, WithAI(ai))

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalClass != "offer" || res.Source != classification.SourceRule || res.FinalConfidence != 0.9 {
		t.Errorf("unexpected class %+v", res)
	}
	if ai.calls != 0 || res.AICalled {
		t.Error("AI must not be called when a rule is confident")
	}
	if res.Priority != rule.PriorityHigh || res.Route != classification.RouteIndex || !res.AddedToRAG {
		t.Errorf("unexpected routing %+v", res)
	}
	if len(res.Tags) != 1 || res.Tags[0] != "sales" {
		t.Errorf("tags = %v", res.Tags)
	}
}

func TestClassify_LowConfidenceFallsBackToAI(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "weak", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"inquiry","confidence":0.4}]`)
	ai := &mockAI{pred: domain.Prediction{Class: "offer", Confidence: 0.8}}
	svc := newService(&mockLists{}, repo, WithAI(ai))

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalClass != "offer" || res.Source != classification.SourceAI || !res.AICalled {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClassify_AIConditionCalledOnce(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "a", 1, rule.StatusActive, `{"kind":"ai_class","class":"offer"}`, `[{"kind":"add_tag","tag":"a"}]`)
	addRule(t, repo, "b", 2, rule.StatusActive, `{"kind":"ai_class","class":"offer","min_confidence":0.5}`, `[{"kind":"add_tag","tag":"b"}]`)
	ai := &mockAI{pred: domain.Prediction{Class: "offer", Confidence: 0.7}}
	svc := newService(&mockLists{}, repo, WithAI(ai))

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ai.calls != 1 {
		t.Errorf("AI calls = %d, want 1", ai.calls)
	}
	if len(res.MatchedRuleIDs) != 2 || res.FinalClass != "offer" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClassify_AIFailureDegrades(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "weak", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"inquiry","confidence":0.4}]`)
	ai := &mockAI{err: errors.New("upstream 503")}
	svc := newService(&mockLists{}, repo, WithAI(ai))

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("AI failure must not fail classification: %v", err)
	}
	if !res.Degraded || res.FinalClass != "inquiry" || res.Source != classification.SourceRule {
		t.Errorf("unexpected result %+v", res)
	}
	if ai.calls != 2 {
		t.Errorf("AI calls = %d, want one retry", ai.calls)
	}
}

func TestClassify_NoAIDefaults(t *testing.T) {
	svc := newService(&mockLists{}, &ruleRepo{})
	e := offerEmail()
	e.Content = "ok"
	e.Subject = ""

	res, err := svc.Classify(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalClass != domain.Unclassified || res.Source != classification.SourceDefault || res.Degraded {
		t.Errorf("unexpected result %+v", res)
	}
	if res.AddedToRAG {
		t.Error("short content must not be indexed without index_to_rag")
	}
	if res.Importance != DefaultConfig().DefaultImportance || res.Priority != rule.PriorityNormal {
		t.Errorf("unexpected defaults %+v", res)
	}
}

func TestClassify_VIPBoost(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "imp", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_importance","importance":9}]`)
	svc := newService(&mockLists{membership: domainlist.Membership{domainlist.VIP: true}}, repo)

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Importance != rule.MaxImportance {
		t.Errorf("importance = %d, want capped at %d", res.Importance, rule.MaxImportance)
	}
	if res.Priority != rule.PriorityHigh {
		t.Errorf("priority = %q, want raised to high", res.Priority)
	}
}

func TestClassify_RoutePrecedence(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "wf", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"route_to_workflow","workflow":"sales-intake"},{"kind":"index_to_rag"}]`)
	addRule(t, repo, "arch", 2, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"archive"}]`)
	svc := newService(&mockLists{}, repo)

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Route != classification.RouteArchive {
		t.Errorf("route = %q, want archive", res.Route)
	}
	if !res.AddedToFlow || !res.AddedToRAG {
		t.Errorf("workflow and RAG flags expected: %+v", res)
	}

	addRule(t, repo, "drop", 3, rule.StatusActive, `{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"discard"}]`)
	res, err = svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Route != classification.RouteDiscard || res.AddedToFlow || res.AddedToRAG {
		t.Errorf("discard must win: %+v", res)
	}
}

func TestClassify_SetClassHighestConfidenceWins(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "first", 1, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"inquiry","confidence":0.8}]`)
	addRule(t, repo, "second", 2, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"offer","confidence":0.95}]`)
	addRule(t, repo, "tie", 3, rule.StatusActive,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"order","confidence":0.95}]`)
	svc := newService(&mockLists{}, repo)

	res, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalClass != "offer" {
		t.Errorf("class = %q, want offer", res.FinalClass)
	}
}

func TestTest_DryRunAppliesTestingRules(t *testing.T) {
	repo := &ruleRepo{}
	addRule(t, repo, "trial", 1, rule.StatusTesting,
		`{"kind":"keywords_any","keywords":["tub"]}`, `[{"kind":"set_class","class":"offer","confidence":0.9}]`)
	log := &mockLog{}
	svc := newService(&mockLists{}, repo, WithLog(log))

	live, err := svc.Classify(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if live.FinalClass == "offer" || len(live.TestingRuleIDs) != 1 {
		t.Errorf("TESTING rule must not apply in live mode: %+v", live)
	}

	dry, err := svc.Test(context.Background(), offerEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dry.FinalClass != "offer" {
		t.Errorf("dry run should include TESTING actions: %+v", dry)
	}
	if len(log.entries) != 2 || !log.entries[1].DryRun {
		t.Errorf("expected dry-run log entry, got %+v", log.entries)
	}
}

func TestClassify_LogFailureIsNotFatal(t *testing.T) {
	svc := newService(&mockLists{}, &ruleRepo{}, WithLog(&mockLog{err: errors.New("disk full")}))
	if _, err := svc.Classify(context.Background(), offerEmail()); err != nil {
		t.Fatalf("log failure must not fail classification: %v", err)
	}
}

func TestClassify_Errors(t *testing.T) {
	svc := newService(&mockLists{}, &ruleRepo{})
	e := offerEmail()
	e.OrganizationID = ""
	if _, err := svc.Classify(context.Background(), e); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}

	svc = newService(&mockLists{err: errors.New("db down")}, &ruleRepo{})
	if _, err := svc.Classify(context.Background(), offerEmail()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("expected lookup error, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	log := &mockLog{entries: []classification.LogEntry{{ID: "1", OrganizationID: "acme"}}}
	svc := newService(&mockLists{}, &ruleRepo{}, WithLog(log))
	got, err := svc.History(context.Background(), "acme", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
	if _, err := svc.History(context.Background(), "", 10); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}
}
