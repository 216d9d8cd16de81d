// Package rule models per-organization classification rules: their stored
// condition/action documents, compiled forms and evaluation.
package rule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kailas-cloud/triage/internal/domain"
)

// Status of a rule.
type Status string

// Rule statuses. TESTING rules are evaluated and counted but their actions
// are never applied.
const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusTesting  Status = "TESTING"
)

// ParseStatus validates a status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive, StatusTesting:
		return st, nil
	default:
		return "", fmt.Errorf("unknown rule status %q", s)
	}
}

// Evaluated reports whether rules with this status take part in evaluation.
func (s Status) Evaluated() bool {
	return s == StatusActive || s == StatusTesting
}

// Stats are evaluation counters.
type Stats struct {
	Executions int64 `json:"execution_count"`
	Successes  int64 `json:"success_count"`
	Errors     int64 `json:"error_count"`
}

// StatsDelta is an increment applied to a rule's Stats.
type StatsDelta struct {
	RuleID     string
	Executions int64
	Successes  int64
	Errors     int64
}

// Rule is a stored rule. Conditions and actions are kept as raw documents and
// compiled on use so that a stored document that no longer compiles fails only
// its own evaluation.
type Rule struct {
	id             string
	organizationID string
	name           string
	category       string
	priority       int
	status         Status
	conditions     json.RawMessage
	actions        json.RawMessage
	stats          Stats
	sequence       int64
	createdAt      time.Time
	updatedAt      time.Time
}

// Params are the operator-editable attributes of a rule.
type Params struct {
	Name       string
	Category   string
	Priority   int
	Status     Status
	Conditions json.RawMessage
	Actions    json.RawMessage
}

// New validates params and creates a rule. Documents are checked against the
// JSON schemas and compiled; failures wrap domain.ErrInvalidRule.
func New(id, organizationID string, p Params, now time.Time) (Rule, error) {
	if id == "" {
		return Rule{}, fmt.Errorf("%w: rule id is required", domain.ErrInvalidRule)
	}
	if organizationID == "" {
		return Rule{}, domain.ErrTenantRequired
	}
	r := Rule{
		id:             id,
		organizationID: organizationID,
		createdAt:      now.UTC(),
		updatedAt:      now.UTC(),
	}
	if err := r.apply(p); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Update returns a copy of r with params applied. Stats and creation order are kept.
func (r Rule) Update(p Params, now time.Time) (Rule, error) {
	if err := r.apply(p); err != nil {
		return Rule{}, err
	}
	r.updatedAt = now.UTC()
	return r, nil
}

func (r *Rule) apply(p Params) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidRule)
	}
	status := p.Status
	if status == "" {
		status = StatusActive
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	if err := ValidateDocuments(p.Conditions, p.Actions); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	if _, err := Compile(p.Conditions, p.Actions); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	r.name = name
	r.category = strings.TrimSpace(p.Category)
	r.priority = p.Priority
	r.status = status
	r.conditions = compact(p.Conditions)
	r.actions = compact(p.Actions)
	return nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// Reconstruct rebuilds a rule from storage without validation.
func Reconstruct(
	id, organizationID, name, category string,
	priority int, status Status,
	conditions, actions json.RawMessage,
	stats Stats, sequence int64,
	createdAt, updatedAt time.Time,
) Rule {
	return Rule{
		id:             id,
		organizationID: organizationID,
		name:           name,
		category:       category,
		priority:       priority,
		status:         status,
		conditions:     conditions,
		actions:        actions,
		stats:          stats,
		sequence:       sequence,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// ID returns the rule id.
func (r Rule) ID() string { return r.id }

// OrganizationID returns the owning organization.
func (r Rule) OrganizationID() string { return r.organizationID }

// Name returns the display name.
func (r Rule) Name() string { return r.name }

// Category returns the free-form category.
func (r Rule) Category() string { return r.category }

// Priority returns the evaluation priority; lower runs first.
func (r Rule) Priority() int { return r.priority }

// Status returns the rule status.
func (r Rule) Status() Status { return r.status }

// Conditions returns the stored trigger condition document.
func (r Rule) Conditions() json.RawMessage { return r.conditions }

// Actions returns the stored action list document.
func (r Rule) Actions() json.RawMessage { return r.actions }

// Stats returns evaluation counters.
func (r Rule) Stats() Stats { return r.stats }

// Sequence returns the insertion sequence number used to break priority ties.
func (r Rule) Sequence() int64 { return r.sequence }

// CreatedAt returns the creation time.
func (r Rule) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last modification time.
func (r Rule) UpdatedAt() time.Time { return r.updatedAt }

// WithSequence returns a copy carrying the store-assigned sequence.
func (r Rule) WithSequence(seq int64) Rule {
	r.sequence = seq
	return r
}

// Compiled is a rule's executable form.
type Compiled struct {
	Condition Condition
	Actions   []Action
}

// Compile decodes and compiles condition and action documents.
func Compile(conditions, actions json.RawMessage) (Compiled, error) {
	c, err := CompileCondition(conditions)
	if err != nil {
		return Compiled{}, err
	}
	a, err := CompileActions(actions)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{Condition: c, Actions: a}, nil
}

// Sort orders rules for evaluation: ascending priority, then creation time,
// then insertion sequence, then id.
func Sort(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		if a.sequence != b.sequence {
			return a.sequence < b.sequence
		}
		return a.id < b.id
	})
}
