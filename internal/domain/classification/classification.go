// Package classification holds the outcome of classifying one entity.
package classification

import (
	"time"

	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// Route is what happens to an entity after classification.
type Route string

// Routes, in precedence order: discard > archive > workflow > index.
const (
	RouteIndex    Route = "index"
	RouteWorkflow Route = "workflow"
	RouteArchive  Route = "archive"
	RouteDiscard  Route = "discard"
)

// Source names the component that decided the final class.
type Source string

// Class sources.
const (
	SourceRule      Source = "rule"
	SourceAI        Source = "ai"
	SourceBlacklist Source = "blacklist"
	SourceDefault   Source = "default"
)

// RuleError is a rule that was skipped during evaluation.
type RuleError struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// Result is the classification decision for one entity.
type Result struct {
	FinalClass      string        `json:"final_class"`
	FinalConfidence float64       `json:"final_confidence"`
	MatchedRuleIDs  []string      `json:"matched_rule_ids"`
	TestingRuleIDs  []string      `json:"testing_rule_ids,omitempty"`
	AddedToRAG      bool          `json:"added_to_rag"`
	AddedToFlow     bool          `json:"added_to_flow"`
	Route           Route         `json:"route"`
	Degraded        bool          `json:"degraded"`
	Importance      int           `json:"importance"`
	Priority        rule.Priority `json:"priority"`
	Tags            []string      `json:"tags,omitempty"`
	Workflows       []string      `json:"workflows,omitempty"`
	Source          Source        `json:"source"`
	AICalled        bool          `json:"ai_called"`
	RuleErrors      []RuleError   `json:"rule_errors,omitempty"`
}

// Discarded reports whether the entity must not be kept anywhere.
func (r Result) Discarded() bool { return r.Route == RouteDiscard }

// LogEntry is a persisted classification, listable per organization.
type LogEntry struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	EntityID       string    `json:"entity_id"`
	EntityType     string    `json:"entity_type"`
	Result         Result    `json:"result"`
	DryRun         bool      `json:"dry_run"`
	CreatedAt      time.Time `json:"created_at"`
}
