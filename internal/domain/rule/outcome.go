package rule

import "github.com/kailas-cloud/triage/internal/domain"

// Match is a rule whose conditions held.
type Match struct {
	RuleID  string
	Status  Status
	Actions []Action
}

// Outcome is the result of evaluating an organization's rules against one entity.
type Outcome struct {
	// Matched lists ACTIVE rules that matched, in evaluation order.
	Matched []Match
	// Testing lists TESTING rules that matched. Their actions are never applied.
	Testing []Match
	// Errors lists rules that were skipped.
	Errors []*domain.RuleEvaluationError
	// Evaluated counts rules that took part in evaluation.
	Evaluated int
}

// MatchedIDs returns the ids of matched ACTIVE rules.
func (o Outcome) MatchedIDs() []string {
	return ids(o.Matched)
}

// TestingIDs returns the ids of matched TESTING rules.
func (o Outcome) TestingIDs() []string {
	return ids(o.Testing)
}

// Actions returns the accumulated actions of matched ACTIVE rules, and
// additionally of TESTING rules when includeTesting is set.
func (o Outcome) Actions(includeTesting bool) []Action {
	var out []Action
	for _, m := range o.Matched {
		out = append(out, m.Actions...)
	}
	if includeTesting {
		for _, m := range o.Testing {
			out = append(out, m.Actions...)
		}
	}
	return out
}

func ids(ms []Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.RuleID)
	}
	return out
}
