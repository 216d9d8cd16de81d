package classify

import "github.com/kailas-cloud/triage/internal/domain/rule"

// effects is the additive combination of matched rule actions.
type effects struct {
	class         string
	confidence    float64
	priority      rule.Priority
	importance    int
	hasImportance bool
	tags          []string
	workflows     []string
	indexToRAG    bool
	excludeRAG    bool
	archive       bool
	discard       bool
}

// combine folds actions in evaluation order. The highest set_class
// confidence wins with ties going to the earlier rule; priority and
// importance take their maximum; tags and workflows are de-duplicated in
// first-seen order.
func combine(actions []rule.Action) effects {
	var e effects
	seenTag := map[string]bool{}
	seenWF := map[string]bool{}
	for _, a := range actions {
		switch v := a.(type) {
		case rule.SetClass:
			if e.class == "" || v.Confidence > e.confidence {
				e.class, e.confidence = v.Class, v.Confidence
			}
		case rule.SetPriority:
			if v.Priority.Rank() > e.priority.Rank() {
				e.priority = v.Priority
			}
		case rule.SetImportance:
			if !e.hasImportance || v.Importance > e.importance {
				e.importance, e.hasImportance = v.Importance, true
			}
		case rule.AddTag:
			if !seenTag[v.Tag] {
				seenTag[v.Tag] = true
				e.tags = append(e.tags, v.Tag)
			}
		case rule.RouteToWorkflow:
			if !seenWF[v.Workflow] {
				seenWF[v.Workflow] = true
				e.workflows = append(e.workflows, v.Workflow)
			}
		case rule.IndexToRAG:
			e.indexToRAG = true
		case rule.ExcludeFromRAG:
			e.excludeRAG = true
		case rule.Archive:
			e.archive = true
		case rule.Discard:
			e.discard = true
		}
	}
	return e
}
