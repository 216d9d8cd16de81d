package rule

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action kinds as they appear in stored documents.
const (
	KindSetClass        = "set_class"
	KindSetPriority     = "set_priority"
	KindSetImportance   = "set_importance"
	KindAddTag          = "add_tag"
	KindRouteToWorkflow = "route_to_workflow"
	KindIndexToRAG      = "index_to_rag"
	KindExcludeFromRAG  = "exclude_from_rag"
	KindArchive         = "archive"
	KindDiscard         = "discard"
)

// MaxImportance is the upper bound of the importance scale.
const MaxImportance = 10

// Priority levels, ordered by urgency.
type Priority string

// Supported priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// Raise returns the priority one level up, saturating at urgent.
func (p Priority) Raise() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal, "":
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

// Action is a compiled rule effect. The set of implementations is closed.
type Action interface {
	Kind() string
	action()
}

// SetClass asserts a class with a confidence in [0,1].
type SetClass struct {
	Class      string
	Confidence float64
}

// SetPriority sets the routing priority.
type SetPriority struct{ Priority Priority }

// SetImportance sets stored importance in [0, MaxImportance].
type SetImportance struct{ Importance int }

// AddTag attaches a tag.
type AddTag struct{ Tag string }

// RouteToWorkflow hands the entity to a named workflow.
type RouteToWorkflow struct{ Workflow string }

// IndexToRAG forces indexing regardless of content size.
type IndexToRAG struct{}

// ExcludeFromRAG prevents indexing.
type ExcludeFromRAG struct{}

// Archive routes the entity to the archive.
type Archive struct{}

// Discard drops the entity and any indexed records.
type Discard struct{}

func (SetClass) Kind() string        { return KindSetClass }
func (SetPriority) Kind() string     { return KindSetPriority }
func (SetImportance) Kind() string   { return KindSetImportance }
func (AddTag) Kind() string          { return KindAddTag }
func (RouteToWorkflow) Kind() string { return KindRouteToWorkflow }
func (IndexToRAG) Kind() string      { return KindIndexToRAG }
func (ExcludeFromRAG) Kind() string  { return KindExcludeFromRAG }
func (Archive) Kind() string         { return KindArchive }
func (Discard) Kind() string         { return KindDiscard }

func (SetClass) action()        {}
func (SetPriority) action()     {}
func (SetImportance) action()   {}
func (AddTag) action()          {}
func (RouteToWorkflow) action() {}
func (IndexToRAG) action()      {}
func (ExcludeFromRAG) action()  {}
func (Archive) action()         {}
func (Discard) action()         {}

type actionDoc struct {
	Kind       string   `json:"kind"`
	Class      string   `json:"class,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Importance *int     `json:"importance,omitempty"`
	Tag        string   `json:"tag,omitempty"`
	Workflow   string   `json:"workflow,omitempty"`
}

// CompileActions decodes and compiles an action list document.
func CompileActions(raw json.RawMessage) ([]Action, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("actions are required")
	}
	var docs []actionDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("at least one action is required")
	}
	out := make([]Action, 0, len(docs))
	for i, d := range docs {
		a, err := compileAction(d)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func compileAction(d actionDoc) (Action, error) {
	switch d.Kind {
	case KindSetClass:
		class := strings.ToLower(strings.TrimSpace(d.Class))
		if class == "" {
			return nil, fmt.Errorf("%s: class is required", d.Kind)
		}
		conf := 1.0
		if d.Confidence != nil {
			conf = *d.Confidence
		}
		if conf < 0 || conf > 1 {
			return nil, fmt.Errorf("%s: confidence must be within [0,1]", d.Kind)
		}
		return SetClass{Class: class, Confidence: conf}, nil
	case KindSetPriority:
		p := Priority(strings.ToLower(strings.TrimSpace(d.Priority)))
		if p.Rank() == 0 {
			return nil, fmt.Errorf("%s: unknown priority %q", d.Kind, d.Priority)
		}
		return SetPriority{Priority: p}, nil
	case KindSetImportance:
		if d.Importance == nil {
			return nil, fmt.Errorf("%s: importance is required", d.Kind)
		}
		if *d.Importance < 0 || *d.Importance > MaxImportance {
			return nil, fmt.Errorf("%s: importance must be within [0,%d]", d.Kind, MaxImportance)
		}
		return SetImportance{Importance: *d.Importance}, nil
	case KindAddTag:
		tag := strings.ToLower(strings.TrimSpace(d.Tag))
		if tag == "" || strings.Contains(tag, ",") {
			return nil, fmt.Errorf("%s: tag must be non-empty and contain no commas", d.Kind)
		}
		return AddTag{Tag: tag}, nil
	case KindRouteToWorkflow:
		wf := strings.TrimSpace(d.Workflow)
		if wf == "" {
			return nil, fmt.Errorf("%s: workflow is required", d.Kind)
		}
		return RouteToWorkflow{Workflow: wf}, nil
	case KindIndexToRAG:
		return IndexToRAG{}, nil
	case KindExcludeFromRAG:
		return ExcludeFromRAG{}, nil
	case KindArchive:
		return Archive{}, nil
	case KindDiscard:
		return Discard{}, nil
	case "":
		return nil, fmt.Errorf("action kind is required")
	default:
		return nil, fmt.Errorf("unknown action kind %q", d.Kind)
	}
}
