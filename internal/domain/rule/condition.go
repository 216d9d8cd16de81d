package rule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// Condition kinds as they appear in stored documents.
const (
	KindFieldEquals       = "field_equals"
	KindFieldContains     = "field_contains"
	KindFieldMatchesRegex = "field_matches_regex"
	KindNumericThreshold  = "numeric_threshold"
	KindKeywordsAny       = "keywords_any"
	KindDomainListed      = "domain_listed"
	KindAIClass           = "ai_class"
	KindAll               = "all"
	KindAny               = "any"
	KindNot               = "not"
)

// maxConditionDepth bounds nesting of composite conditions.
const maxConditionDepth = 8

// Condition is a compiled trigger predicate. The set of implementations is
// closed: FieldEquals, FieldContains, FieldMatchesRegex, NumericThreshold,
// KeywordsAny, DomainListed, AIClass, All, Any and Not.
type Condition interface {
	Kind() string
	condition()
}

// FieldEquals matches a text field exactly, case-insensitive unless CaseSensitive.
type FieldEquals struct {
	Field         string
	Value         string
	CaseSensitive bool
}

// FieldContains matches when the field contains Value, case-insensitive.
type FieldContains struct {
	Field string
	Value string
}

// FieldMatchesRegex matches a text field against a compiled expression.
type FieldMatchesRegex struct {
	Field   string
	Pattern *regexp.Regexp
}

// Comparison operators for NumericThreshold.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
)

// NumericThreshold compares a numeric field with Value. A missing field never matches.
type NumericThreshold struct {
	Field string
	Op    string
	Value float64
}

// KeywordsAny matches when any keyword occurs as a token of Field
// (all text fields when Field is empty).
type KeywordsAny struct {
	Field    string
	Keywords []string
}

// DomainListed matches when the sender domain is on List.
type DomainListed struct {
	List domainlist.ListType
}

// AIClass matches when the AI classifier returns Class with at least MinConfidence.
type AIClass struct {
	Class         string
	MinConfidence float64
}

// All matches when every child matches. An empty All matches.
type All struct{ Conditions []Condition }

// Any matches when at least one child matches. An empty Any never matches.
type Any struct{ Conditions []Condition }

// Not negates its child.
type Not struct{ Condition Condition }

func (FieldEquals) Kind() string       { return KindFieldEquals }
func (FieldContains) Kind() string     { return KindFieldContains }
func (FieldMatchesRegex) Kind() string { return KindFieldMatchesRegex }
func (NumericThreshold) Kind() string  { return KindNumericThreshold }
func (KeywordsAny) Kind() string       { return KindKeywordsAny }
func (DomainListed) Kind() string      { return KindDomainListed }
func (AIClass) Kind() string           { return KindAIClass }
func (All) Kind() string               { return KindAll }
func (Any) Kind() string               { return KindAny }
func (Not) Kind() string               { return KindNot }

func (FieldEquals) condition()       {}
func (FieldContains) condition()     {}
func (FieldMatchesRegex) condition() {}
func (NumericThreshold) condition()  {}
func (KeywordsAny) condition()       {}
func (DomainListed) condition()      {}
func (AIClass) condition()           {}
func (All) condition()               {}
func (Any) condition()               {}
func (Not) condition()               {}

// conditionDoc is the stored JSON shape of every condition kind.
type conditionDoc struct {
	Kind          string            `json:"kind"`
	Field         string            `json:"field,omitempty"`
	Value         json.RawMessage   `json:"value,omitempty"`
	CaseSensitive bool              `json:"case_sensitive,omitempty"`
	Pattern       string            `json:"pattern,omitempty"`
	Op            string            `json:"op,omitempty"`
	Keywords      []string          `json:"keywords,omitempty"`
	List          string            `json:"list,omitempty"`
	Class         string            `json:"class,omitempty"`
	MinConfidence *float64          `json:"min_confidence,omitempty"`
	Conditions    []json.RawMessage `json:"conditions,omitempty"`
	Condition     json.RawMessage   `json:"condition,omitempty"`
}

// CompileCondition decodes and compiles a condition document.
func CompileCondition(raw json.RawMessage) (Condition, error) {
	return compileCondition(raw, 0)
}

func compileCondition(raw json.RawMessage, depth int) (Condition, error) {
	if depth > maxConditionDepth {
		return nil, fmt.Errorf("conditions nested deeper than %d", maxConditionDepth)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("condition is required")
	}
	var d conditionDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	switch d.Kind {
	case KindFieldEquals, KindFieldContains:
		if d.Field == "" {
			return nil, fmt.Errorf("%s: field is required", d.Kind)
		}
		v, err := stringValue(d.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind, err)
		}
		if d.Kind == KindFieldEquals {
			return FieldEquals{Field: d.Field, Value: v, CaseSensitive: d.CaseSensitive}, nil
		}
		if v == "" {
			return nil, fmt.Errorf("%s: value must not be empty", d.Kind)
		}
		return FieldContains{Field: d.Field, Value: v}, nil

	case KindFieldMatchesRegex:
		if d.Field == "" {
			return nil, fmt.Errorf("%s: field is required", d.Kind)
		}
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind, err)
		}
		return FieldMatchesRegex{Field: d.Field, Pattern: re}, nil

	case KindNumericThreshold:
		if d.Field == "" {
			return nil, fmt.Errorf("%s: field is required", d.Kind)
		}
		switch d.Op {
		case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		default:
			return nil, fmt.Errorf("%s: unknown op %q", d.Kind, d.Op)
		}
		var v float64
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return nil, fmt.Errorf("%s: value must be a number", d.Kind)
		}
		return NumericThreshold{Field: d.Field, Op: d.Op, Value: v}, nil

	case KindKeywordsAny:
		kws := make([]string, 0, len(d.Keywords))
		for _, k := range d.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("%s: keywords are required", d.Kind)
		}
		return KeywordsAny{Field: d.Field, Keywords: kws}, nil

	case KindDomainListed:
		lt, err := domainlist.ParseListType(d.List)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind, err)
		}
		return DomainListed{List: lt}, nil

	case KindAIClass:
		if d.Class == "" {
			return nil, fmt.Errorf("%s: class is required", d.Kind)
		}
		minConf := 0.0
		if d.MinConfidence != nil {
			minConf = *d.MinConfidence
		}
		if minConf < 0 || minConf > 1 {
			return nil, fmt.Errorf("%s: min_confidence must be within [0,1]", d.Kind)
		}
		return AIClass{Class: strings.ToLower(d.Class), MinConfidence: minConf}, nil

	case KindAll, KindAny:
		children := make([]Condition, 0, len(d.Conditions))
		for i, c := range d.Conditions {
			child, err := compileCondition(c, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", d.Kind, i, err)
			}
			children = append(children, child)
		}
		if d.Kind == KindAll {
			return All{Conditions: children}, nil
		}
		return Any{Conditions: children}, nil

	case KindNot:
		child, err := compileCondition(d.Condition, depth+1)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Condition: child}, nil

	case "":
		return nil, fmt.Errorf("condition kind is required")
	default:
		return nil, fmt.Errorf("unknown condition kind %q", d.Kind)
	}
}

// stringValue accepts JSON strings, numbers and booleans as text.
func stringValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("value is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode value: %w", err)
	}
	switch v.(type) {
	case float64, bool:
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", fmt.Errorf("value must be a scalar")
	}
}

// UsesAI reports whether evaluating c may need an AI classification.
func UsesAI(c Condition) bool {
	switch v := c.(type) {
	case AIClass:
		return true
	case All:
		for _, child := range v.Conditions {
			if UsesAI(child) {
				return true
			}
		}
	case Any:
		for _, child := range v.Conditions {
			if UsesAI(child) {
				return true
			}
		}
	case Not:
		return UsesAI(v.Condition)
	}
	return false
}
