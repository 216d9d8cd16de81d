package rule

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
)

// Env exposes an entity to condition evaluation.
type Env interface {
	// Text returns a text field. The second result is false when the field is absent.
	Text(field string) (string, bool)
	// Number returns a numeric field.
	Number(field string) (float64, bool)
	// SearchableText returns every text field joined, used by field-less keyword conditions.
	SearchableText() string
	// Lists returns the sender's domain-list membership.
	Lists() domainlist.Membership
	// Predict returns the AI classification; implementations memoize it per entity.
	Predict(ctx context.Context) (domain.Prediction, error)
}

// Evaluate reports whether c holds for env. Errors come from the AI call only;
// the caller decides how to degrade.
func Evaluate(ctx context.Context, c Condition, env Env) (bool, error) {
	switch v := c.(type) {
	case FieldEquals:
		got, ok := env.Text(v.Field)
		if !ok {
			return false, nil
		}
		got = strings.TrimSpace(got)
		if v.CaseSensitive {
			return got == v.Value, nil
		}
		return strings.EqualFold(got, v.Value), nil

	case FieldContains:
		got, ok := env.Text(v.Field)
		if !ok {
			return false, nil
		}
		return strings.Contains(strings.ToLower(got), strings.ToLower(v.Value)), nil

	case FieldMatchesRegex:
		got, ok := env.Text(v.Field)
		if !ok {
			return false, nil
		}
		return v.Pattern.MatchString(got), nil

	case NumericThreshold:
		got, ok := env.Number(v.Field)
		if !ok {
			return false, nil
		}
		return compare(got, v.Op, v.Value), nil

	case KeywordsAny:
		var text string
		if v.Field == "" {
			text = env.SearchableText()
		} else {
			var ok bool
			if text, ok = env.Text(v.Field); !ok {
				return false, nil
			}
		}
		for _, k := range v.Keywords {
			if keyword.ContainsPhrase(text, k) {
				return true, nil
			}
		}
		return false, nil

	case DomainListed:
		return env.Lists().Has(v.List), nil

	case AIClass:
		p, err := env.Predict(ctx)
		if err != nil {
			return false, err
		}
		return strings.EqualFold(p.Class, v.Class) && p.Confidence >= v.MinConfidence, nil

	case All:
		for _, child := range v.Conditions {
			ok, err := Evaluate(ctx, child, env)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Any:
		for _, child := range v.Conditions {
			ok, err := Evaluate(ctx, child, env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Not:
		ok, err := Evaluate(ctx, v.Condition, env)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("unsupported condition %T", c)
	}
}

func compare(got float64, op string, want float64) bool {
	switch op {
	case OpGT:
		return got > want
	case OpGTE:
		return got >= want
	case OpLT:
		return got < want
	case OpLTE:
		return got <= want
	case OpEQ:
		return got == want
	default:
		return false
	}
}
