package classify

import (
	"context"
	"sync"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
	"github.com/kailas-cloud/triage/internal/domain/entity"
)

// predictor memoizes one AI classification per entity. The first caller's
// context bounds the call.
type predictor struct {
	once   sync.Once
	call   func(ctx context.Context) (domain.Prediction, error)
	called bool
	pred   domain.Prediction
	err    error
}

func (p *predictor) Predict(ctx context.Context) (domain.Prediction, error) {
	p.once.Do(func() {
		p.called = true
		p.pred, p.err = p.call(ctx)
	})
	return p.pred, p.err
}

// env adapts an entity to rule evaluation.
type env struct {
	entity *entity.Entity
	lists  domainlist.Membership
	ai     *predictor
}

func (e *env) Text(field string) (string, bool)    { return e.entity.Text(field) }
func (e *env) Number(field string) (float64, bool) { return e.entity.Number(field) }
func (e *env) SearchableText() string              { return e.entity.SearchableText() }
func (e *env) Lists() domainlist.Membership        { return e.lists }

func (e *env) Predict(ctx context.Context) (domain.Prediction, error) {
	return e.ai.Predict(ctx)
}
