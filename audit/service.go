// gateway/audit/service.go
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/util"
)

// indexTimeout bounds a single trail write once it is off the request path.
const indexTimeout = 5 * time.Second

// Service records authorization decisions and serves trail queries. Attach
// hooks it onto the event bus so recording happens off the request path.
type Service interface {
	RecordDecision(ctx context.Context, decision model.AuthDecision) error
	QueryDecisions(ctx context.Context, q Query) ([]Record, error)
	Attach(bus *util.EventBus)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) RecordDecision(ctx context.Context, decision model.AuthDecision) error {
	return s.repo.IndexDecision(ctx, NewRecord(decision))
}

func (s *service) QueryDecisions(ctx context.Context, q Query) ([]Record, error) {
	return s.repo.QueryDecisions(ctx, q)
}

// Attach subscribes the trail to decision events. The handler detaches from
// the request context before indexing so a written response cannot cancel
// the write mid-flight.
func (s *service) Attach(bus *util.EventBus) {
	record := func(ctx context.Context, event util.Event) error {
		decision, ok := event.Payload.(model.AuthDecision)
		if !ok {
			return fmt.Errorf("audit: unexpected payload %T on %s", event.Payload, event.Type)
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
		defer cancel()
		return s.RecordDecision(ctx, decision)
	}
	bus.Subscribe(util.EventAuthGranted, record)
	bus.Subscribe(util.EventAuthDenied, record)
}
