// gateway/audit/service_test.go
package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/gateway/audit"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/test/mock"
	"github.com/lattice-hq/gateway/util"
)

func sampleDecision() model.AuthDecision {
	return model.AuthDecision{
		RequestID: "req-1",
		SubjectID: "user-1",
		SessionID: "sess-1",
		Method:    "POST",
		Path:      "/api/v1/members",
		Decision:  model.DecisionGranted,
		At:        time.Unix(1700000000, 0).UTC(),
	}
}

func TestRecordDecisionAssignsDocumentID(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)

	var indexed audit.Record
	repo.On("IndexDecision", tmock.Anything, tmock.MatchedBy(func(rec audit.Record) bool {
		indexed = rec
		return rec.ID != ""
	})).Return(nil)

	err := svc.RecordDecision(context.Background(), sampleDecision())
	require.NoError(t, err)

	assert.Equal(t, "req-1", indexed.RequestID)
	assert.Equal(t, model.DecisionGranted, indexed.Decision)
	repo.AssertExpectations(t)
}

func TestRecordDecisionPropagatesRepositoryError(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)

	repo.On("IndexDecision", tmock.Anything, tmock.Anything).Return(assert.AnError)

	err := svc.RecordDecision(context.Background(), sampleDecision())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestQueryDecisionsPassesThrough(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)

	q := audit.Query{SubjectID: "user-1", Decision: model.DecisionDenied}
	want := []audit.Record{audit.NewRecord(sampleDecision())}
	repo.On("QueryDecisions", tmock.Anything, q).Return(want, nil)

	got, err := svc.QueryDecisions(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAttachIndexesPublishedDecisions(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)
	bus := util.NewEventBus()
	svc.Attach(bus)

	done := make(chan audit.Record, 2)
	repo.On("IndexDecision", tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) {
			done <- args.Get(1).(audit.Record)
		}).
		Return(nil)

	bus.Publish(context.Background(), util.EventAuthGranted, sampleDecision())

	denied := sampleDecision()
	denied.Decision = model.DecisionDenied
	denied.Reason = "rate limited"
	bus.Publish(context.Background(), util.EventAuthDenied, denied)

	outcomes := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case rec := <-done:
			outcomes[rec.Decision] = true
		case <-time.After(2 * time.Second):
			t.Fatal("decision was never indexed")
		}
	}
	assert.True(t, outcomes[model.DecisionGranted])
	assert.True(t, outcomes[model.DecisionDenied])
}

func TestAttachSurvivesRequestCancellation(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)
	bus := util.NewEventBus()
	svc.Attach(bus)

	done := make(chan error, 1)
	repo.On("IndexDecision", tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) {
			done <- args.Get(0).(context.Context).Err()
		}).
		Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, util.EventAuthGranted, sampleDecision())

	select {
	case ctxErr := <-done:
		assert.NoError(t, ctxErr, "index context must not inherit request cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("decision was never indexed")
	}
}

func TestAttachIgnoresForeignPayloads(t *testing.T) {
	repo := new(mock.MockAuditRepository)
	svc := audit.NewService(repo)
	bus := util.NewEventBus()
	svc.Attach(bus)

	done := make(chan struct{}, 1)
	repo.On("IndexDecision", tmock.Anything, tmock.Anything).
		Run(func(tmock.Arguments) { done <- struct{}{} }).
		Return(nil)

	bus.Publish(context.Background(), util.EventAuthGranted, "not a decision")
	bus.Publish(context.Background(), util.EventAuthGranted, sampleDecision())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("well-formed decision was never indexed")
	}
	repo.AssertNumberOfCalls(t, "IndexDecision", 1)
}
