package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
)

func TestFulfillmentRequeueJobEmitsDispatch(t *testing.T) {
	orderA := uuid.New()
	orderB := uuid.New()
	repo := &fakeStaleFulfillmentRepo{stale: []models.FulfillmentRequest{
		{ID: uuid.New(), OrderID: orderA, Status: enums.FulfillmentStatusSubmitted},
		{ID: uuid.New(), OrderID: orderB, Status: enums.FulfillmentStatusSubmitted},
	}}
	emitter := &fakeRequeueEmitter{}
	job := newFulfillmentRequeueJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 dispatch events, got %d", len(emitter.events))
	}
	for _, event := range emitter.events {
		if event.EventType != enums.EventFulfillmentDispatch {
			t.Fatalf("unexpected event type %s", event.EventType)
		}
	}
	if repo.updated != 2 {
		t.Fatalf("next_attempt_at not pushed for all rows: %d", repo.updated)
	}
}

func TestFulfillmentRequeueJobNoStaleRows(t *testing.T) {
	repo := &fakeStaleFulfillmentRepo{}
	emitter := &fakeRequeueEmitter{}
	job := newFulfillmentRequeueJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("no events expected, got %d", len(emitter.events))
	}
}

func TestFulfillmentRequeueJobContinuesPastFailures(t *testing.T) {
	repo := &fakeStaleFulfillmentRepo{stale: []models.FulfillmentRequest{
		{ID: uuid.New(), OrderID: uuid.New(), Status: enums.FulfillmentStatusSubmitted},
		{ID: uuid.New(), OrderID: uuid.New(), Status: enums.FulfillmentStatusSubmitted},
	}}
	emitter := &fakeRequeueEmitter{failFirst: true}
	job := newFulfillmentRequeueJob(t, repo, emitter)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("second row should still be requeued, got %d events", len(emitter.events))
	}
}

func newFulfillmentRequeueJob(t *testing.T, repo *fakeStaleFulfillmentRepo, emitter *fakeRequeueEmitter) *fulfillmentRequeueJob {
	t.Helper()
	jobIface, err := NewFulfillmentRequeueJob(FulfillmentRequeueJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
		DB:           requeueTxRunner{},
		Fulfillments: repo,
		Outbox:       emitter,
	})
	if err != nil {
		t.Fatalf("NewFulfillmentRequeueJob: %v", err)
	}
	job, ok := jobIface.(*fulfillmentRequeueJob)
	if !ok {
		t.Fatalf("expected fulfillmentRequeueJob, got %T", jobIface)
	}
	return job
}

type fakeStaleFulfillmentRepo struct {
	stale   []models.FulfillmentRequest
	updated int
}

func (f *fakeStaleFulfillmentRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.FulfillmentRequest, error) {
	return f.stale, nil
}

func (f *fakeStaleFulfillmentRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	f.updated++
	return nil
}

type fakeRequeueEmitter struct {
	events    []outbox.DomainEvent
	failFirst bool
	calls     int
}

func (f *fakeRequeueEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return errors.New("publish failed")
	}
	f.events = append(f.events, event)
	return nil
}

type requeueTxRunner struct{}

func (requeueTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
