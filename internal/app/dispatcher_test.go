package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/bonafide-ptnguyen/Mealathon/pkg/rabbitmq"
	"github.com/google/uuid"
)

type publisherStub struct {
	rabbitmq.Publisher
	exchange   string
	routingKey string
	body       interface{}
	err        error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchange = exchange
	p.routingKey = routingKey
	p.body = body
	return p.err
}

func TestEventRefundDispatcher_PublishesRefundRequest(t *testing.T) {
	publisher := &publisherStub{}
	dispatcher := NewEventRefundDispatcher(publisher, "mealathon.events")
	campaignID := uuid.New()

	if err := dispatcher.DispatchRefund(context.Background(), campaignID, "deadline"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if publisher.exchange != "mealathon.events" || publisher.routingKey != domain.RefundRequestedRoutingKey {
		t.Fatalf("unexpected destination %s/%s", publisher.exchange, publisher.routingKey)
	}
	event, ok := publisher.body.(domain.RefundRequestedEvent)
	if !ok || event.CampaignID != campaignID || event.Reason != "deadline" {
		t.Fatalf("unexpected payload %#v", publisher.body)
	}

	publisher.err = errors.New("channel closed")
	if err := dispatcher.DispatchRefund(context.Background(), campaignID, "deadline"); err == nil {
		t.Fatal("expected publish error to be returned")
	}
}

func TestAsyncRefundDispatcher_SkipsCampaignAlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32
	run := func(ctx context.Context, campaignID uuid.UUID) (domain.RefundReport, error) {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return domain.RefundReport{CampaignID: campaignID, Completed: true}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewAsyncRefundDispatcher(run, logger, time.Minute)

	campaignID := uuid.New()
	if err := dispatcher.DispatchRefund(context.Background(), campaignID, "deadline"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	<-started
	if err := dispatcher.DispatchRefund(context.Background(), campaignID, "recovery"); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if err := dispatcher.DispatchRefund(context.Background(), uuid.New(), "deadline"); err != nil {
		t.Fatalf("other campaign dispatch: %v", err)
	}
	<-started
	close(release)
	dispatcher.Wait()

	if got := runs.Load(); got != 2 {
		t.Fatalf("expected 2 saga runs, got %d", got)
	}

	// Once finished, the campaign can be dispatched again.
	if err := dispatcher.DispatchRefund(context.Background(), campaignID, "recovery"); err != nil {
		t.Fatalf("dispatch after completion: %v", err)
	}
	<-started
	dispatcher.Wait()
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected 3 saga runs, got %d", got)
	}
}

func TestAsyncRefundDispatcher_RunsSagaEndToEnd(t *testing.T) {
	svc, clock := newTestService(t, store.NewMemoryRepository(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewAsyncRefundDispatcher(svc.RunRefundSaga, logger, time.Minute)
	svc.SetRefundDispatcher(dispatcher)

	c := failCampaignWithDonations(t, svc, clock, 3, "20")
	dispatcher.Wait()

	remaining, err := svc.repo.CountUnrefundedDonations(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("count unrefunded: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected all donations refunded, %d remaining", remaining)
	}
}

func TestRefundConsumer_HandleMessage(t *testing.T) {
	campaignID := uuid.New()
	valid, _ := json.Marshal(domain.RefundRequestedEvent{CampaignID: campaignID, Reason: "deadline"})
	missingID, _ := json.Marshal(domain.RefundRequestedEvent{Reason: "deadline"})

	tests := []struct {
		name    string
		body    []byte
		report  domain.RefundReport
		err     error
		wantAck bool
		wantRun bool
	}{
		{name: "malformed payload", body: []byte("{"), wantAck: true},
		{name: "missing campaign id", body: missingID, wantAck: true},
		{name: "completed", body: valid, report: domain.RefundReport{Completed: true}, wantAck: true, wantRun: true},
		{name: "incomplete", body: valid, report: domain.RefundReport{Remaining: 2}, wantAck: false, wantRun: true},
		{name: "campaign missing", body: valid, err: store.ErrCampaignNotFound, wantAck: true, wantRun: true},
		{name: "campaign not failed", body: valid, err: fmt.Errorf("saga: %w", domain.ErrInvalidState), wantAck: true, wantRun: true},
		{name: "store unavailable", body: valid, err: domain.ErrStoreUnavailable, wantAck: false, wantRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu  sync.Mutex
				ran bool
			)
			run := func(ctx context.Context, id uuid.UUID) (domain.RefundReport, error) {
				mu.Lock()
				ran = true
				mu.Unlock()
				if id != campaignID {
					t.Errorf("expected campaign %s, got %s", campaignID, id)
				}
				return tt.report, tt.err
			}
			consumer := NewRefundConsumer(run, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)

			if got := consumer.HandleMessage(tt.body); got != tt.wantAck {
				t.Fatalf("expected ack=%t, got %t", tt.wantAck, got)
			}
			if ran != tt.wantRun {
				t.Fatalf("expected run=%t, got %t", tt.wantRun, ran)
			}
		})
	}
}
