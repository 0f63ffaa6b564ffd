package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/pkg/rabbitmq"
	"github.com/google/uuid"
)

// EventRefundDispatcher publishes a RefundRequestedEvent for a refund worker to consume.
type EventRefundDispatcher struct {
	publisher rabbitmq.Publisher
	exchange  string
	now       func() time.Time
}

func NewEventRefundDispatcher(publisher rabbitmq.Publisher, exchange string) *EventRefundDispatcher {
	return &EventRefundDispatcher{
		publisher: publisher,
		exchange:  exchange,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *EventRefundDispatcher) DispatchRefund(ctx context.Context, campaignID uuid.UUID, reason string) error {
	event := domain.RefundRequestedEvent{
		CampaignID:  campaignID,
		Reason:      reason,
		RequestedAt: d.now(),
	}
	if err := d.publisher.Publish(ctx, d.exchange, domain.RefundRequestedRoutingKey, event); err != nil {
		return fmt.Errorf("publish refund request for campaign %s: %w", campaignID, err)
	}
	return nil
}

// RefundRunner runs one refund saga pass. Service.RunRefundSaga satisfies it.
type RefundRunner func(ctx context.Context, campaignID uuid.UUID) (domain.RefundReport, error)

// AsyncRefundDispatcher runs refund sagas on background goroutines inside the
// current process. A campaign already running is not started twice.
type AsyncRefundDispatcher struct {
	run     RefundRunner
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

func NewAsyncRefundDispatcher(run RefundRunner, logger *slog.Logger, timeout time.Duration) *AsyncRefundDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &AsyncRefundDispatcher{
		run:      run,
		logger:   logger,
		timeout:  timeout,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// DispatchRefund returns immediately. The saga runs detached from ctx.
func (d *AsyncRefundDispatcher) DispatchRefund(_ context.Context, campaignID uuid.UUID, reason string) error {
	d.mu.Lock()
	if _, running := d.inflight[campaignID]; running {
		d.mu.Unlock()
		d.logger.Debug("refund saga already running", "campaign_id", campaignID)
		return nil
	}
	d.inflight[campaignID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, campaignID)
			d.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		report, err := d.run(ctx, campaignID)
		if err != nil {
			d.logger.Error("refund saga failed",
				"campaign_id", campaignID,
				"reason", reason,
				"remaining", report.Remaining,
				"error", err,
			)
			return
		}
		d.logger.Info("refund saga finished", "campaign_id", campaignID, "reason", reason, "completed", report.Completed)
	}()
	return nil
}

// Wait blocks until every dispatched saga has returned.
func (d *AsyncRefundDispatcher) Wait() {
	d.wg.Wait()
}
