package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/google/uuid"
)

// RefundConsumer runs the refund saga for each RefundRequestedEvent.
type RefundConsumer struct {
	run     RefundRunner
	logger  *slog.Logger
	timeout time.Duration
}

func NewRefundConsumer(run RefundRunner, logger *slog.Logger, timeout time.Duration) *RefundConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RefundConsumer{run: run, logger: logger, timeout: timeout}
}

// HandleMessage returns true to ack and false to requeue. Malformed payloads and
// campaigns that can never be refunded are acked so they do not loop forever.
func (c *RefundConsumer) HandleMessage(body []byte) bool {
	var event domain.RefundRequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("refund-consumer: failed to unmarshal payload", "error", err)
		return true
	}
	if event.CampaignID == uuid.Nil {
		c.logger.Error("refund-consumer: missing campaign id", "reason", event.Reason)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	report, err := c.run(ctx, event.CampaignID)
	switch {
	case err == nil && report.Completed:
		c.logger.Info("refund-consumer: refunds completed",
			"campaign_id", event.CampaignID,
			"refunded", report.Refunded,
			"already_refunded", report.AlreadyRefunded,
		)
		return true
	case err == nil:
		// Donations that arrived while the saga ran; run again.
		c.logger.Warn("refund-consumer: refunds incomplete; re-queuing", "campaign_id", event.CampaignID, "remaining", report.Remaining)
		return false
	case errors.Is(err, store.ErrCampaignNotFound), errors.Is(err, domain.ErrInvalidState):
		c.logger.Error("refund-consumer: dropping refund request", "campaign_id", event.CampaignID, "error", err)
		return true
	default:
		c.logger.Error("refund-consumer: refund saga failed; re-queuing", "campaign_id", event.CampaignID, "remaining", report.Remaining, "error", err)
		return false
	}
}
