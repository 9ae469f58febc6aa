/**
 * @description
 * Event handlers fed by the RabbitMQ consumer. A handler returns true to
 * acknowledge the delivery and false to have it re-queued.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
)

// StatusApplier settles payments from provider status events.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, event domain.PaymentStatusEvent) error
}

// PaymentStatusHandler handles payment.status events.
type PaymentStatusHandler struct {
	payments StatusApplier
}

func NewPaymentStatusHandler(payments StatusApplier) *PaymentStatusHandler {
	return &PaymentStatusHandler{payments: payments}
}

// Handle processes one payment.status delivery.
func (h *PaymentStatusHandler) Handle(body []byte) bool {
	var event domain.PaymentStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error().Err(err).Str("component", "payment_status_handler").Msg("failed to unmarshal payment.status event")
		return true // Acknowledge malformed message.
	}
	if event.PaymentIntentID == "" {
		log.Warn().Str("component", "payment_status_handler").Msg("payment.status event missing payment_intent_id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := h.payments.ApplyStatus(ctx, event); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) || errors.Is(err, store.ErrPoolNotFound) {
			log.Error().Err(err).Str("component", "payment_status_handler").Str("payment_intent_id", event.PaymentIntentID).
				Msg("payment.status event for unknown record; acknowledging to avoid requeue loop")
			return true
		}
		log.Error().Err(err).Str("component", "payment_status_handler").Str("payment_intent_id", event.PaymentIntentID).Msg("failed to apply payment status")
		return false
	}
	return true
}
