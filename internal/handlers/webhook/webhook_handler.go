// internal/handlers/webhook/webhook_handler.go
package webhook

import (
	"errors"
	"io"
	"net/http"

	"subpay-service/internal/events"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/pkg/idempotency"
	"subpay-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

// WebhookHandler receives provider webhooks, verifies signatures,
// deduplicates deliveries and feeds verified events into the
// dispatcher. Status codes steer provider retries: 5xx means retry,
// 2xx means settled (including terminal processing failures, which a
// retry cannot fix), 400 means the delivery itself was invalid.
type WebhookHandler struct {
	providers   *payment.Registry
	dispatcher  *events.Dispatcher
	deduper     *idempotency.Deduper
	statusCache *idempotency.StatusCache
	logger      *zap.Logger
}

func NewWebhookHandler(
	providers *payment.Registry,
	dispatcher *events.Dispatcher,
	deduper *idempotency.Deduper,
	statusCache *idempotency.StatusCache,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		providers:   providers,
		dispatcher:  dispatcher,
		deduper:     deduper,
		statusCache: statusCache,
		logger:      logger,
	}
}

// Receive handles POST /webhooks/:provider
func (h *WebhookHandler) Receive(c *gin.Context) {
	providerName := c.Param("provider")
	adapter, err := h.providers.Get(providerName)
	if err != nil {
		response.Error(c, http.StatusNotFound, "unknown payment provider", err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	signature := c.GetHeader(adapter.SignatureHeader())
	if signature == "" {
		response.Error(c, http.StatusBadRequest, "missing webhook signature", nil)
		return
	}

	evt, err := adapter.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, xerrors.ErrSignatureInvalid) {
			h.logger.Warn("webhook signature rejected",
				zap.String("provider", providerName),
				zap.String("client_ip", c.ClientIP()))
			response.Error(c, http.StatusBadRequest, "invalid webhook signature", nil)
			return
		}
		response.Error(c, http.StatusBadRequest, "malformed webhook payload", err)
		return
	}

	if evt.Type == payment.WebhookUnknown {
		h.logger.Info("webhook ignored",
			zap.String("provider", providerName),
			zap.String("event_id", evt.EventID))
		response.Success(c, http.StatusOK, "event ignored", gin.H{"received": true})
		return
	}

	if h.deduper != nil && evt.EventID != "" {
		first, err := h.deduper.MarkProcessed(c.Request.Context(), providerName, evt.EventID)
		if err != nil {
			h.logger.Warn("webhook dedup check failed, processing anyway",
				zap.String("event_id", evt.EventID), zap.Error(err))
		} else if !first {
			h.logger.Info("duplicate webhook delivery skipped",
				zap.String("provider", providerName),
				zap.String("event_id", evt.EventID))
			response.Success(c, http.StatusOK, "event already processed", gin.H{
				"received":  true,
				"duplicate": true,
			})
			return
		}
	}

	result := h.dispatcher.Emit(c.Request.Context(), toDomainEvent(evt))

	if evt.TransactionID != "" && h.statusCache != nil {
		if err := h.statusCache.Invalidate(c.Request.Context(), providerName, evt.TransactionID); err != nil {
			h.logger.Warn("failed to invalidate session status cache", zap.Error(err))
		}
	}

	if result.Success {
		response.Success(c, http.StatusOK, "event processed", gin.H{
			"received": true,
			"result":   result.Data,
		})
		return
	}

	if result.Retryable() {
		// Release the dedup slot so the provider's retry is processed.
		if h.deduper != nil && evt.EventID != "" {
			if err := h.deduper.Forget(c.Request.Context(), providerName, evt.EventID); err != nil {
				h.logger.Warn("failed to release webhook dedup key",
					zap.String("event_id", evt.EventID), zap.Error(err))
			}
		}
		response.Error(c, http.StatusInternalServerError, "event processing failed", result.AsError())
		return
	}

	// Terminal failure: acknowledge so the provider stops retrying, and
	// leave the details in the log for support.
	h.logger.Error("webhook processing failed terminally",
		zap.String("provider", providerName),
		zap.String("event_id", evt.EventID),
		zap.String("kind", string(result.Kind)),
		zap.Error(result.AsError()))
	response.Success(c, http.StatusOK, "event rejected", gin.H{
		"received": true,
		"error":    result.Err,
	})
}

// toDomainEvent converts the provider-agnostic webhook event into the
// typed domain event the dispatcher routes on.
func toDomainEvent(evt *payment.WebhookEvent) events.Event {
	switch evt.Type {
	case payment.WebhookPaymentSucceeded:
		return &events.PaymentCapturedEvent{
			InvoiceID:      evt.InvoiceID,
			PaymentRef:     evt.PaymentRef,
			Amount:         evt.Amount,
			Currency:       evt.Currency,
			Provider:       evt.Provider,
			TransactionID:  evt.TransactionID,
			ProviderSubRef: evt.ProviderSubRef,
		}
	case payment.WebhookPaymentFailed:
		return &events.PaymentFailedEvent{
			InvoiceID:    evt.InvoiceID,
			Provider:     evt.Provider,
			ErrorCode:    evt.ErrorCode,
			ErrorMessage: evt.ErrorMessage,
		}
	case payment.WebhookSubscriptionCancelled:
		return &events.SubscriptionCancelledEvent{
			ProviderSubRef: evt.ProviderSubRef,
			Provider:       evt.Provider,
			Reason:         evt.ErrorMessage,
		}
	default:
		return nil
	}
}
