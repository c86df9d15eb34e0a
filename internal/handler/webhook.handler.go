package handler

import (
	"encoding/json"
	"net/http"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

// EventParser verifies a webhook payload against its signature header.
type EventParser interface {
	ParseWebhook(payload []byte, signature string) (stripe.Event, error)
}

type WebhookHandler struct {
	parser   EventParser
	payments service.PaymentService
	logger   *zap.Logger
}

func NewWebhookHandler(parser EventParser, payments service.PaymentService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, payments: payments, logger: logger}
}

// Stripe handles POST /webhooks/stripe. Events the service cannot act on
// are acknowledged so Stripe stops redelivering them; infrastructure
// failures answer 5xx so it retries.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		writeError(c, h.logger, apperr.Validation(apperr.CodeValidation, "unreadable body"))
		return
	}

	event, err := h.parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected stripe webhook", zap.Error(err))
		writeError(c, h.logger, apperr.Validation(apperr.CodeValidation, "invalid signature"))
		return
	}

	log := h.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	if event.Type != "payment_intent.succeeded" && event.Type != "payment_intent.payment_failed" {
		log.Debug("ignoring stripe event")
		c.Status(http.StatusOK)
		return
	}

	var pi stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &pi) != nil {
		writeError(c, h.logger, apperr.Validation(apperr.CodeValidation, "malformed payment intent"))
		return
	}
	orderID, err := uuid.Parse(pi.Metadata["order_id"])
	if err != nil {
		log.Warn("payment intent without order id", zap.String("gateway_ref", pi.ID))
		c.Status(http.StatusOK)
		return
	}

	if event.Type == "payment_intent.succeeded" {
		_, err = h.payments.Confirm(c.Request.Context(), orderID, service.SystemActor(), pi.ID)
	} else {
		_, err = h.payments.MarkFailed(c.Request.Context(), orderID, pi.ID)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal || apperr.CodeOf(err) == apperr.CodeGateway {
			writeError(c, h.logger, err)
			return
		}
		log.Warn("stripe event not applied", zap.String("order_id", orderID.String()), zap.Error(err))
	}
	c.Status(http.StatusOK)
}
