package handlers

import (
	"io"
	"net/http"

	"cart-order-service/apperr"
	"cart-order-service/payments"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const SignatureHeader = "X-Payment-Signature"

const maxWebhookBody = 64 << 10

// ConfirmPayment is the webhook form of the payment adapter. The body must be
// signed with the shared webhook secret.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.fail(c, apperr.Validation("could not read request body"))
		return
	}
	if !payments.VerifySignature(h.WebhookSecret, body, c.GetHeader(SignatureHeader)) {
		h.Log.Warn().Str("remote", c.ClientIP()).Msg("payment webhook with bad signature")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
			Error:   "INVALID_SIGNATURE",
			Message: "payment signature missing or invalid",
		})
		return
	}

	var evt payments.Event
	if err := binding.JSON.BindBody(body, &evt); err != nil {
		h.fail(c, bindError(err))
		return
	}

	order, err := h.Payments.ConfirmPayment(c.Request.Context(), evt.OrderID, evt.Details())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Payment recorded",
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
	})
}
