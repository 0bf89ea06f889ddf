// Package handlers is the gin HTTP surface over the cart store and order ledger.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cart-order-service/apperr"
	"cart-order-service/middleware"
	"cart-order-service/payments"
	"cart-order-service/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler holds the services every route delegates to.
type Handler struct {
	Carts         *services.CartService
	Orders        *services.OrderService
	Payments      payments.Confirmer
	WebhookSecret string
	Log           zerolog.Logger
}

func New(carts *services.CartService, orders *services.OrderService, webhookSecret string, log zerolog.Logger) *Handler {
	return &Handler{
		Carts:         carts,
		Orders:        orders,
		Payments:      orders,
		WebhookSecret: webhookSecret,
		Log:           log.With().Str("component", "http").Logger(),
	}
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		if e.Code == apperr.CodeIllegalTransition {
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as the uniform error body. Internal errors are logged with
// their cause and reach the client only as an opaque message.
func (h *Handler) fail(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, "unexpected error")
	}
	status := statusFor(e)
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("code", e.Code).
			Str("path", c.FullPath()).
			Msg("request failed")
	}

	body := errorBody{Error: e.Code, Message: e.Message, Details: e.Details}
	if e.Kind == apperr.KindInternal {
		body = errorBody{Error: apperr.CodeInternal, Message: "internal error"}
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON binds and validates the request body, answering 400 on failure.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, bindError(err))
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for routes where the body may be left out.
func (h *Handler) bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("malformed request body: " + err.Error())
	}
	fields := make(map[string]string, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return apperr.Validation(strings.Join(msgs, "; ")).WithDetail("fields", fields)
}
