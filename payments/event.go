// Package payments adapts payment-provider notifications into order ledger
// calls. Events arrive over AMQP or the signed HTTP webhook.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cart-order-service/models"
	"cart-order-service/services"
)

// Event is one payment outcome reported by the provider.
type Event struct {
	OrderID       string `json:"order_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
	Outcome       string `json:"outcome" binding:"required,oneof=success failed"`
	PaymentMethod string `json:"payment_method,omitempty" binding:"omitempty,payment_method"`
}

var ErrMalformedEvent = errors.New("malformed payment event")

func DecodeEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt.OrderID = strings.TrimSpace(evt.OrderID)
	if evt.OrderID == "" || evt.TransactionID == "" {
		return evt, fmt.Errorf("%w: order_id and transaction_id are required", ErrMalformedEvent)
	}
	return evt, nil
}

func (e Event) Details() services.PaymentDetails {
	return services.PaymentDetails{
		TransactionID: e.TransactionID,
		Outcome:       services.PaymentOutcome(strings.ToLower(e.Outcome)),
		Method:        models.PaymentMethod(e.PaymentMethod),
	}
}

// Confirmer is the order ledger entry point for payment outcomes.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID string, p services.PaymentDetails) (*models.Order, error)
}

// Sign returns the hex HMAC-SHA256 of body, the value expected in the
// X-Payment-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty secret rejects everything.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
