package handlers

import (
	"net/http"

	"cart-order-service/models"
	"cart-order-service/statemachine"

	"github.com/gin-gonic/gin"
)

// GetStateMachineInfo returns the full state machine for informational purposes
func GetStateMachineInfo(c *gin.Context) {
	next := make(map[models.OrderStatus][]models.OrderStatus, len(models.AllStatuses))
	var terminal []models.OrderStatus
	for _, s := range models.AllStatuses {
		next[s] = statemachine.ValidTransitionsFrom(s)
		if statemachine.IsTerminal(s) {
			terminal = append(terminal, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"state_machine":   statemachine.GetAllTransitions(),
		"next_states":     next,
		"terminal_states": terminal,
		"payment_states":  []models.PaymentStatus{models.PaymentPending, models.PaymentPaid, models.PaymentFailed},
		"description":     "Order lifecycle state machine",
	})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cart-order-service",
	})
}
