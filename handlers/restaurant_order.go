package handlers

import (
	"net/http"

	"cart-order-service/middleware"
	"cart-order-service/models"

	"github.com/gin-gonic/gin"
)

// GetRestaurantOrders returns the orders of the caller's restaurant with a
// per-status summary. Owners without a restaurant claim pass ?restaurant_id=.
func (h *Handler) GetRestaurantOrders(c *gin.Context) {
	res, err := h.Orders.ListForRestaurant(c.Request.Context(), middleware.MustIdentity(c),
		c.Query("restaurant_id"), models.OrderStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_summary": res.Summary,
		"count":         len(res.Orders),
		"orders":        res.Orders,
	})
}

type UpdateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required,order_status"`
	Note   string             `json:"note" binding:"max=500"`
}

// UpdateOrderStatus handles both restaurant and admin transitions; the ledger
// decides what the caller's role may do.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.Orders.AdvanceStatus(c.Request.Context(), c.Param("id"), req.Status, middleware.MustIdentity(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Order status updated to " + string(order.Status),
		"order":   order,
	})
}
