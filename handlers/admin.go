package handlers

import (
	"net/http"

	"cart-order-service/middleware"
	"cart-order-service/models"
	"cart-order-service/repository"

	"github.com/gin-gonic/gin"
)

// AdminGetAllOrders lists every order with status and revenue aggregates
func (h *Handler) AdminGetAllOrders(c *gin.Context) {
	f := repository.OrderFilter{
		CustomerID:   c.Query("customer_id"),
		RestaurantID: c.Query("restaurant_id"),
		Status:       models.OrderStatus(c.Query("status")),
	}
	res, err := h.Orders.ListAll(c.Request.Context(), middleware.MustIdentity(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_summary": res.Summary,
		"total_revenue": res.Revenue,
		"count":         len(res.Orders),
		"orders":        res.Orders,
	})
}

// AdminCancelOrder cancels any order the state machine still allows
func (h *Handler) AdminCancelOrder(c *gin.Context) {
	var req CancelRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	order, err := h.Orders.Cancel(c.Request.Context(), c.Param("id"), middleware.MustIdentity(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled by admin", "order": order})
}
