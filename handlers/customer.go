package handlers

import (
	"net/http"

	"cart-order-service/middleware"
	"cart-order-service/models"
	"cart-order-service/services"

	"github.com/gin-gonic/gin"
)

type PlaceOrderRequest struct {
	RestaurantID        string               `json:"restaurant_id" binding:"required"`
	DeliveryAddress     models.Address       `json:"delivery_address" binding:"required"`
	PaymentMethod       models.PaymentMethod `json:"payment_method" binding:"required,payment_method"`
	SpecialInstructions string               `json:"special_instructions" binding:"max=500"`
	Items               []struct {
		MenuItemID string         `json:"menu_item_id" binding:"required"`
		Quantity   int            `json:"quantity" binding:"required,min=1"`
		Addons     []models.Addon `json:"addons"`
	} `json:"items" binding:"required,min=1,dive"`
}

type UpdateAddressRequest struct {
	DeliveryAddress models.Address `json:"delivery_address" binding:"required"`
}

type UpdateInstructionsRequest struct {
	SpecialInstructions string `json:"special_instructions" binding:"max=500"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// PlaceOrder creates an order priced from the catalog (customer only)
func (h *Handler) PlaceOrder(c *gin.Context) {
	who := middleware.MustIdentity(c)
	var req PlaceOrderRequest
	if !h.bindJSON(c, &req) {
		return
	}

	in := services.CreateOrderInput{
		RestaurantID:        req.RestaurantID,
		DeliveryAddress:     req.DeliveryAddress,
		PaymentMethod:       req.PaymentMethod,
		SpecialInstructions: req.SpecialInstructions,
	}
	for _, it := range req.Items {
		in.Lines = append(in.Lines, services.OrderLineInput{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			Addons:     it.Addons,
		})
	}

	order, err := h.Orders.Create(c.Request.Context(), who, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Order placed successfully", "order": order})
}

// GetMyOrders returns all orders for the logged-in customer, newest first
func (h *Handler) GetMyOrders(c *gin.Context) {
	orders, err := h.Orders.ListForCustomer(c.Request.Context(), middleware.MustIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(orders), "orders": orders})
}

// GetOrderDetail returns one order with its history, scoped to the caller
func (h *Handler) GetOrderDetail(c *gin.Context) {
	order, err := h.Orders.Get(c.Request.Context(), c.Param("id"), middleware.MustIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) UpdateDeliveryAddress(c *gin.Context) {
	var req UpdateAddressRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.Orders.UpdateDeliveryAddress(c.Request.Context(), c.Param("id"), middleware.MustIdentity(c), req.DeliveryAddress)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Delivery address updated", "order": order})
}

func (h *Handler) UpdateSpecialInstructions(c *gin.Context) {
	var req UpdateInstructionsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.Orders.UpdateSpecialInstructions(c.Request.Context(), c.Param("id"), middleware.MustIdentity(c), req.SpecialInstructions)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Special instructions updated", "order": order})
}

// CancelOrder cancels an order the customer owns while the state machine allows it
func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	order, err := h.Orders.Cancel(c.Request.Context(), c.Param("id"), middleware.MustIdentity(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled successfully", "order": order})
}

// DeleteOrder removes an unpaid Pending or Cancelled order
func (h *Handler) DeleteOrder(c *gin.Context) {
	orderID := c.Param("id")
	if err := h.Orders.Remove(c.Request.Context(), orderID, middleware.MustIdentity(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order deleted", "order_id": orderID})
}
