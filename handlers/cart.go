package handlers

import (
	"net/http"

	"cart-order-service/middleware"
	"cart-order-service/models"
	"cart-order-service/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AddCartItemRequest struct {
	RestaurantID string          `json:"restaurant_id" binding:"required"`
	MenuItemID   string          `json:"menu_item_id" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity" binding:"required,min=1"`
	Addons       []models.Addon  `json:"addons"`
}

type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type CheckoutRequest struct {
	DeliveryAddress     models.Address       `json:"delivery_address" binding:"required"`
	PaymentMethod       models.PaymentMethod `json:"payment_method" binding:"required,payment_method"`
	SpecialInstructions string               `json:"special_instructions" binding:"max=500"`
}

// GetCart returns the caller's cart, empty if none exists yet
func (h *Handler) GetCart(c *gin.Context) {
	who := middleware.MustIdentity(c)
	cart, err := h.Carts.GetOrCreate(c.Request.Context(), who.SubjectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

// AddCartItem adds a priced line to the caller's cart
func (h *Handler) AddCartItem(c *gin.Context) {
	who := middleware.MustIdentity(c)
	var req AddCartItemRequest
	if !h.bindJSON(c, &req) {
		return
	}
	cart, err := h.Carts.AddItem(c.Request.Context(), who.SubjectID, services.AddItemInput{
		RestaurantID: req.RestaurantID,
		MenuItemID:   req.MenuItemID,
		Name:         req.Name,
		UnitPrice:    req.Price,
		Quantity:     req.Quantity,
		Addons:       req.Addons,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item added to cart", "cart": cart})
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	who := middleware.MustIdentity(c)
	var req UpdateCartItemRequest
	if !h.bindJSON(c, &req) {
		return
	}
	cart, removed, err := h.Carts.UpdateQuantity(c.Request.Context(), who.SubjectID, c.Param("lineId"), *req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondCart(c, cart, removed)
}

func (h *Handler) RemoveCartItem(c *gin.Context) {
	who := middleware.MustIdentity(c)
	cart, removed, err := h.Carts.RemoveItem(c.Request.Context(), who.SubjectID, c.Param("lineId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondCart(c, cart, removed)
}

func respondCart(c *gin.Context, cart *models.Cart, removed bool) {
	if removed {
		c.JSON(http.StatusOK, gin.H{"message": "Cart is empty and was removed", "cart": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart updated", "cart": cart})
}

// ClearCart is idempotent
func (h *Handler) ClearCart(c *gin.Context) {
	who := middleware.MustIdentity(c)
	if err := h.Carts.Clear(c.Request.Context(), who.SubjectID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

// Checkout turns the cart into a Pending order
func (h *Handler) Checkout(c *gin.Context) {
	who := middleware.MustIdentity(c)
	var req CheckoutRequest
	if !h.bindJSON(c, &req) {
		return
	}
	res, err := h.Carts.Checkout(c.Request.Context(), who.SubjectID, services.CheckoutInput{
		DeliveryAddress:     req.DeliveryAddress,
		PaymentMethod:       req.PaymentMethod,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Order placed successfully",
		"order":        res.Order,
		"cart_cleared": res.CartCleared,
	})
}
