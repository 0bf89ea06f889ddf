package routes

import (
	"cart-order-service/handlers"
	"cart-order-service/middleware"
	"cart-order-service/models"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *handlers.Handler, jwtSecret []byte) {
	r.GET("/health", handlers.Health)

	// ── Public routes ──────────────────────────────────────────────
	public := r.Group("/api")
	{
		public.GET("/state-machine", handlers.GetStateMachineInfo)

		// Payment provider callback, authenticated by signature instead of JWT
		public.POST("/payments/confirm", h.ConfirmPayment)
	}

	auth := middleware.AuthRequired(jwtSecret)

	// ── Cart (customer) ────────────────────────────────────────────
	cart := r.Group("/api/cart")
	cart.Use(auth, middleware.RoleRequired(models.RoleCustomer))
	{
		cart.GET("", h.GetCart)
		cart.DELETE("", h.ClearCart)
		cart.POST("/items", h.AddCartItem)
		cart.PUT("/items/:lineId", h.UpdateCartItem)
		cart.DELETE("/items/:lineId", h.RemoveCartItem)
		cart.POST("/checkout", h.Checkout)
	}

	// ── Orders ─────────────────────────────────────────────────────
	orders := r.Group("/api/orders")
	orders.Use(auth)
	{
		// Any role; the ledger scopes what each caller may read
		orders.GET("/:id", h.GetOrderDetail)

		customer := orders.Group("")
		customer.Use(middleware.RoleRequired(models.RoleCustomer))
		customer.POST("", h.PlaceOrder)
		customer.GET("", h.GetMyOrders)
		customer.PUT("/:id/delivery-address", h.UpdateDeliveryAddress)
		customer.PUT("/:id/instructions", h.UpdateSpecialInstructions)
		customer.PUT("/:id/cancel", h.CancelOrder)
		customer.DELETE("/:id", h.DeleteOrder)
	}

	// ── Restaurant staff routes ────────────────────────────────────
	restaurant := r.Group("/api/restaurant")
	restaurant.Use(auth, middleware.RoleRequired(models.RoleRestaurant))
	{
		restaurant.GET("/orders", h.GetRestaurantOrders)
		restaurant.PUT("/orders/:id/status", h.UpdateOrderStatus)
	}

	// ── Admin routes ───────────────────────────────────────────────
	admin := r.Group("/api/admin")
	admin.Use(auth, middleware.RoleRequired(models.RoleAdmin))
	{
		admin.GET("/orders", h.AdminGetAllOrders)
		admin.PUT("/orders/:id/status", h.UpdateOrderStatus)
		admin.PUT("/orders/:id/cancel", h.AdminCancelOrder)
	}
}
