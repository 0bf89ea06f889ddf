package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents all possible states of a food order
type OrderStatus string

const (
	StatusPending          OrderStatus = "Pending"
	StatusConfirmed        OrderStatus = "Confirmed"
	StatusPreparing        OrderStatus = "Preparing"
	StatusWaitingForPickup OrderStatus = "WaitingForPickup"
	StatusOutForDelivery   OrderStatus = "OutForDelivery"
	StatusDelivered        OrderStatus = "Delivered"
	StatusCancelled        OrderStatus = "Cancelled"
)

// AllStatuses lists the canonical statuses in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusWaitingForPickup,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// PaymentStatus is always lower case on the wire and in storage.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid || p == PaymentFailed
}

type PaymentMethod string

const (
	PaymentPayHere     PaymentMethod = "PayHere"
	PaymentDialogGenie PaymentMethod = "DialogGenie"
	PaymentFriMi       PaymentMethod = "FriMi"
	PaymentStripe      PaymentMethod = "Stripe"
	PaymentPayPal      PaymentMethod = "PayPal"
)

var AllPaymentMethods = []PaymentMethod{
	PaymentPayHere, PaymentDialogGenie, PaymentFriMi, PaymentStripe, PaymentPayPal,
}

func (m PaymentMethod) Valid() bool {
	for _, v := range AllPaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

type Address struct {
	Street  string `json:"street" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code" binding:"required"`
	Country string `json:"country" binding:"required"`
}

type Order struct {
	ID                  string               `json:"id" gorm:"primaryKey;size:36"`
	CustomerID          string               `json:"customer_id" gorm:"index;not null;size:64"`
	RestaurantID        string               `json:"restaurant_id" gorm:"index;not null;size:64"`
	SourceCartID        *string              `json:"source_cart_id,omitempty" gorm:"uniqueIndex:idx_order_source_cart;size:36"`
	SourceCartVersion   int                  `json:"source_cart_version,omitempty" gorm:"uniqueIndex:idx_order_source_cart"`
	Status              OrderStatus          `json:"status" gorm:"not null;default:'Pending';size:32"`
	TotalAmount         decimal.Decimal      `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	DeliveryAddress     Address              `json:"delivery_address" gorm:"embedded;embeddedPrefix:delivery_"`
	PaymentStatus       PaymentStatus        `json:"payment_status" gorm:"not null;default:'pending';size:16"`
	PaymentMethod       PaymentMethod        `json:"payment_method" gorm:"not null;size:32"`
	PaymentReference    string               `json:"payment_reference,omitempty"`
	SpecialInstructions string               `json:"special_instructions"`
	Items               []OrderItem          `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	StatusHistory       []OrderStatusHistory `json:"status_history,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// OrderItem is frozen at creation; later catalog price changes never touch it.
type OrderItem struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	OrderID    string          `json:"order_id" gorm:"index;not null;size:36"`
	MenuItemID string          `json:"menu_item_id" gorm:"not null;size:64"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity" gorm:"not null"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"` // base + addons, snapshot
	Addons     []Addon         `json:"addons,omitempty" gorm:"serializer:json"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusHistory tracks every committed status or payment change
type OrderStatusHistory struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	OrderID    string      `json:"order_id" gorm:"index;not null;size:36"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status" gorm:"not null"`
	ChangedBy  string      `json:"changed_by"` // subject id, or "payment" for payment events
	Note       string      `json:"note"`
	CreatedAt  time.Time   `json:"created_at"`
}
