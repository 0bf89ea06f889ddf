package repository

import (
	"context"

	"cart-order-service/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderRepository struct{ DB *gorm.DB }

func NewOrderRepository(db *gorm.DB) *OrderRepository { return &OrderRepository{DB: db} }

// OrderFilter narrows listings. Empty fields do not filter.
type OrderFilter struct {
	CustomerID   string
	RestaurantID string
	Status       models.OrderStatus
}

func (f OrderFilter) apply(db *gorm.DB) *gorm.DB {
	if f.CustomerID != "" {
		db = db.Where("customer_id = ?", f.CustomerID)
	}
	if f.RestaurantID != "" {
		db = db.Where("restaurant_id = ?", f.RestaurantID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	return db
}

// Create stores the order, its items and its history rows in one transaction.
// A second order for the same source cart fails with ErrDuplicate.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	return translate(r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(o).Error
	}))
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.DB.WithContext(ctx).
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&o, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (r *OrderRepository) FindBySourceCart(ctx context.Context, cartID string, version int) (*models.Order, error) {
	var o models.Order
	err := r.DB.WithContext(ctx).Preload("Items").
		Where("source_cart_id = ? AND source_cart_version = ?", cartID, version).First(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// LatestBySourceCart returns the order created from the newest checked-out
// version of a cart.
func (r *OrderRepository) LatestBySourceCart(ctx context.Context, cartID string) (*models.Order, error) {
	var o models.Order
	err := r.DB.WithContext(ctx).Preload("Items").
		Where("source_cart_id = ?", cartID).
		Order("source_cart_version desc").First(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// List returns matching orders newest first, with their items.
func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	var out []models.Order
	err := f.apply(r.DB.WithContext(ctx).Model(&models.Order{})).
		Preload("Items").
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	return out, err
}

type StatusCount struct {
	Status models.OrderStatus `json:"status"`
	Count  int64              `json:"count"`
}

func (r *OrderRepository) CountByStatus(ctx context.Context, f OrderFilter) ([]StatusCount, error) {
	var rows []StatusCount
	err := f.apply(r.DB.WithContext(ctx).Model(&models.Order{})).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	return rows, err
}

// PaidRevenue sums the totals of paid orders matching f.
func (r *OrderRepository) PaidRevenue(ctx context.Context, f OrderFilter) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := f.apply(r.DB.WithContext(ctx).Model(&models.Order{})).
		Where("payment_status = ?", models.PaymentPaid).
		Select("SUM(total_amount)").
		Scan(&sum).Error
	if err != nil || !sum.Valid {
		return decimal.Zero, err
	}
	return sum.Decimal.Round(2), nil
}

// CompareAndSetStatus moves the order from one status to another only if it is
// still in from. It reports false when another writer got there first.
func (r *OrderRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus, h models.OrderStatusHistory) (bool, error) {
	return r.guarded(ctx, h, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, from).
			Update("status", to)
	})
}

// MarkPaid sets payment paid and status Confirmed in one write. It only applies
// to a Pending order whose payment is not already paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, reference string, method models.PaymentMethod, h models.OrderStatusHistory) (bool, error) {
	fields := map[string]any{
		"status":            models.StatusConfirmed,
		"payment_status":    models.PaymentPaid,
		"payment_reference": reference,
	}
	if method != "" {
		fields["payment_method"] = method
	}
	return r.guarded(ctx, h, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND payment_status IN ?", id, models.StatusPending,
				[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed}).
			Updates(fields)
	})
}

// MarkPaymentFailed records a failed attempt on an order still awaiting payment.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, id, reference string, h models.OrderStatusHistory) (bool, error) {
	return r.guarded(ctx, h, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND payment_status = ?", id, models.StatusPending, models.PaymentPending).
			Updates(map[string]any{
				"payment_status":    models.PaymentFailed,
				"payment_reference": reference,
			})
	})
}

// UpdatePendingDetails changes editable columns while the order is still Pending.
func (r *OrderRepository) UpdatePendingDetails(ctx context.Context, id string, fields map[string]any) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// DeleteRemovable deletes an unpaid order that is Pending or Cancelled, with its
// items and history.
func (r *OrderRepository) DeleteRemovable(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND payment_status <> ? AND status IN ?", id, models.PaymentPaid,
			[]models.OrderStatus{models.StatusPending, models.StatusCancelled}).
			Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		return tx.Where("order_id = ?", id).Delete(&models.OrderStatusHistory{}).Error
	})
	return deleted, err
}

// guarded runs a conditional write and, if it matched, appends the history row
// in the same transaction.
func (r *OrderRepository) guarded(ctx context.Context, h models.OrderStatusHistory, write func(tx *gorm.DB) *gorm.DB) (bool, error) {
	applied := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := write(tx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Create(&h).Error
	})
	return applied, err
}
