package repository

import (
	"context"

	"cart-order-service/models"

	"gorm.io/gorm"
)

type CartRepository struct{ DB *gorm.DB }

func NewCartRepository(db *gorm.DB) *CartRepository { return &CartRepository{DB: db} }

// FindByOwner returns ErrNotFound when the customer has no cart.
func (r *CartRepository) FindByOwner(ctx context.Context, ownerID string) (*models.Cart, error) {
	var c models.Cart
	if err := r.DB.WithContext(ctx).Where("owner_id = ?", ownerID).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// Create inserts a new cart at version 1. A concurrent create for the same
// owner loses on the unique owner index and gets ErrDuplicate.
func (r *CartRepository) Create(ctx context.Context, c *models.Cart) error {
	c.Version = 1
	return translate(r.DB.WithContext(ctx).Create(c).Error)
}

// Update writes the cart only if it is still at the version it was read at,
// then bumps the version.
func (r *CartRepository) Update(ctx context.Context, c *models.Cart) error {
	expected := c.Version
	next := *c
	next.Version = expected + 1

	res := r.DB.WithContext(ctx).Model(&next).
		Where("version = ?", expected).
		Select("restaurant_id", "lines", "total_amount", "version", "checked_out_version", "last_updated").
		Updates(&next)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	c.Version = next.Version
	return nil
}

// DeleteVersion removes the cart only if nobody wrote it since it was read.
func (r *CartRepository) DeleteVersion(ctx context.Context, id string, version int) error {
	res := r.DB.WithContext(ctx).Where("id = ? AND version = ?", id, version).Delete(&models.Cart{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// DeleteByOwner is idempotent; deleting a missing cart is not an error.
func (r *CartRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	return r.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&models.Cart{}).Error
}
