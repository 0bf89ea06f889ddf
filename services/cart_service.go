package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cart-order-service/apperr"
	"cart-order-service/models"
	"cart-order-service/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// cart writes that lose a version race are re-read and retried this many times
const maxCartWriteAttempts = 5

type CartRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*models.Cart, error)
	Create(ctx context.Context, c *models.Cart) error
	Update(ctx context.Context, c *models.Cart) error
	DeleteVersion(ctx context.Context, id string, version int) error
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// CartLedger is the part of the order ledger checkout hands carts to.
type CartLedger interface {
	CreateFromCart(ctx context.Context, cart *models.Cart, in CheckoutInput) (*models.Order, error)
	LatestForCart(ctx context.Context, cartID string) (*models.Order, error)
}

type AddItemInput struct {
	RestaurantID string
	MenuItemID   string
	Name         string
	UnitPrice    decimal.Decimal
	Quantity     int
	Addons       []models.Addon
}

type CheckoutResult struct {
	Order *models.Order `json:"order"`
	// CartCleared is false when the order exists but the cart could not be
	// removed; clearing the cart again completes the checkout.
	CartCleared bool `json:"cart_cleared"`
}

type CartService struct {
	carts  CartRepository
	ledger CartLedger
	log    zerolog.Logger
	now    func() time.Time
}

func NewCartService(carts CartRepository, ledger CartLedger, log zerolog.Logger) *CartService {
	return &CartService{
		carts:  carts,
		ledger: ledger,
		log:    log.With().Str("component", "cart_store").Logger(),
		now:    time.Now,
	}
}

// GetOrCreate returns the customer's cart, or an unsaved empty one.
func (s *CartService) GetOrCreate(ctx context.Context, ownerID string) (*models.Cart, error) {
	c, err := s.carts.FindByOwner(ctx, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Cart{OwnerID: ownerID, Lines: []models.CartLine{}, TotalAmount: decimal.Zero}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load cart")
	}
	return c, nil
}

// AddItem appends a line or, for the same item with the same addons, raises
// the quantity of the existing line. A cart holds one restaurant only.
func (s *CartService) AddItem(ctx context.Context, ownerID string, in AddItemInput) (*models.Cart, error) {
	if err := validateAddItem(in); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		c, err := s.carts.FindByOwner(ctx, ownerID)
		exists := err == nil
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c = &models.Cart{ID: uuid.NewString(), OwnerID: ownerID, RestaurantID: in.RestaurantID, CreatedAt: s.now()}
		case err != nil:
			return nil, apperr.Internal(err, "failed to load cart")
		}

		if exists && !c.IsEmpty() && c.RestaurantID != in.RestaurantID {
			return nil, apperr.ErrDifferentRestaurant.
				WithDetail("cart_restaurant_id", c.RestaurantID).
				WithMessage("your cart holds items from another restaurant; clear it before adding from this one")
		}
		c.RestaurantID = in.RestaurantID

		merged := false
		for i := range c.Lines {
			if c.Lines[i].SameSelection(in.MenuItemID, in.Addons) {
				c.Lines[i].Quantity += in.Quantity
				merged = true
				break
			}
		}
		if !merged {
			c.Lines = append(c.Lines, models.CartLine{
				ID:         uuid.NewString(),
				MenuItemID: in.MenuItemID,
				Name:       strings.TrimSpace(in.Name),
				UnitPrice:  in.UnitPrice,
				Quantity:   in.Quantity,
				Addons:     in.Addons,
			})
		}
		c.Recalculate(s.now())

		if exists {
			err = s.carts.Update(ctx, c)
		} else {
			err = s.carts.Create(ctx, c)
		}
		if errors.Is(err, repository.ErrStale) || errors.Is(err, repository.ErrDuplicate) {
			s.log.Debug().Str("owner_id", ownerID).Int("attempt", attempt).Msg("cart changed concurrently, retrying add")
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err, "failed to save cart")
		}
		return c, nil
	}
	return nil, s.busy(ownerID)
}

// UpdateQuantity sets a line's quantity; zero or less removes the line. When
// the last line goes the cart itself is deleted and removed is true.
func (s *CartService) UpdateQuantity(ctx context.Context, ownerID, lineID string, quantity int) (*models.Cart, bool, error) {
	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		c, err := s.carts.FindByOwner(ctx, ownerID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperr.ErrCartNotFound.WithMessage("you have no active cart")
		}
		if err != nil {
			return nil, false, apperr.Internal(err, "failed to load cart")
		}

		idx := c.LineIndex(lineID)
		if idx < 0 {
			return nil, false, apperr.ErrCartLineNotFound.WithMessage(fmt.Sprintf("cart line %s not found", lineID))
		}
		if quantity <= 0 {
			c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
		} else {
			c.Lines[idx].Quantity = quantity
		}

		if c.IsEmpty() {
			err = s.carts.DeleteVersion(ctx, c.ID, c.Version)
			if err == nil {
				s.log.Info().Str("owner_id", ownerID).Str("cart_id", c.ID).Msg("cart emptied and removed")
				return nil, true, nil
			}
		} else {
			c.Recalculate(s.now())
			err = s.carts.Update(ctx, c)
			if err == nil {
				return c, false, nil
			}
		}
		if errors.Is(err, repository.ErrStale) {
			s.log.Debug().Str("owner_id", ownerID).Int("attempt", attempt).Msg("cart changed concurrently, retrying update")
			continue
		}
		return nil, false, apperr.Internal(err, "failed to save cart")
	}
	return nil, false, s.busy(ownerID)
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID, lineID string) (*models.Cart, bool, error) {
	return s.UpdateQuantity(ctx, ownerID, lineID, 0)
}

// Clear deletes the customer's cart. Clearing a missing cart succeeds, which
// makes it safe to retry after an interrupted checkout.
func (s *CartService) Clear(ctx context.Context, ownerID string) error {
	if err := s.carts.DeleteByOwner(ctx, ownerID); err != nil {
		return apperr.Internal(err, "failed to clear cart")
	}
	return nil
}

// Checkout converts the cart into an order and then withdraws the ordered
// lines from the cart. Lines added while the order was being created stay in
// the cart. When an earlier checkout of this cart created its order but never
// settled the cart, that order is returned instead of creating a second one.
func (s *CartService) Checkout(ctx context.Context, ownerID string, in CheckoutInput) (*CheckoutResult, error) {
	c, err := s.carts.FindByOwner(ctx, ownerID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && c.IsEmpty()) {
		return nil, apperr.ErrEmptyCart.WithMessage("cart is empty")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load cart")
	}

	order, err := s.ledger.LatestForCart(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if order != nil && order.SourceCartVersion > c.CheckedOutVersion {
		s.log.Warn().Str("owner_id", ownerID).Str("order_id", order.ID).Int("cart_version", order.SourceCartVersion).
			Msg("resuming checkout whose cart was never settled")
	} else {
		order, err = s.ledger.CreateFromCart(ctx, c, in)
		if err != nil {
			return nil, err
		}
	}

	res := &CheckoutResult{Order: order, CartCleared: true}
	if err := s.settle(context.WithoutCancel(ctx), ownerID, order); err != nil {
		s.log.Error().Err(err).Str("owner_id", ownerID).Str("order_id", order.ID).
			Msg("order created but cart was not cleared")
		res.CartCleared = false
	}
	return res, nil
}

// settle removes from the cart what order took from it. An untouched cart is
// deleted at the snapshot version; a cart written since keeps its newer lines
// and remembers the settled version.
func (s *CartService) settle(ctx context.Context, ownerID string, order *models.Order) error {
	if order.SourceCartID == nil {
		return nil
	}
	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		c, err := s.carts.FindByOwner(ctx, ownerID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.ID != *order.SourceCartID || c.CheckedOutVersion >= order.SourceCartVersion {
			return nil
		}

		if c.Version != order.SourceCartVersion {
			withdraw(c, order.Items)
		}
		if c.Version == order.SourceCartVersion || c.IsEmpty() {
			err = s.carts.DeleteVersion(ctx, c.ID, c.Version)
		} else {
			s.log.Info().Str("owner_id", ownerID).Str("order_id", order.ID).Int("remaining_lines", len(c.Lines)).
				Msg("cart changed during checkout, keeping lines added since")
			c.CheckedOutVersion = order.SourceCartVersion
			c.Recalculate(s.now())
			err = s.carts.Update(ctx, c)
		}
		if err == nil || !errors.Is(err, repository.ErrStale) {
			return err
		}
	}
	return repository.ErrStale
}

// withdraw subtracts ordered quantities from the matching cart lines.
func withdraw(c *models.Cart, items []models.OrderItem) {
	for _, it := range items {
		for i, l := range c.Lines {
			if !l.SameSelection(it.MenuItemID, it.Addons) {
				continue
			}
			if l.Quantity <= it.Quantity {
				c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			} else {
				c.Lines[i].Quantity -= it.Quantity
			}
			break
		}
	}
}

func (s *CartService) busy(ownerID string) error {
	s.log.Warn().Str("owner_id", ownerID).Msg("cart write kept losing version races")
	return apperr.ErrCartConflict.WithMessage("cart is being modified concurrently, try again")
}

func validateAddItem(in AddItemInput) error {
	switch {
	case strings.TrimSpace(in.RestaurantID) == "":
		return apperr.Validation("restaurant_id is required")
	case strings.TrimSpace(in.MenuItemID) == "":
		return apperr.Validation("menu_item_id is required")
	case strings.TrimSpace(in.Name) == "":
		return apperr.Validation("name is required")
	case in.Quantity < 1:
		return apperr.Validation("quantity must be at least 1")
	case in.UnitPrice.IsNegative():
		return apperr.Validation("price must not be negative")
	}
	return validateAddons(in.Addons)
}
