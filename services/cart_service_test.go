package services

import (
	"context"
	"fmt"
	"math/rand"

	"cart-order-service/apperr"
	"cart-order-service/catalog"
	"cart-order-service/models"
	"cart-order-service/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) TestAddMergesSameSelection() {
	cheese := models.Addon{Name: "cheese", Price: dec("0.75")}
	egg := models.Addon{Name: "egg", Price: dec("0.50")}

	s.addA(2, cheese, egg)
	c := s.addA(1, egg, cheese)

	require.Len(s.T(), c.Lines, 1)
	require.Equal(s.T(), 3, c.Lines[0].Quantity)
	require.True(s.T(), c.TotalAmount.Equal(dec("18.75")), c.TotalAmount.String())

	c = s.addA(1)
	require.Len(s.T(), c.Lines, 2, "a different addon set is a separate line")
	require.True(s.T(), c.TotalAmount.Equal(dec("23.75")))
}

func (s *ServiceSuite) TestDifferentRestaurantIsRejectedWithoutMutation() {
	before := s.addA(2)

	_, err := s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r2", MenuItemID: "C", Name: "Hoppers", UnitPrice: dec("2.25"), Quantity: 1,
	})
	require.ErrorIs(s.T(), err, apperr.ErrDifferentRestaurant)
	require.Equal(s.T(), apperr.KindConflict, apperr.KindOf(err))

	after, err := s.carts.GetOrCreate(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "r1", after.RestaurantID)
	require.Len(s.T(), after.Lines, 1)
	require.True(s.T(), after.TotalAmount.Equal(before.TotalAmount))

	require.NoError(s.T(), s.carts.Clear(s.ctx, customer.SubjectID))
	c, err := s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r2", MenuItemID: "C", Name: "Hoppers", UnitPrice: dec("2.25"), Quantity: 1,
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), "r2", c.RestaurantID)
}

func (s *ServiceSuite) TestAddRejectsBadInput() {
	_, err := s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "A", Name: "Kottu", UnitPrice: dec("5"), Quantity: 0,
	})
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))

	_, err = s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "A", Name: "Kottu", UnitPrice: dec("-1"), Quantity: 1,
	})
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))
}

func (s *ServiceSuite) TestEmptyingCartDeletesIt() {
	c := s.addA(1)

	got, removed, err := s.carts.UpdateQuantity(s.ctx, customer.SubjectID, c.Lines[0].ID, 0)
	require.NoError(s.T(), err)
	require.True(s.T(), removed)
	require.Nil(s.T(), got)

	var count int64
	s.db.Model(&models.Cart{}).Where("owner_id = ?", customer.SubjectID).Count(&count)
	require.Zero(s.T(), count)

	fresh, err := s.carts.GetOrCreate(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	require.Empty(s.T(), fresh.Lines)
	require.True(s.T(), fresh.TotalAmount.IsZero())
}

func (s *ServiceSuite) TestUpdateQuantityErrors() {
	_, _, err := s.carts.UpdateQuantity(s.ctx, customer.SubjectID, "nope", 2)
	require.ErrorIs(s.T(), err, apperr.ErrCartNotFound)

	s.addA(1)
	_, _, err = s.carts.RemoveItem(s.ctx, customer.SubjectID, "nope")
	require.ErrorIs(s.T(), err, apperr.ErrCartLineNotFound)
}

func (s *ServiceSuite) TestClearIsIdempotent() {
	require.NoError(s.T(), s.carts.Clear(s.ctx, customer.SubjectID))
	s.addA(1)
	require.NoError(s.T(), s.carts.Clear(s.ctx, customer.SubjectID))
	require.NoError(s.T(), s.carts.Clear(s.ctx, customer.SubjectID))
}

// TestTotalMatchesLinesAfterRandomOperations drives random add/update/remove
// sequences and checks the stored total against an independent model.
func (s *ServiceSuite) TestTotalMatchesLinesAfterRandomOperations() {
	rng := rand.New(rand.NewSource(20241016))
	menu := []struct {
		id    string
		price string
	}{{"A", "5.00"}, {"B", "1.50"}, {"D", "3.33"}, {"E", "0.99"}}
	addonPool := []models.Addon{
		{Name: "cheese", Price: dec("0.75")},
		{Name: "egg", Price: dec("0.50")},
		{Name: "sambol", Price: dec("0.10")},
	}

	for run := 0; run < 20; run++ {
		owner := fmt.Sprintf("prop-%d", run)
		for step := 0; step < 30; step++ {
			cur, err := s.carts.GetOrCreate(s.ctx, owner)
			require.NoError(s.T(), err)

			switch op := rng.Intn(4); {
			case op <= 1 || len(cur.Lines) == 0:
				m := menu[rng.Intn(len(menu))]
				var addons []models.Addon
				for _, a := range addonPool {
					if rng.Intn(2) == 0 {
						addons = append(addons, a)
					}
				}
				_, err = s.carts.AddItem(s.ctx, owner, AddItemInput{
					RestaurantID: "r1", MenuItemID: m.id, Name: m.id,
					UnitPrice: dec(m.price), Quantity: 1 + rng.Intn(4), Addons: addons,
				})
			case op == 2:
				line := cur.Lines[rng.Intn(len(cur.Lines))]
				_, _, err = s.carts.UpdateQuantity(s.ctx, owner, line.ID, rng.Intn(6)-1)
			default:
				line := cur.Lines[rng.Intn(len(cur.Lines))]
				_, _, err = s.carts.RemoveItem(s.ctx, owner, line.ID)
			}
			require.NoError(s.T(), err)

			stored, err := s.carts.GetOrCreate(s.ctx, owner)
			require.NoError(s.T(), err)
			expected := decimal.Zero
			for _, l := range stored.Lines {
				require.GreaterOrEqual(s.T(), l.Quantity, 1)
				unit := l.UnitPrice
				for _, a := range l.Addons {
					unit = unit.Add(a.Price)
				}
				expected = expected.Add(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
			}
			require.True(s.T(), stored.TotalAmount.Equal(expected),
				"run %d step %d: total %s, lines sum %s", run, step, stored.TotalAmount, expected)
			if len(stored.Lines) == 0 {
				require.Empty(s.T(), stored.ID, "an empty cart must not be persisted")
			}
		}
	}
}

func (s *ServiceSuite) TestEndToEndCheckoutAndPayment() {
	c := s.addA(2)
	require.True(s.T(), c.TotalAmount.Equal(dec("10.00")))

	c = s.addA(1)
	require.Len(s.T(), c.Lines, 1)
	require.Equal(s.T(), 3, c.Lines[0].Quantity)
	require.True(s.T(), c.TotalAmount.Equal(dec("15.00")))

	res, err := s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{
		DeliveryAddress: homeAddress, PaymentMethod: models.PaymentPayHere, SpecialInstructions: "ring twice",
	})
	require.NoError(s.T(), err)
	require.True(s.T(), res.CartCleared)

	o := res.Order
	require.Equal(s.T(), models.StatusPending, o.Status)
	require.Equal(s.T(), models.PaymentPending, o.PaymentStatus)
	require.True(s.T(), o.TotalAmount.Equal(dec("15.00")))
	require.Equal(s.T(), customer.SubjectID, o.CustomerID)
	require.NotNil(s.T(), o.SourceCartID)

	var carts int64
	s.db.Model(&models.Cart{}).Where("owner_id = ?", customer.SubjectID).Count(&carts)
	require.Zero(s.T(), carts)

	paid, err := s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx-42", Outcome: PaymentSucceeded})
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.PaymentPaid, paid.PaymentStatus)
	require.Equal(s.T(), models.StatusConfirmed, paid.Status)
	require.Equal(s.T(), "tx-42", paid.PaymentReference)
	require.True(s.T(), paid.TotalAmount.Equal(dec("15.00")))
}

func (s *ServiceSuite) TestCheckoutEmptyCart() {
	_, err := s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe})
	require.ErrorIs(s.T(), err, apperr.ErrEmptyCart)
}

func (s *ServiceSuite) TestCheckoutKeepsCartWhenCatalogIsDown() {
	s.addA(1)
	s.catalog.menuErr = fmt.Errorf("dial tcp: connection refused")

	_, err := s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe})
	require.Equal(s.T(), apperr.KindUpstream, apperr.KindOf(err))

	var orders int64
	s.db.Model(&models.Order{}).Count(&orders)
	require.Zero(s.T(), orders, "no half-created order")

	c, err := s.carts.GetOrCreate(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	require.Len(s.T(), c.Lines, 1)
}

func (s *ServiceSuite) TestCheckoutRejectsItemsMissingFromCatalog() {
	_, err := s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "retired", Name: "Old Dish", UnitPrice: dec("4"), Quantity: 1,
	})
	require.NoError(s.T(), err)

	_, err = s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe})
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))
}

func (s *ServiceSuite) TestCheckoutRetryAfterUnclearedCartReturnsSameOrder() {
	s.addA(2)
	cart, err := s.cartRepo.FindByOwner(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)

	// simulate a crash between order creation and cart removal
	first, err := s.orders.CreateFromCart(s.ctx, cart, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentFriMi})
	require.NoError(s.T(), err)

	res, err := s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentFriMi})
	require.NoError(s.T(), err)
	require.Equal(s.T(), first.ID, res.Order.ID)
	require.True(s.T(), res.CartCleared)

	var orders int64
	s.db.Model(&models.Order{}).Count(&orders)
	require.EqualValues(s.T(), 1, orders)
}

func (s *ServiceSuite) TestCheckoutUnknownRestaurantIsValidation() {
	_, err := s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "ghost", MenuItemID: "A", Name: "A", UnitPrice: dec("1"), Quantity: 1,
	})
	require.NoError(s.T(), err)
	_, err = s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe})
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))

	s.catalog.menus["empty"] = []catalog.MenuItem{}
	require.NoError(s.T(), s.carts.Clear(s.ctx, customer.SubjectID))
	_, err = s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "empty", MenuItemID: "A", Name: "A", UnitPrice: dec("1"), Quantity: 1,
	})
	require.NoError(s.T(), err)
	_, err = s.carts.Checkout(s.ctx, customer.SubjectID, CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe})
	require.Equal(s.T(), apperr.CodeCatalogEmpty, apperr.CodeOf(err))
}

// addingLedger adds a second line to the customer's cart right after the order
// is written, as a concurrent request from another tab would.
type addingLedger struct {
	*OrderService
	carts *CartService
	t     require.TestingT
}

func (l *addingLedger) CreateFromCart(ctx context.Context, cart *models.Cart, in CheckoutInput) (*models.Order, error) {
	o, err := l.OrderService.CreateFromCart(ctx, cart, in)
	if err != nil {
		return nil, err
	}
	_, addErr := l.carts.AddItem(ctx, cart.OwnerID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "B", Name: "Milk Tea", UnitPrice: dec("1.50"), Quantity: 1,
	})
	require.NoError(l.t, addErr)
	return o, nil
}

func (s *ServiceSuite) TestCheckoutKeepsLinesAddedDuringCheckout() {
	ledger := &addingLedger{OrderService: s.orders, t: s.T()}
	carts := NewCartService(s.cartRepo, ledger, zerolog.Nop())
	ledger.carts = carts

	_, err := carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "A", Name: "Chicken Kottu", UnitPrice: dec("5.00"), Quantity: 2,
	})
	require.NoError(s.T(), err)

	in := CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentStripe}
	res, err := carts.Checkout(s.ctx, customer.SubjectID, in)
	require.NoError(s.T(), err)
	require.True(s.T(), res.CartCleared)
	require.Len(s.T(), res.Order.Items, 1)
	require.Equal(s.T(), "A", res.Order.Items[0].MenuItemID)

	left, err := s.cartRepo.FindByOwner(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	require.Len(s.T(), left.Lines, 1)
	require.Equal(s.T(), "B", left.Lines[0].MenuItemID)
	require.True(s.T(), left.TotalAmount.Equal(dec("1.50")))

	second, err := s.carts.Checkout(s.ctx, customer.SubjectID, in)
	require.NoError(s.T(), err)
	require.NotEqual(s.T(), res.Order.ID, second.Order.ID)
	require.Len(s.T(), second.Order.Items, 1)
	require.Equal(s.T(), "B", second.Order.Items[0].MenuItemID)

	_, err = s.cartRepo.FindByOwner(s.ctx, customer.SubjectID)
	require.ErrorIs(s.T(), err, repository.ErrNotFound)
}

func (s *ServiceSuite) TestCheckoutResumesUnsettledOrderAfterCartChanged() {
	s.addA(1)
	cart, err := s.cartRepo.FindByOwner(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	in := CheckoutInput{DeliveryAddress: homeAddress, PaymentMethod: models.PaymentPayHere}

	// order written, cart never cleared, then the customer keeps shopping
	first, err := s.orders.CreateFromCart(s.ctx, cart, in)
	require.NoError(s.T(), err)
	_, err = s.carts.AddItem(s.ctx, customer.SubjectID, AddItemInput{
		RestaurantID: "r1", MenuItemID: "B", Name: "Milk Tea", UnitPrice: dec("1.50"), Quantity: 1,
	})
	require.NoError(s.T(), err)

	res, err := s.carts.Checkout(s.ctx, customer.SubjectID, in)
	require.NoError(s.T(), err)
	require.Equal(s.T(), first.ID, res.Order.ID)
	require.True(s.T(), res.CartCleared)

	left, err := s.cartRepo.FindByOwner(s.ctx, customer.SubjectID)
	require.NoError(s.T(), err)
	require.Len(s.T(), left.Lines, 1)
	require.Equal(s.T(), "B", left.Lines[0].MenuItemID)

	var orders int64
	s.db.Model(&models.Order{}).Count(&orders)
	require.EqualValues(s.T(), 1, orders)

	next, err := s.carts.Checkout(s.ctx, customer.SubjectID, in)
	require.NoError(s.T(), err)
	require.NotEqual(s.T(), first.ID, next.Order.ID)
	require.Equal(s.T(), "B", next.Order.Items[0].MenuItemID)
	s.db.Model(&models.Order{}).Count(&orders)
	require.EqualValues(s.T(), 2, orders)
}
