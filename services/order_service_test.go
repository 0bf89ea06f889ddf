package services

import (
	"context"
	"sync"
	"time"

	"cart-order-service/apperr"
	"cart-order-service/events"
	"cart-order-service/models"
	"cart-order-service/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) TestCreatePricesFromCatalog() {
	o, err := s.orders.Create(s.ctx, customer, CreateOrderInput{
		RestaurantID: "r1",
		Lines: []OrderLineInput{
			{MenuItemID: "A", Quantity: 2, Addons: []models.Addon{{Name: "cheese", Price: dec("0.75")}}},
			{MenuItemID: "B", Quantity: 1},
		},
		DeliveryAddress: homeAddress,
		PaymentMethod:   models.PaymentDialogGenie,
	})
	require.NoError(s.T(), err)
	require.True(s.T(), o.TotalAmount.Equal(dec("13.00")), o.TotalAmount.String())
	require.Equal(s.T(), models.StatusPending, o.Status)
	require.Equal(s.T(), models.PaymentPending, o.PaymentStatus)
	require.Equal(s.T(), "Chicken Kottu", o.Items[0].Name)
	require.Equal(s.T(), []events.EventType{events.OrderCreated}, s.events.types())
}

func (s *ServiceSuite) TestTotalIsFrozenAfterCatalogPriceChange() {
	o := s.placeOrder()
	s.catalog.menus["r1"][0].Price = dec("99.00")

	got, err := s.orders.Get(s.ctx, o.ID, customer)
	require.NoError(s.T(), err)
	require.True(s.T(), got.TotalAmount.Equal(dec("5.00")))
	require.True(s.T(), got.Items[0].UnitPrice.Equal(dec("5.00")))
}

func (s *ServiceSuite) TestCreateValidation() {
	base := CreateOrderInput{
		RestaurantID:    "r1",
		Lines:           []OrderLineInput{{MenuItemID: "A", Quantity: 1}},
		DeliveryAddress: homeAddress,
		PaymentMethod:   models.PaymentStripe,
	}

	in := base
	in.Lines = nil
	_, err := s.orders.Create(s.ctx, customer, in)
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))

	in = base
	in.PaymentMethod = "Cash"
	_, err = s.orders.Create(s.ctx, customer, in)
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))

	in = base
	in.DeliveryAddress.City = ""
	_, err = s.orders.Create(s.ctx, customer, in)
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err))

	in = base
	in.Lines = []OrderLineInput{{MenuItemID: "C", Quantity: 1}}
	_, err = s.orders.Create(s.ctx, customer, in)
	require.Equal(s.T(), apperr.KindValidation, apperr.KindOf(err), "item of another restaurant")

	_, err = s.orders.Create(s.ctx, staff, base)
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))
}

func (s *ServiceSuite) TestPaymentIsIdempotent() {
	o := s.placeOrder()
	details := PaymentDetails{TransactionID: "tx-1", Outcome: PaymentSucceeded}

	first, err := s.orders.ConfirmPayment(s.ctx, o.ID, details)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusConfirmed, first.Status)

	_, err = s.orders.ConfirmPayment(s.ctx, o.ID, details)
	require.ErrorIs(s.T(), err, apperr.ErrAlreadyPaid)

	after, err := s.orders.Get(s.ctx, o.ID, admin)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.PaymentPaid, after.PaymentStatus)
	require.Equal(s.T(), models.StatusConfirmed, after.Status)
	require.Equal(s.T(), "tx-1", after.PaymentReference)

	confirmations := 0
	for _, h := range after.StatusHistory {
		if h.ToStatus == models.StatusConfirmed {
			confirmations++
		}
	}
	require.Equal(s.T(), 1, confirmations)

	summary, err := s.orders.ListAll(s.ctx, admin, repository.OrderFilter{})
	require.NoError(s.T(), err)
	require.True(s.T(), summary.Revenue.Equal(dec("5.00")), "revenue counted once")
}

func (s *ServiceSuite) TestFailedPaymentThenSuccess() {
	o := s.placeOrder()

	failed, err := s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx-f", Outcome: PaymentDeclined})
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.PaymentFailed, failed.PaymentStatus)
	require.Equal(s.T(), models.StatusPending, failed.Status)

	paid, err := s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx-ok", Outcome: PaymentSucceeded, Method: models.PaymentPayPal})
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.PaymentPaid, paid.PaymentStatus)
	require.Equal(s.T(), models.PaymentPayPal, paid.PaymentMethod)

	_, err = s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx-late", Outcome: PaymentDeclined})
	require.ErrorIs(s.T(), err, apperr.ErrAlreadyPaid)
}

func (s *ServiceSuite) TestPaymentOnCancelledOrderConflicts() {
	o := s.placeOrder()
	_, err := s.orders.Cancel(s.ctx, o.ID, customer, "")
	require.NoError(s.T(), err)

	_, err = s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx", Outcome: PaymentSucceeded})
	require.ErrorIs(s.T(), err, apperr.ErrTransitionConflict)

	got, _ := s.orders.Get(s.ctx, o.ID, admin)
	require.Equal(s.T(), models.StatusCancelled, got.Status)
	require.Equal(s.T(), models.PaymentPending, got.PaymentStatus)
}

func (s *ServiceSuite) TestPaymentForUnknownOrder() {
	_, err := s.orders.ConfirmPayment(s.ctx, "missing", PaymentDetails{Outcome: PaymentSucceeded})
	require.ErrorIs(s.T(), err, apperr.ErrOrderNotFound)
}

func (s *ServiceSuite) TestFullLegalWalk() {
	o := s.paidOrder()
	walk := []models.OrderStatus{
		models.StatusPreparing,
		models.StatusWaitingForPickup,
		models.StatusOutForDelivery,
		models.StatusDelivered,
	}
	for _, next := range walk {
		got, err := s.orders.AdvanceStatus(s.ctx, o.ID, next, staff, "")
		require.NoError(s.T(), err, "to %s", next)
		require.Equal(s.T(), next, got.Status)
	}

	final, err := s.orders.Get(s.ctx, o.ID, customer)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusDelivered, final.Status)
	// placed, paid, then four advances
	require.Len(s.T(), final.StatusHistory, 6)
}

func (s *ServiceSuite) TestIllegalPairsLeaveStatusUnchanged() {
	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			if isGraphEdge(from, to) {
				continue
			}
			o := s.placeOrder()
			s.db.Model(&models.Order{}).Where("id = ?", o.ID).Update("status", from)

			_, err := s.orders.AdvanceStatus(s.ctx, o.ID, to, admin, "")
			require.ErrorIs(s.T(), err, apperr.ErrIllegalTransition, "%s -> %s", from, to)

			got, err := s.orders.Get(s.ctx, o.ID, admin)
			require.NoError(s.T(), err)
			require.Equal(s.T(), from, got.Status)
		}
	}
}

func isGraphEdge(from, to models.OrderStatus) bool {
	edges := map[models.OrderStatus][]models.OrderStatus{
		models.StatusPending:          {models.StatusConfirmed, models.StatusCancelled},
		models.StatusConfirmed:        {models.StatusPreparing, models.StatusCancelled},
		models.StatusPreparing:        {models.StatusWaitingForPickup, models.StatusCancelled},
		models.StatusWaitingForPickup: {models.StatusOutForDelivery},
		models.StatusOutForDelivery:   {models.StatusDelivered},
	}
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s *ServiceSuite) TestStaffAuthorization() {
	o := s.paidOrder()

	_, err := s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusPreparing, otherStaff, "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	// no restaurant claim: ownership comes from the catalog
	got, err := s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusPreparing, owner, "")
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusPreparing, got.Status)

	stranger := models.Identity{SubjectID: "owner-2", Role: models.RoleRestaurant}
	_, err = s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusWaitingForPickup, stranger, "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	_, err = s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusWaitingForPickup, customer, "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))
}

func (s *ServiceSuite) TestStaffCannotConfirmUnpaidOrder() {
	o := s.placeOrder()
	_, err := s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusConfirmed, staff, "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	got, err := s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusConfirmed, admin, "confirmed by phone")
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusConfirmed, got.Status)
	require.Equal(s.T(), models.PaymentPending, got.PaymentStatus)
}

func (s *ServiceSuite) TestCancelRules() {
	o := s.paidOrder()
	_, err := s.orders.Cancel(s.ctx, o.ID, otherCust, "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	for _, next := range []models.OrderStatus{models.StatusPreparing, models.StatusWaitingForPickup} {
		_, err = s.orders.AdvanceStatus(s.ctx, o.ID, next, staff, "")
		require.NoError(s.T(), err)
	}
	_, err = s.orders.Cancel(s.ctx, o.ID, customer, "")
	require.ErrorIs(s.T(), err, apperr.ErrIllegalTransition)

	p := s.placeOrder()
	got, err := s.orders.Cancel(s.ctx, p.ID, customer, "changed my mind")
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusCancelled, got.Status)
	require.Contains(s.T(), s.events.types(), events.OrderCancelled)
}

// raceRepository commits a competing write just before the wrapped compare-and-set.
type raceRepository struct {
	OrderRepository
	once   sync.Once
	before func()
}

func (r *raceRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus, h models.OrderStatusHistory) (bool, error) {
	r.once.Do(r.before)
	return r.OrderRepository.CompareAndSetStatus(ctx, id, from, to, h)
}

func (s *ServiceSuite) TestConcurrentAdvanceExactlyOneWins() {
	o := s.paidOrder()

	racer := &raceRepository{OrderRepository: s.orderRepo}
	racer.before = func() {
		_, err := s.orders.Cancel(s.ctx, o.ID, admin, "restaurant closed")
		require.NoError(s.T(), err)
	}
	slow := NewOrderService(racer, s.catalog, s.events, zerolog.Nop())

	_, err := slow.AdvanceStatus(s.ctx, o.ID, models.StatusPreparing, staff, "")
	require.ErrorIs(s.T(), err, apperr.ErrTransitionConflict)

	got, err := s.orders.Get(s.ctx, o.ID, admin)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusCancelled, got.Status, "the first committed write stands")
}

func (s *ServiceSuite) TestParallelAdvanceSingleWinner() {
	o := s.paidOrder()
	_, err := s.orders.AdvanceStatus(s.ctx, o.ID, models.StatusPreparing, staff, "")
	require.NoError(s.T(), err)

	// from Preparing each target closes the other off
	targets := []models.OrderStatus{models.StatusWaitingForPickup, models.StatusCancelled, models.StatusWaitingForPickup, models.StatusCancelled}

	var wg sync.WaitGroup
	results := make([]error, len(targets))
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t models.OrderStatus) {
			defer wg.Done()
			_, results[i] = s.orders.AdvanceStatus(s.ctx, o.ID, t, admin, "")
		}(i, t)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		// losers either lost the compare-and-set or read the new status first
		require.True(s.T(), apperr.KindOf(err) == apperr.KindConflict, err.Error())
	}
	require.Equal(s.T(), 1, wins)
}

func (s *ServiceSuite) TestCancelRacingPaymentKeepsOneOutcome() {
	o := s.placeOrder()

	racer := &raceRepository{OrderRepository: s.orderRepo}
	racer.before = func() {
		_, err := s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx", Outcome: PaymentSucceeded})
		require.NoError(s.T(), err)
	}
	slow := NewOrderService(racer, s.catalog, s.events, zerolog.Nop())

	_, err := slow.Cancel(s.ctx, o.ID, customer, "")
	require.ErrorIs(s.T(), err, apperr.ErrTransitionConflict)

	got, _ := s.orders.Get(s.ctx, o.ID, admin)
	require.Equal(s.T(), models.StatusConfirmed, got.Status)
	require.Equal(s.T(), models.PaymentPaid, got.PaymentStatus)
}

func (s *ServiceSuite) TestEditsOnlyWhilePending() {
	o := s.placeOrder()

	moved := homeAddress
	moved.Street = "77 Duplication Road"
	got, err := s.orders.UpdateDeliveryAddress(s.ctx, o.ID, customer, moved)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "77 Duplication Road", got.DeliveryAddress.Street)

	got, err = s.orders.UpdateSpecialInstructions(s.ctx, o.ID, customer, "no chilli")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "no chilli", got.SpecialInstructions)

	_, err = s.orders.UpdateSpecialInstructions(s.ctx, o.ID, otherCust, "extra chilli")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	_, err = s.orders.ConfirmPayment(s.ctx, o.ID, PaymentDetails{TransactionID: "tx", Outcome: PaymentSucceeded})
	require.NoError(s.T(), err)

	_, err = s.orders.UpdateDeliveryAddress(s.ctx, o.ID, customer, homeAddress)
	require.ErrorIs(s.T(), err, apperr.ErrOrderLocked)
}

func (s *ServiceSuite) TestRemoveRules() {
	paid := s.paidOrder()
	err := s.orders.Remove(s.ctx, paid.ID, customer)
	require.ErrorIs(s.T(), err, apperr.ErrOrderLocked)

	pending := s.placeOrder()
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(s.orders.Remove(s.ctx, pending.ID, otherCust)))
	require.NoError(s.T(), s.orders.Remove(s.ctx, pending.ID, customer))
	_, err = s.orders.Get(s.ctx, pending.ID, customer)
	require.ErrorIs(s.T(), err, apperr.ErrOrderNotFound)

	cancelled := s.placeOrder()
	_, err = s.orders.Cancel(s.ctx, cancelled.ID, customer, "")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.orders.Remove(s.ctx, cancelled.ID, customer))
}

func (s *ServiceSuite) TestReadScoping() {
	o := s.placeOrder()

	_, err := s.orders.Get(s.ctx, o.ID, otherCust)
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))
	_, err = s.orders.Get(s.ctx, o.ID, otherStaff)
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))
	_, err = s.orders.Get(s.ctx, o.ID, staff)
	require.NoError(s.T(), err)

	mine, err := s.orders.ListForCustomer(s.ctx, customer)
	require.NoError(s.T(), err)
	require.Len(s.T(), mine, 1)
	theirs, err := s.orders.ListForCustomer(s.ctx, otherCust)
	require.NoError(s.T(), err)
	require.Empty(s.T(), theirs)

	board, err := s.orders.ListForRestaurant(s.ctx, staff, "", "")
	require.NoError(s.T(), err)
	require.Len(s.T(), board.Orders, 1)
	require.Len(s.T(), board.Summary, 1)

	_, err = s.orders.ListForRestaurant(s.ctx, staff, "r2", "")
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))

	byOwner, err := s.orders.ListForRestaurant(s.ctx, owner, "r1", models.StatusPending)
	require.NoError(s.T(), err)
	require.Len(s.T(), byOwner.Orders, 1)

	_, err = s.orders.ListAll(s.ctx, customer, repository.OrderFilter{})
	require.Equal(s.T(), apperr.KindAuthorization, apperr.KindOf(err))
}

// stalledPublisher never reaches the broker and gives up only when ctx ends.
type stalledPublisher struct{ deadlines chan bool }

func (p stalledPublisher) Publish(ctx context.Context, _ events.OrderEvent) error {
	_, ok := ctx.Deadline()
	p.deadlines <- ok
	<-ctx.Done()
	return ctx.Err()
}

func (stalledPublisher) Close() error { return nil }

func (s *ServiceSuite) TestStalledBrokerDoesNotHoldMutations() {
	pub := stalledPublisher{deadlines: make(chan bool, 8)}
	s.orders = NewOrderService(s.orderRepo, s.catalog, pub, zerolog.Nop())
	s.orders.publishTimeout = 50 * time.Millisecond
	s.carts = NewCartService(s.cartRepo, s.orders, zerolog.Nop())

	start := time.Now()
	o := s.placeOrder()
	_, err := s.orders.Cancel(s.ctx, o.ID, customer, "too slow")
	require.NoError(s.T(), err)
	require.Less(s.T(), time.Since(start), 2*time.Second)

	require.True(s.T(), <-pub.deadlines)
	got, err := s.orderRepo.FindByID(s.ctx, o.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusCancelled, got.Status)
}
