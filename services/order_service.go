package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cart-order-service/apperr"
	"cart-order-service/catalog"
	"cart-order-service/events"
	"cart-order-service/models"
	"cart-order-service/repository"
	"cart-order-service/statemachine"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxInstructionsLength = 500

// OrderRepository is the persistence the order ledger needs. Every write is
// conditional and reports whether it matched.
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindBySourceCart(ctx context.Context, cartID string, version int) (*models.Order, error)
	LatestBySourceCart(ctx context.Context, cartID string) (*models.Order, error)
	List(ctx context.Context, f repository.OrderFilter) ([]models.Order, error)
	CountByStatus(ctx context.Context, f repository.OrderFilter) ([]repository.StatusCount, error)
	PaidRevenue(ctx context.Context, f repository.OrderFilter) (decimal.Decimal, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus, h models.OrderStatusHistory) (bool, error)
	MarkPaid(ctx context.Context, id, reference string, method models.PaymentMethod, h models.OrderStatusHistory) (bool, error)
	MarkPaymentFailed(ctx context.Context, id, reference string, h models.OrderStatusHistory) (bool, error)
	UpdatePendingDetails(ctx context.Context, id string, fields map[string]any) (bool, error)
	DeleteRemovable(ctx context.Context, id string) (bool, error)
}

type OrderLineInput struct {
	MenuItemID string
	Quantity   int
	Addons     []models.Addon
}

type CreateOrderInput struct {
	RestaurantID        string
	Lines               []OrderLineInput
	DeliveryAddress     models.Address
	PaymentMethod       models.PaymentMethod
	SpecialInstructions string
}

type CheckoutInput struct {
	DeliveryAddress     models.Address
	PaymentMethod       models.PaymentMethod
	SpecialInstructions string
}

type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "success"
	PaymentDeclined  PaymentOutcome = "failed"
)

// PaymentDetails is what the payment collaborator reports for one charge.
type PaymentDetails struct {
	TransactionID string
	Outcome       PaymentOutcome
	Method        models.PaymentMethod
}

type RestaurantOrders struct {
	Orders  []models.Order           `json:"orders"`
	Summary []repository.StatusCount `json:"summary"`
}

type AdminOrders struct {
	Orders  []models.Order           `json:"orders"`
	Summary []repository.StatusCount `json:"summary"`
	Revenue decimal.Decimal          `json:"revenue"`
}

// OrderService is the order ledger: it creates orders and is the only writer
// of order status and payment state.
type OrderService struct {
	orders  OrderRepository
	catalog catalog.Client
	events  events.Publisher
	log     zerolog.Logger

	publishTimeout time.Duration
}

// defaultPublishTimeout bounds how long a committed write waits on the broker.
const defaultPublishTimeout = 2 * time.Second

func NewOrderService(orders OrderRepository, cat catalog.Client, pub events.Publisher, log zerolog.Logger) *OrderService {
	if pub == nil {
		pub = events.Noop{}
	}
	return &OrderService{
		orders:  orders,
		catalog: cat,
		events:  pub,
		log:     log.With().Str("component", "order_ledger").Logger(),

		publishTimeout: defaultPublishTimeout,
	}
}

// Create builds an order directly from menu item ids. Prices come from the
// catalog and are frozen on the order.
func (s *OrderService) Create(ctx context.Context, who models.Identity, in CreateOrderInput) (*models.Order, error) {
	if !who.IsCustomer() {
		return nil, apperr.Forbidden("only customers can place orders")
	}
	if err := validateOrderDetails(in.DeliveryAddress, in.PaymentMethod, in.SpecialInstructions); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.RestaurantID) == "" {
		return nil, apperr.Validation("restaurant_id is required")
	}
	if len(in.Lines) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}

	menu, err := s.fetchMenu(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(in.Lines))
	total := decimal.Zero
	for _, l := range in.Lines {
		if l.Quantity < 1 {
			return nil, apperr.Validation(fmt.Sprintf("quantity for %s must be at least 1", l.MenuItemID))
		}
		if err := validateAddons(l.Addons); err != nil {
			return nil, err
		}
		mi, ok := menu[l.MenuItemID]
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("menu item %s is not offered by restaurant %s", l.MenuItemID, in.RestaurantID)).
				WithDetail("menu_item_id", l.MenuItemID)
		}
		line := models.CartLine{MenuItemID: mi.ID, UnitPrice: mi.Price, Quantity: l.Quantity, Addons: l.Addons}
		items = append(items, models.OrderItem{
			MenuItemID: mi.ID,
			Name:       mi.Name,
			Quantity:   l.Quantity,
			UnitPrice:  line.EffectiveUnitPrice(),
			Addons:     l.Addons,
		})
		total = total.Add(line.Subtotal())
	}

	o := newOrder(who.SubjectID, in.RestaurantID, items, total, in.DeliveryAddress, in.PaymentMethod, in.SpecialInstructions)
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, apperr.Internal(err, "failed to create order")
	}

	s.log.Info().Str("order_id", o.ID).Str("customer_id", o.CustomerID).
		Str("restaurant_id", o.RestaurantID).Str("total", o.TotalAmount.StringFixed(2)).Msg("order created")
	s.publish(ctx, events.OrderCreated, o)
	return o, nil
}

// CreateFromCart turns a cart snapshot into an order, keeping the prices the
// cart captured. It is idempotent per cart version: a retried checkout of the
// same snapshot returns the order that was already created for it.
func (s *OrderService) CreateFromCart(ctx context.Context, cart *models.Cart, in CheckoutInput) (*models.Order, error) {
	if cart.IsEmpty() {
		return nil, apperr.ErrEmptyCart
	}
	if err := validateOrderDetails(in.DeliveryAddress, in.PaymentMethod, in.SpecialInstructions); err != nil {
		return nil, err
	}

	if existing, err := s.orders.FindBySourceCart(ctx, cart.ID, cart.Version); err == nil {
		s.log.Warn().Str("order_id", existing.ID).Str("cart_id", cart.ID).Msg("checkout retried for a cart that already has an order")
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal(err, "failed to look up existing order for cart")
	}

	menu, err := s.fetchMenu(ctx, cart.RestaurantID)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(cart.Lines))
	total := decimal.Zero
	for _, l := range cart.Lines {
		if _, ok := menu[l.MenuItemID]; !ok {
			return nil, apperr.Validation(fmt.Sprintf("menu item %s is no longer offered by restaurant %s", l.MenuItemID, cart.RestaurantID)).
				WithDetail("menu_item_id", l.MenuItemID)
		}
		items = append(items, models.OrderItem{
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Quantity:   l.Quantity,
			UnitPrice:  l.EffectiveUnitPrice(),
			Addons:     l.Addons,
		})
		total = total.Add(l.Subtotal())
	}

	o := newOrder(cart.OwnerID, cart.RestaurantID, items, total, in.DeliveryAddress, in.PaymentMethod, in.SpecialInstructions)
	cartID := cart.ID
	o.SourceCartID = &cartID
	o.SourceCartVersion = cart.Version

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent checkout of the same cart won
			if existing, ferr := s.orders.FindBySourceCart(ctx, cart.ID, cart.Version); ferr == nil {
				return existing, nil
			}
		}
		return nil, apperr.Internal(err, "failed to create order from cart")
	}

	s.log.Info().Str("order_id", o.ID).Str("cart_id", cart.ID).Str("customer_id", o.CustomerID).
		Str("total", o.TotalAmount.StringFixed(2)).Msg("order created from cart")
	s.publish(ctx, events.OrderCreated, o)
	return o, nil
}

// LatestForCart returns the newest order checked out from cartID, or nil.
func (s *OrderService) LatestForCart(ctx context.Context, cartID string) (*models.Order, error) {
	o, err := s.orders.LatestBySourceCart(ctx, cartID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to look up orders for cart")
	}
	return o, nil
}

func newOrder(customerID, restaurantID string, items []models.OrderItem, total decimal.Decimal,
	addr models.Address, method models.PaymentMethod, instructions string) *models.Order {
	return &models.Order{
		ID:                  uuid.NewString(),
		CustomerID:          customerID,
		RestaurantID:        restaurantID,
		Status:              models.StatusPending,
		TotalAmount:         total,
		DeliveryAddress:     addr,
		PaymentStatus:       models.PaymentPending,
		PaymentMethod:       method,
		SpecialInstructions: strings.TrimSpace(instructions),
		Items:               items,
		StatusHistory: []models.OrderStatusHistory{{
			ToStatus:  models.StatusPending,
			ChangedBy: customerID,
			Note:      "order placed",
		}},
	}
}

// AdvanceStatus moves an order one edge along the lifecycle graph.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID string, target models.OrderStatus, who models.Identity, note string) (*models.Order, error) {
	if !target.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", target))
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var actor statemachine.Actor
	switch {
	case who.IsAdmin():
		actor = statemachine.ActorAdmin
	case who.IsRestaurant():
		if err := s.authorizeStaff(ctx, o, who); err != nil {
			return nil, err
		}
		actor = statemachine.ActorRestaurant
	case who.IsCustomer():
		if o.CustomerID != who.SubjectID {
			return nil, apperr.Forbidden("order belongs to another customer")
		}
		actor = statemachine.ActorCustomer
	default:
		return nil, apperr.Forbidden("unknown role")
	}

	return s.transition(ctx, o, target, actor, who.SubjectID, note)
}

// Cancel moves the order to Cancelled on behalf of its customer, its
// restaurant or an admin.
func (s *OrderService) Cancel(ctx context.Context, orderID string, who models.Identity, reason string) (*models.Order, error) {
	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", who.Role)
	}
	return s.AdvanceStatus(ctx, orderID, models.StatusCancelled, who, reason)
}

func (s *OrderService) transition(ctx context.Context, o *models.Order, target models.OrderStatus,
	actor statemachine.Actor, changedBy, note string) (*models.Order, error) {
	from := o.Status
	if err := statemachine.CanTransition(from, target, actor); err != nil {
		return nil, transitionError(err, from)
	}

	ok, err := s.orders.CompareAndSetStatus(ctx, o.ID, from, target, models.OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   target,
		ChangedBy:  changedBy,
		Note:       note,
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to update order status")
	}
	if !ok {
		s.log.Warn().Str("order_id", o.ID).Str("from", string(from)).Str("to", string(target)).
			Str("actor", string(actor)).Msg("status transition lost a race")
		return nil, apperr.ErrTransitionConflict.WithDetail("expected_status", from).
			WithMessage("order was modified concurrently; re-read it and retry")
	}

	updated, err := s.load(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", o.ID).Str("from", string(from)).Str("to", string(target)).
		Str("actor", string(actor)).Str("changed_by", changedBy).Msg("order status changed")

	evt := events.OrderStatusChanged
	if target == models.StatusCancelled {
		evt = events.OrderCancelled
	}
	s.publish(ctx, evt, updated)
	return updated, nil
}

// ConfirmPayment applies a payment outcome. A successful charge sets payment
// to paid and status to Confirmed in one write; a duplicate returns
// ErrAlreadyPaid and changes nothing.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string, p PaymentDetails) (*models.Order, error) {
	if p.Outcome != PaymentSucceeded && p.Outcome != PaymentDeclined {
		return nil, apperr.Validation(fmt.Sprintf("unknown payment outcome %q", p.Outcome))
	}
	if p.Method != "" && !p.Method.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown payment method %q", p.Method))
	}

	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == models.PaymentPaid {
		s.log.Info().Str("order_id", o.ID).Str("transaction_id", p.TransactionID).Msg("duplicate payment confirmation")
		return nil, alreadyPaid(o)
	}
	if o.Status != models.StatusPending {
		s.log.Warn().Str("order_id", o.ID).Str("status", string(o.Status)).Str("transaction_id", p.TransactionID).
			Str("outcome", string(p.Outcome)).Msg("payment event for an order no longer awaiting payment")
		return nil, apperr.ErrTransitionConflict.WithDetail("current_status", o.Status).
			WithMessage(fmt.Sprintf("order is %s and no longer awaits payment", o.Status))
	}

	if p.Outcome == PaymentDeclined {
		return s.recordDeclined(ctx, o, p)
	}

	if err := statemachine.CanTransition(o.Status, models.StatusConfirmed, statemachine.ActorPayment); err != nil {
		return nil, transitionError(err, o.Status)
	}
	ok, err := s.orders.MarkPaid(ctx, o.ID, p.TransactionID, p.Method, models.OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: models.StatusPending,
		ToStatus:   models.StatusConfirmed,
		ChangedBy:  string(statemachine.ActorPayment),
		Note:       "payment received " + p.TransactionID,
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to record payment")
	}
	if !ok {
		return nil, s.paymentRaceError(ctx, o.ID, p)
	}

	updated, err := s.load(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", o.ID).Str("transaction_id", p.TransactionID).Msg("order paid and confirmed")
	s.publish(ctx, events.OrderPaid, updated)
	return updated, nil
}

func (s *OrderService) recordDeclined(ctx context.Context, o *models.Order, p PaymentDetails) (*models.Order, error) {
	if o.PaymentStatus == models.PaymentFailed {
		return o, nil
	}
	ok, err := s.orders.MarkPaymentFailed(ctx, o.ID, p.TransactionID, models.OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   o.Status,
		ChangedBy:  string(statemachine.ActorPayment),
		Note:       "payment failed " + p.TransactionID,
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to record payment failure")
	}
	if !ok {
		return nil, s.paymentRaceError(ctx, o.ID, p)
	}
	updated, err := s.load(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", o.ID).Str("transaction_id", p.TransactionID).Msg("payment failed")
	s.publish(ctx, events.OrderPaymentFailed, updated)
	return updated, nil
}

// paymentRaceError explains why a conditional payment write did not match.
func (s *OrderService) paymentRaceError(ctx context.Context, orderID string, p PaymentDetails) error {
	cur, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if cur.PaymentStatus == models.PaymentPaid {
		return alreadyPaid(cur)
	}
	s.log.Warn().Str("order_id", orderID).Str("status", string(cur.Status)).
		Str("transaction_id", p.TransactionID).Msg("payment lost a race with a status change")
	return apperr.ErrTransitionConflict.WithDetail("current_status", cur.Status).
		WithMessage("order changed while the payment was applied")
}

func alreadyPaid(o *models.Order) error {
	return apperr.ErrAlreadyPaid.WithDetail("payment_reference", o.PaymentReference).
		WithMessage("order has already been paid")
}

// UpdateDeliveryAddress is allowed for the owning customer while the order is Pending.
func (s *OrderService) UpdateDeliveryAddress(ctx context.Context, orderID string, who models.Identity, addr models.Address) (*models.Order, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	return s.updatePending(ctx, orderID, who, map[string]any{
		"delivery_street":   strings.TrimSpace(addr.Street),
		"delivery_city":     strings.TrimSpace(addr.City),
		"delivery_state":    strings.TrimSpace(addr.State),
		"delivery_zip_code": strings.TrimSpace(addr.ZipCode),
		"delivery_country":  strings.TrimSpace(addr.Country),
	})
}

func (s *OrderService) UpdateSpecialInstructions(ctx context.Context, orderID string, who models.Identity, instructions string) (*models.Order, error) {
	if len(instructions) > maxInstructionsLength {
		return nil, apperr.Validation(fmt.Sprintf("special instructions exceed %d characters", maxInstructionsLength))
	}
	return s.updatePending(ctx, orderID, who, map[string]any{
		"special_instructions": strings.TrimSpace(instructions),
	})
}

func (s *OrderService) updatePending(ctx context.Context, orderID string, who models.Identity, fields map[string]any) (*models.Order, error) {
	o, err := s.ownedByCustomer(ctx, orderID, who)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusPending {
		return nil, orderLocked(o)
	}
	ok, err := s.orders.UpdatePendingDetails(ctx, o.ID, fields)
	if err != nil {
		return nil, apperr.Internal(err, "failed to update order")
	}
	if !ok {
		cur, err := s.load(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		return nil, orderLocked(cur)
	}
	return s.load(ctx, o.ID)
}

// Remove hard-deletes an unpaid order that is Pending or Cancelled.
func (s *OrderService) Remove(ctx context.Context, orderID string, who models.Identity) error {
	o, err := s.ownedByCustomer(ctx, orderID, who)
	if err != nil {
		return err
	}
	if !removable(o) {
		return orderLocked(o)
	}
	ok, err := s.orders.DeleteRemovable(ctx, o.ID)
	if err != nil {
		return apperr.Internal(err, "failed to delete order")
	}
	if !ok {
		cur, err := s.load(ctx, o.ID)
		if err != nil {
			return err
		}
		return orderLocked(cur)
	}
	s.log.Info().Str("order_id", o.ID).Str("customer_id", who.SubjectID).Msg("order deleted")
	s.publish(ctx, events.OrderDeleted, o)
	return nil
}

func removable(o *models.Order) bool {
	if o.PaymentStatus == models.PaymentPaid {
		return false
	}
	return o.Status == models.StatusPending || o.Status == models.StatusCancelled
}

func orderLocked(o *models.Order) error {
	return apperr.ErrOrderLocked.WithDetail("current_status", o.Status).
		WithDetail("payment_status", o.PaymentStatus).
		WithMessage(fmt.Sprintf("order is %s (%s) and can no longer be changed", o.Status, o.PaymentStatus))
}

// Get returns one order if the caller may see it.
func (s *OrderService) Get(ctx context.Context, orderID string, who models.Identity) (*models.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case who.IsAdmin():
	case who.IsCustomer():
		if o.CustomerID != who.SubjectID {
			return nil, apperr.Forbidden("order belongs to another customer")
		}
	case who.IsRestaurant():
		if err := s.authorizeStaff(ctx, o, who); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Forbidden("unknown role")
	}
	return o, nil
}

func (s *OrderService) ListForCustomer(ctx context.Context, who models.Identity) ([]models.Order, error) {
	if !who.IsCustomer() {
		return nil, apperr.Forbidden("only customers have personal orders")
	}
	list, err := s.orders.List(ctx, repository.OrderFilter{CustomerID: who.SubjectID})
	if err != nil {
		return nil, apperr.Internal(err, "failed to list orders")
	}
	return list, nil
}

// ListForRestaurant lists the orders of the caller's restaurant. Staff whose
// identity carries no restaurant must name one they own.
func (s *OrderService) ListForRestaurant(ctx context.Context, who models.Identity, restaurantID string, status models.OrderStatus) (*RestaurantOrders, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", status))
	}
	if who.RestaurantID != "" {
		if restaurantID != "" && restaurantID != who.RestaurantID {
			return nil, apperr.Forbidden("restaurant staff can only see their own restaurant")
		}
		restaurantID = who.RestaurantID
	}
	if restaurantID == "" {
		return nil, apperr.Validation("restaurant_id is required")
	}
	if err := s.authorizeStaff(ctx, &models.Order{RestaurantID: restaurantID}, who); err != nil {
		return nil, err
	}

	f := repository.OrderFilter{RestaurantID: restaurantID, Status: status}
	list, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list restaurant orders")
	}
	summary, err := s.orders.CountByStatus(ctx, repository.OrderFilter{RestaurantID: restaurantID})
	if err != nil {
		return nil, apperr.Internal(err, "failed to summarize restaurant orders")
	}
	return &RestaurantOrders{Orders: list, Summary: summary}, nil
}

func (s *OrderService) ListAll(ctx context.Context, who models.Identity, f repository.OrderFilter) (*AdminOrders, error) {
	if !who.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	list, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list orders")
	}
	summary, err := s.orders.CountByStatus(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to summarize orders")
	}
	revenue, err := s.orders.PaidRevenue(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to compute revenue")
	}
	return &AdminOrders{Orders: list, Summary: summary, Revenue: revenue}, nil
}

func (s *OrderService) load(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrOrderNotFound.WithMessage(fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load order")
	}
	return o, nil
}

func (s *OrderService) ownedByCustomer(ctx context.Context, orderID string, who models.Identity) (*models.Order, error) {
	if !who.IsCustomer() {
		return nil, apperr.Forbidden("only the ordering customer can do this")
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != who.SubjectID {
		return nil, apperr.Forbidden("order belongs to another customer")
	}
	return o, nil
}

// authorizeStaff checks that a restaurant identity administers the order's
// restaurant: by the restaurant claim when present, otherwise by catalog ownership.
func (s *OrderService) authorizeStaff(ctx context.Context, o *models.Order, who models.Identity) error {
	if who.RestaurantID != "" {
		if who.RestaurantID != o.RestaurantID {
			return apperr.Forbidden("order belongs to another restaurant")
		}
		return nil
	}
	r, err := s.catalog.FetchRestaurant(ctx, o.RestaurantID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return apperr.Forbidden("restaurant is not known to the catalog")
	case err != nil:
		return apperr.Upstream(err, "could not verify restaurant ownership")
	}
	if r.OwnerID != who.SubjectID {
		return apperr.Forbidden("you do not administer this restaurant")
	}
	return nil
}

func (s *OrderService) fetchMenu(ctx context.Context, restaurantID string) (map[string]catalog.MenuItem, error) {
	items, err := s.catalog.FetchMenuItems(ctx, restaurantID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, apperr.Validation(fmt.Sprintf("restaurant %s does not exist", restaurantID))
	case errors.Is(err, catalog.ErrInvalid):
		return nil, apperr.Validation(fmt.Sprintf("catalog rejected restaurant id %s", restaurantID))
	case err != nil:
		s.log.Warn().Err(err).Str("restaurant_id", restaurantID).Msg("catalog unavailable")
		return nil, apperr.Upstream(err, "catalog service is unavailable, try again")
	}
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindUpstream, apperr.CodeCatalogEmpty,
			fmt.Sprintf("catalog returned no menu items for restaurant %s", restaurantID))
	}
	return catalog.IndexByID(items), nil
}

// publish never fails the caller; the committed order stands.
// publish is best effort: the write is already committed, so a slow or
// unreachable broker costs the caller at most publishTimeout.
func (s *OrderService) publish(ctx context.Context, t events.EventType, o *models.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, events.NewOrderEvent(t, o)); err != nil {
		s.log.Error().Err(err).Str("order_id", o.ID).Str("type", string(t)).Msg("failed to publish order event")
	}
}

func transitionError(err error, from models.OrderStatus) error {
	var illegal *statemachine.ErrIllegalTransition
	if errors.As(err, &illegal) {
		return apperr.Wrap(err, apperr.KindConflict, apperr.CodeIllegalTransition, err.Error()).
			WithDetail("current_status", from).
			WithDetail("valid_transitions", statemachine.ValidTransitionsFrom(from))
	}
	var denied *statemachine.ErrActorNotAllowed
	if errors.As(err, &denied) {
		return apperr.Wrap(err, apperr.KindAuthorization, apperr.CodeForbidden, err.Error())
	}
	return apperr.Internal(err, "unexpected transition check failure")
}
