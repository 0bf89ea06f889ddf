package statemachine

import (
	"fmt"
	"strings"

	"cart-order-service/models"
)

// Actor names who may trigger a transition
type Actor string

const (
	ActorRestaurant Actor = "restaurant"
	ActorCustomer   Actor = "customer"
	ActorAdmin      Actor = "admin"
	ActorPayment    Actor = "payment"
)

// Transition defines a valid state change and who can perform it
type Transition struct {
	From  models.OrderStatus `json:"from"`
	To    models.OrderStatus `json:"to"`
	Actor Actor              `json:"actor"`
}

// validTransitions is the authoritative state machine definition.
// Only forward edges exist; Delivered and Cancelled are terminal.
var validTransitions = []Transition{
	// Payment event confirms the order; admin may confirm manually
	{From: models.StatusPending, To: models.StatusConfirmed, Actor: ActorPayment},
	{From: models.StatusPending, To: models.StatusConfirmed, Actor: ActorAdmin},

	// Cancellation before pickup
	{From: models.StatusPending, To: models.StatusCancelled, Actor: ActorRestaurant},
	{From: models.StatusPending, To: models.StatusCancelled, Actor: ActorCustomer},
	{From: models.StatusPending, To: models.StatusCancelled, Actor: ActorAdmin},
	{From: models.StatusConfirmed, To: models.StatusCancelled, Actor: ActorRestaurant},
	{From: models.StatusConfirmed, To: models.StatusCancelled, Actor: ActorCustomer},
	{From: models.StatusConfirmed, To: models.StatusCancelled, Actor: ActorAdmin},
	{From: models.StatusPreparing, To: models.StatusCancelled, Actor: ActorRestaurant},
	{From: models.StatusPreparing, To: models.StatusCancelled, Actor: ActorCustomer},
	{From: models.StatusPreparing, To: models.StatusCancelled, Actor: ActorAdmin},

	// Kitchen and delivery progression
	{From: models.StatusConfirmed, To: models.StatusPreparing, Actor: ActorRestaurant},
	{From: models.StatusConfirmed, To: models.StatusPreparing, Actor: ActorAdmin},
	{From: models.StatusPreparing, To: models.StatusWaitingForPickup, Actor: ActorRestaurant},
	{From: models.StatusPreparing, To: models.StatusWaitingForPickup, Actor: ActorAdmin},
	{From: models.StatusWaitingForPickup, To: models.StatusOutForDelivery, Actor: ActorRestaurant},
	{From: models.StatusWaitingForPickup, To: models.StatusOutForDelivery, Actor: ActorAdmin},
	{From: models.StatusOutForDelivery, To: models.StatusDelivered, Actor: ActorRestaurant},
	{From: models.StatusOutForDelivery, To: models.StatusDelivered, Actor: ActorAdmin},
}

type transitionKey struct {
	From  models.OrderStatus
	To    models.OrderStatus
	Actor Actor
}

type edgeKey struct {
	From models.OrderStatus
	To   models.OrderStatus
}

var transitionMap = func() map[transitionKey]bool {
	m := make(map[transitionKey]bool)
	for _, t := range validTransitions {
		m[transitionKey{t.From, t.To, t.Actor}] = true
	}
	return m
}()

var edgeMap = func() map[edgeKey]bool {
	m := make(map[edgeKey]bool)
	for _, t := range validTransitions {
		m[edgeKey{t.From, t.To}] = true
	}
	return m
}()

// IsEdge reports whether from -> to exists in the adjacency graph for any actor.
func IsEdge(from, to models.OrderStatus) bool {
	return edgeMap[edgeKey{from, to}]
}

// ValidTransitionsFrom returns all valid next states from a given state
func ValidTransitionsFrom(status models.OrderStatus) []models.OrderStatus {
	nexts := []models.OrderStatus{}
	seen := map[models.OrderStatus]bool{}
	for _, t := range validTransitions {
		if t.From == status && !seen[t.To] {
			nexts = append(nexts, t.To)
			seen[t.To] = true
		}
	}
	return nexts
}

// IsTerminal reports whether a status has no outgoing edges.
func IsTerminal(status models.OrderStatus) bool {
	return len(ValidTransitionsFrom(status)) == 0
}

// ErrIllegalTransition is returned when from -> to is not an edge at all.
type ErrIllegalTransition struct {
	From, To models.OrderStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s. Valid transitions from %s are: %s",
		e.From, e.To, e.From, describeValidFrom(e.From))
}

// ErrActorNotAllowed is returned when the edge exists but not for this actor.
type ErrActorNotAllowed struct {
	From, To models.OrderStatus
	Actor    Actor
}

func (e *ErrActorNotAllowed) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed for actor '%s'", e.From, e.To, e.Actor)
}

// CanTransition checks if a given actor can move from one state to another
func CanTransition(from, to models.OrderStatus, actor Actor) error {
	if transitionMap[transitionKey{From: from, To: to, Actor: actor}] {
		return nil
	}
	if !IsEdge(from, to) {
		return &ErrIllegalTransition{From: from, To: to}
	}
	return &ErrActorNotAllowed{From: from, To: to, Actor: actor}
}

func describeValidFrom(status models.OrderStatus) string {
	nexts := ValidTransitionsFrom(status)
	if len(nexts) == 0 {
		return "none (terminal state)"
	}
	parts := make([]string, len(nexts))
	for i, s := range nexts {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// GetAllTransitions returns the full state machine for documentation
func GetAllTransitions() []Transition {
	out := make([]Transition, len(validTransitions))
	copy(out, validTransitions)
	return out
}
