package entity

import "fmt"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "created"
	StatusOrderAccepted   OrderStatus = "order_accepted"
	StatusInProgress      OrderStatus = "in_progress"
	StatusWaitingDelivery OrderStatus = "waiting_delivery"
	StatusDelivering      OrderStatus = "delivering"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:         {StatusOrderAccepted, StatusCancelled},
	StatusOrderAccepted:   {StatusInProgress},
	StatusInProgress:      {StatusWaitingDelivery},
	StatusWaitingDelivery: {StatusDelivering},
	StatusDelivering:      {StatusCompleted},
}

// ParseOrderStatus validates a raw status value.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(raw)
	switch s {
	case StatusCreated, StatusOrderAccepted, StatusInProgress, StatusWaitingDelivery,
		StatusDelivering, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown order status %q", raw)
	}
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether next directly follows s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Cancellable reports whether the order has not entered fulfillment yet.
func (s OrderStatus) Cancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}
