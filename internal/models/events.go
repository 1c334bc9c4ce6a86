package models

import "time"

// Event types
const (
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypeOrderFulfilled   = "ORDER_FULFILLED"
	EventTypeOrderActive      = "ORDER_ACTIVE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSucceededEvent is published by the payment webhook once a checkout
// completes. It is the trigger for the fulfillment saga.
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID       string        `json:"order_id"`
	CustomerEmail string        `json:"customer_email"`
	Domains       []OrderDomain `json:"domains"`
}

// OrderFulfilledEvent is published after a saga run with the aggregate outcome.
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID           string         `json:"order_id"`
	FulfillmentStatus string         `json:"fulfillment_status"`
	Results           []DomainResult `json:"results"`
}

// OrderActiveEvent is published when DNS propagation is verified for every
// domain of an order.
type OrderActiveEvent struct {
	BaseEvent
	OrderID       string   `json:"order_id"`
	CustomerEmail string   `json:"customer_email"`
	Domains       []string `json:"domains"`
}
