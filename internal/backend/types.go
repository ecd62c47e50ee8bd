package backend

import "time"

// MenuItem is one orderable item on the menu.
type MenuItem struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string   `json:"category" yaml:"category"`
	PriceCents  int      `json:"priceCents" yaml:"priceCents"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Available   bool     `json:"available" yaml:"available"`
}

// CartLine is one item with a quantity in a cart.
type CartLine struct {
	Item     MenuItem `json:"item"`
	Quantity int      `json:"quantity"`
}

// Cart holds a session's pending order.
type Cart struct {
	SessionID  string     `json:"sessionId"`
	Lines      []CartLine `json:"lines"`
	TotalCents int        `json:"totalCents"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

// Order lifecycle states.
const (
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusReceived, OrderStatusPreparing, OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a placed order.
type Order struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	Lines      []CartLine  `json:"lines"`
	TotalCents int         `json:"totalCents"`
	Status     OrderStatus `json:"status"`
	PlacedAt   time.Time   `json:"placedAt"`
}
