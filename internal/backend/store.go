package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableside/pkg/logging"
)

// NotFoundError indicates a lookup for a menu item, cart, or order that
// does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Store is the in-memory ordering state: the menu, per-session carts, and
// placed orders. Safe for concurrent use. State does not survive process
// restarts.
type Store struct {
	mu     sync.RWMutex
	menu   []MenuItem
	carts  map[string]*Cart
	orders map[string]*Order
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		carts:  make(map[string]*Cart),
		orders: make(map[string]*Order),
	}
}

// ReplaceMenu swaps the entire menu atomically. Existing carts keep the item
// snapshots they were built with.
func (s *Store) ReplaceMenu(items []MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.menu = make([]MenuItem, len(items))
	copy(s.menu, items)

	logging.Info("Backend", "Menu replaced: %d items", len(items))
}

// MenuItems returns available menu items, optionally filtered by category
// and a case-insensitive name/description/tag query.
func (s *Store) MenuItems(category, query string) []MenuItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	category = strings.ToLower(category)

	var result []MenuItem
	for _, item := range s.menu {
		if !item.Available {
			continue
		}
		if category != "" && strings.ToLower(item.Category) != category {
			continue
		}
		if query != "" && !itemMatches(item, query) {
			continue
		}
		result = append(result, item)
	}
	return result
}

func itemMatches(item MenuItem, query string) bool {
	if strings.Contains(strings.ToLower(item.Name), query) ||
		strings.Contains(strings.ToLower(item.Description), query) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// MenuItem returns one menu item by id.
func (s *Store) MenuItem(id string) (MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.menu {
		if item.ID == id {
			return item, nil
		}
	}
	return MenuItem{}, &NotFoundError{Kind: "menu item", ID: id}
}

// AddToCart adds quantity of an item to the session's cart, creating the
// cart on first use. Unavailable items are rejected.
func (s *Store) AddToCart(sessionID, itemID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var item *MenuItem
	for i := range s.menu {
		if s.menu[i].ID == itemID {
			item = &s.menu[i]
			break
		}
	}
	if item == nil {
		return Cart{}, &NotFoundError{Kind: "menu item", ID: itemID}
	}
	if !item.Available {
		return Cart{}, fmt.Errorf("menu item %s is not available", itemID)
	}

	cart, ok := s.carts[sessionID]
	if !ok {
		cart = &Cart{SessionID: sessionID}
		s.carts[sessionID] = cart
	}

	found := false
	for i := range cart.Lines {
		if cart.Lines[i].Item.ID == itemID {
			cart.Lines[i].Quantity += quantity
			found = true
			break
		}
	}
	if !found {
		cart.Lines = append(cart.Lines, CartLine{Item: *item, Quantity: quantity})
	}

	s.recalculate(cart)
	return *cart, nil
}

// RemoveFromCart removes up to quantity of an item from the session's cart.
// A quantity of zero or covering the whole line removes the line.
func (s *Store) RemoveFromCart(sessionID, itemID string, quantity int) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[sessionID]
	if !ok {
		return Cart{}, &NotFoundError{Kind: "cart", ID: sessionID}
	}

	for i := range cart.Lines {
		if cart.Lines[i].Item.ID != itemID {
			continue
		}
		if quantity <= 0 || quantity >= cart.Lines[i].Quantity {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
		} else {
			cart.Lines[i].Quantity -= quantity
		}
		s.recalculate(cart)
		return *cart, nil
	}

	return Cart{}, &NotFoundError{Kind: "cart line", ID: itemID}
}

// GetCart returns the session's cart. A session without a cart gets an
// empty one back, not an error; absence is represented, not thrown.
func (s *Store) GetCart(sessionID string) Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[sessionID]
	if !ok {
		return Cart{SessionID: sessionID}
	}
	return *cart
}

// ClearCart empties the session's cart.
func (s *Store) ClearCart(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
}

// PlaceOrder turns the session's cart into an order and clears the cart.
func (s *Store) PlaceOrder(sessionID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[sessionID]
	if !ok || len(cart.Lines) == 0 {
		return Order{}, fmt.Errorf("cart for session %s is empty", sessionID)
	}

	order := &Order{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Lines:      cart.Lines,
		TotalCents: cart.TotalCents,
		Status:     OrderStatusReceived,
		PlacedAt:   time.Now(),
	}
	s.orders[order.ID] = order
	delete(s.carts, sessionID)

	logging.Info("Backend", "Order %s placed for session %s (%d cents)",
		order.ID, logging.TruncateSessionID(sessionID), order.TotalCents)

	return *order, nil
}

// GetOrder returns one order by id.
func (s *Store) GetOrder(orderID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	return *order, nil
}

// ListOrders returns the session's orders, newest first.
func (s *Store) ListOrders(sessionID string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Order
	for _, order := range s.orders {
		if order.SessionID == sessionID {
			result = append(result, *order)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PlacedAt.After(result[j].PlacedAt)
	})
	return result
}

// SetOrderStatus advances an order's status.
func (s *Store) SetOrderStatus(orderID string, status OrderStatus) (Order, error) {
	if !status.Valid() {
		return Order{}, fmt.Errorf("unknown order status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	order.Status = status
	return *order, nil
}

// recalculate updates a cart's total and timestamp. Caller holds s.mu.
func (s *Store) recalculate(cart *Cart) {
	total := 0
	for _, line := range cart.Lines {
		total += line.Item.PriceCents * line.Quantity
	}
	cart.TotalCents = total
	cart.UpdatedAt = time.Now()
}
