package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tableside/pkg/logging"
)

// RESTHandler serves the staff-facing admin API over the ordering store:
// browsing the menu, inspecting orders, and advancing order status.
type RESTHandler struct {
	store *Store
	mux   *http.ServeMux
}

// NewRESTHandler creates the admin API handler.
func NewRESTHandler(store *Store) *RESTHandler {
	h := &RESTHandler{
		store: store,
		mux:   http.NewServeMux(),
	}
	h.mux.HandleFunc("/menu", h.handleMenu)
	h.mux.HandleFunc("/menu/", h.handleMenuItem)
	h.mux.HandleFunc("/orders/", h.handleOrder)
	return h
}

func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *RESTHandler) handleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := h.store.MenuItems(r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, items)
}

func (h *RESTHandler) handleMenuItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/menu/")
	if id == "" {
		http.Error(w, "missing item id", http.StatusBadRequest)
		return
	}

	item, err := h.store.MenuItem(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleOrder serves GET /orders/{id} and POST /orders/{id}/status.
func (h *RESTHandler) handleOrder(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	if rest == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	if orderID, ok := strings.CutSuffix(rest, "/status"); ok {
		h.handleOrderStatus(w, r, orderID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	order, err := h.store.GetOrder(rest)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *RESTHandler) handleOrderStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Status OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.store.SetOrderStatus(orderID, body.Status)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			writeStoreError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logging.Info("Backend", "Order %s moved to %s", order.ID, order.Status)
	writeJSON(w, http.StatusOK, order)
}

func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Backend", err, "Failed to encode response")
	}
}
