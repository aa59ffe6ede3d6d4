package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"doorlist.app/internal/auth"
	"doorlist.app/internal/coupon"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/ticket"
)

type createOrderRequest struct {
	TicketID   string `json:"ticket_id"`
	Quantity   int    `json:"quantity"`
	CouponCode string `json:"coupon_code"`
}

// handleTicketList lists the active catalogue. Stock and price are public to
// signed-in members; inactive tickets are hidden.
func (a *API) handleTicketList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireSession(w, r, true); !ok {
		return
	}
	all, err := a.d.Tickets.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	active := make([]*ticket.Ticket, 0, len(all))
	for _, t := range all {
		if t.Active {
			active = append(active, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": active})
}

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrder(w, r)
	case http.MethodGet:
		a.listOrders(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	order, err := a.d.Checkout.CreateOrder(r.Context(), session.ProfileID, req.TicketID, req.Quantity, req.CouponCode)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidQuantity):
			writeError(w, r, http.StatusBadRequest, "quantity must be positive")
		case errors.Is(err, ticket.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "ticket not found")
		case errors.Is(err, ticket.ErrSoldOut):
			writeError(w, r, http.StatusConflict, "not enough stock")
		case errors.Is(err, coupon.ErrInvalid):
			writeError(w, r, http.StatusBadRequest, "invalid coupon code")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	a.audit(r.Context(), "order.created", map[string]any{
		"order_id":  order.ID,
		"ticket_id": order.TicketID,
		"amount":    order.FinalPrice,
	})
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return
	}
	orders, err := a.d.Orders.ListOrders(r.Context(), session.ProfileID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	order, err := a.d.Orders.FindOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "order not found")
		return
	}
	// Owners see their own orders; admins see all of them.
	if order.UserID != session.ProfileID && session.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusNotFound, "order not found")
		return
	}
	payments, err := a.d.Orders.ListPayments(r.Context(), order.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":    order,
		"payments": payments,
	})
}
