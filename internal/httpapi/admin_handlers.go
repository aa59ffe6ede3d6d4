package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"doorlist.app/internal/coupon"
	"doorlist.app/internal/invite"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/ticket"
)

func resourceID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// --- tickets ---

type ticketRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Stock  int    `json:"stock"`
	Active *bool  `json:"active"`
}

func (a *API) handleAdminTickets(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tickets, err := a.d.Tickets.List(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
	case http.MethodPost:
		var req ticketRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" || req.Price < 0 || req.Stock < 0 {
			writeError(w, r, http.StatusBadRequest, "name, non-negative price and stock are required")
			return
		}
		t := &ticket.Ticket{
			ID:     req.ID,
			Name:   req.Name,
			Price:  req.Price,
			Stock:  req.Stock,
			Active: true,
		}
		if req.Active != nil {
			t.Active = *req.Active
		}
		if err := a.d.Tickets.Create(r.Context(), t); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.audit(r.Context(), "admin.ticket.created", map[string]any{"ticket_id": t.ID})
		writeJSON(w, http.StatusCreated, t)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminTicketResource(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	id, ok := resourceID(r.URL.Path, "/v1/admin/tickets/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	t, err := a.d.Tickets.Find(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "ticket not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, t)
	case http.MethodPut:
		var req ticketRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) != "" {
			t.Name = req.Name
		}
		if req.Price > 0 {
			t.Price = req.Price
		}
		if req.Stock >= 0 {
			t.Stock = req.Stock
		}
		if req.Active != nil {
			t.Active = *req.Active
		}
		if err := a.d.Tickets.Update(r.Context(), t); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.audit(r.Context(), "admin.ticket.updated", map[string]any{"ticket_id": t.ID})
		writeJSON(w, http.StatusOK, t)
	case http.MethodDelete:
		// Soft delete keeps sold orders pointing at a real row.
		t.Active = false
		if err := a.d.Tickets.Update(r.Context(), t); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.audit(r.Context(), "admin.ticket.deactivated", map[string]any{"ticket_id": t.ID})
		writeJSON(w, http.StatusOK, t)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- coupons ---

type couponRequest struct {
	Code            string     `json:"code"`
	DiscountPercent int        `json:"discount_percent"`
	DiscountFixed   int64      `json:"discount_fixed"`
	MaxUses         int        `json:"max_uses"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until"`
}

func (a *API) handleAdminCoupons(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		coupons, err := a.d.Coupons.List(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
	case http.MethodPost:
		var req couponRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Code) == "" {
			writeError(w, r, http.StatusBadRequest, "code is required")
			return
		}
		if (req.DiscountPercent <= 0) == (req.DiscountFixed <= 0) {
			writeError(w, r, http.StatusBadRequest, "exactly one of discount_percent or discount_fixed is required")
			return
		}
		if req.DiscountPercent > 100 {
			writeError(w, r, http.StatusBadRequest, "discount_percent must be at most 100")
			return
		}
		c := &coupon.Coupon{
			Code:            coupon.NormalizeCode(req.Code),
			DiscountPercent: req.DiscountPercent,
			DiscountFixed:   req.DiscountFixed,
			MaxUses:         req.MaxUses,
			Active:          true,
		}
		if req.ValidFrom != nil {
			c.ValidFrom = *req.ValidFrom
		}
		if req.ValidUntil != nil {
			c.ValidUntil = *req.ValidUntil
		}
		if err := a.d.Coupons.Create(r.Context(), c); err != nil {
			if errors.Is(err, coupon.ErrExists) {
				writeError(w, r, http.StatusConflict, "coupon code already exists")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.audit(r.Context(), "admin.coupon.created", map[string]any{"code": c.Code})
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminCouponResource(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	code, ok := resourceID(r.URL.Path, "/v1/admin/coupons/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := a.d.Coupons.Find(r.Context(), code)
		if err != nil {
			writeError(w, r, http.StatusNotFound, "coupon not found")
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := a.d.Coupons.Deactivate(r.Context(), code); err != nil {
			writeError(w, r, http.StatusNotFound, "coupon not found")
			return
		}
		a.audit(r.Context(), "admin.coupon.deactivated", map[string]any{"code": coupon.NormalizeCode(code)})
		writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// --- invites ---

type inviteRequest struct {
	Code      string     `json:"code"`
	MaxUses   int        `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *API) handleAdminInvites(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		invites, err := a.d.Invites.List(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
	case http.MethodPost:
		var req inviteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Code) == "" || req.MaxUses <= 0 {
			writeError(w, r, http.StatusBadRequest, "code and positive max_uses are required")
			return
		}
		inv := &invite.Invite{
			Code:    invite.NormalizeCode(req.Code),
			MaxUses: req.MaxUses,
			Active:  true,
		}
		if req.ExpiresAt != nil {
			inv.ExpiresAt = *req.ExpiresAt
		}
		if err := a.d.Invites.Create(r.Context(), inv); err != nil {
			if errors.Is(err, invite.ErrExists) {
				writeError(w, r, http.StatusConflict, "invite code already exists")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.audit(r.Context(), "admin.invite.created", map[string]any{"code": inv.Code})
		writeJSON(w, http.StatusCreated, inv)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminInviteResource(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	code, ok := resourceID(r.URL.Path, "/v1/admin/invites/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		inv, err := a.d.Invites.Find(r.Context(), code)
		if err != nil {
			writeError(w, r, http.StatusNotFound, "invite not found")
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodDelete:
		if err := a.d.Invites.Deactivate(r.Context(), code); err != nil {
			writeError(w, r, http.StatusNotFound, "invite not found")
			return
		}
		a.audit(r.Context(), "admin.invite.deactivated", map[string]any{"code": invite.NormalizeCode(code)})
		writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// --- orders ---

// handleAdminOrderRefund flips a paid order to refunded, restores stock and
// appends the compensating ledger entry.
func (a *API) handleAdminOrderRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/orders/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" || action != "refund" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if err := a.d.Reconciler.Refund(r.Context(), a.d.Ledger, id); err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderNotFound):
			writeError(w, r, http.StatusNotFound, "order not found")
		case errors.Is(err, payment.ErrStatusConflict):
			writeError(w, r, http.StatusConflict, "only paid orders can be refunded")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	a.audit(r.Context(), "admin.order.refunded", map[string]any{"order_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"refunded": true})
}

// --- users, stats, ledger ---

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	profiles, err := a.d.Auth.ListProfiles(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": profiles})
}

// handleAdminUserEvents lists a profile's security event trail, newest window
// first. Defaults to the last 30 days.
func (a *API) handleAdminUserEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" || action != "events" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	since := time.Now().Add(-30 * 24 * time.Hour)
	events, err := a.d.Auth.SecurityEvents(r.Context(), id, since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	orders, err := a.d.Orders.ListOrders(r.Context(), "")
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	var (
		revenue  int64
		sold     int
		byStatus = map[payment.Status]int{}
	)
	for _, o := range orders {
		byStatus[o.Status]++
		if o.Status == payment.StatusPaid {
			revenue += o.FinalPrice
			sold += o.Quantity
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders_total":     len(orders),
		"orders_by_status": byStatus,
		"tickets_sold":     sold,
		"revenue":          revenue,
	})
}

func (a *API) handleAdminLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		v, err := parsePositiveInt(raw, 0, 0, 1<<31)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = uint64(v)
	}
	entries, next, err := a.d.Ledger.List(r.Context(), limit, after)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"next":    next,
	})
}
