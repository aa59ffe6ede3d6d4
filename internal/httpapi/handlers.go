// Package httpapi is the HTTP surface of the service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"doorlist.app/internal/audit"
	"doorlist.app/internal/auth"
	"doorlist.app/internal/coupon"
	"doorlist.app/internal/invite"
	"doorlist.app/internal/ledger"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/stream"
	"doorlist.app/internal/support"
	"doorlist.app/internal/ticket"
)

// ReadyProbe checks dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps collects everything the HTTP layer is wired with.
type Deps struct {
	Ready   ReadyProbe
	Version string

	Auth       *auth.Service
	Checkout   *payment.Checkout
	Processor  *payment.Processor
	Reconciler *payment.Reconciler
	Orders     payment.Store
	Tickets    ticket.Store
	Coupons    coupon.Store
	Invites    invite.Store
	Ledger     ledger.Service
	Events     *stream.Stream
	Support    *support.Service

	WebhookSecret    string
	WebhookTolerance time.Duration

	RateBurst  int
	RatePerSec int
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux
	d   Deps
	now func() time.Time
}

func New(d Deps) *API {
	if d.WebhookTolerance <= 0 {
		d.WebhookTolerance = 5 * time.Minute
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 20
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 10
	}
	a := &API{
		mux: http.NewServeMux(),
		d:   d,
		now: time.Now,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flow
	a.mux.HandleFunc("/v1/auth/invite/validate", a.handleInviteValidate)
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignUp)
	a.mux.HandleFunc("/v1/auth/signin", a.handleSignIn)
	a.mux.HandleFunc("/v1/auth/signout", a.handleSignOut)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)
	a.mux.HandleFunc("/v1/auth/mfa/setup", a.handleMFASetup)
	a.mux.HandleFunc("/v1/auth/mfa/activate", a.handleMFAActivate)
	a.mux.HandleFunc("/v1/auth/mfa/verify", a.handleMFAVerify)

	// member surface
	a.mux.HandleFunc("/v1/profile", a.handleProfile)
	a.mux.HandleFunc("/v1/support/session", a.handleSupportSession)
	a.mux.HandleFunc("/v1/tickets", a.handleTicketList)
	a.mux.HandleFunc("/v1/orders", a.handleOrdersCollection)
	a.mux.HandleFunc("/v1/orders/", a.handleOrderResource)

	// gateway webhook and jobs
	a.mux.HandleFunc("/process-payment", a.handleWebhook)
	a.mux.HandleFunc("/v1/jobs/reconcile", a.handleReconcile)

	// admin
	a.mux.HandleFunc("/v1/admin/tickets", a.handleAdminTickets)
	a.mux.HandleFunc("/v1/admin/tickets/", a.handleAdminTicketResource)
	a.mux.HandleFunc("/v1/admin/coupons", a.handleAdminCoupons)
	a.mux.HandleFunc("/v1/admin/coupons/", a.handleAdminCouponResource)
	a.mux.HandleFunc("/v1/admin/invites", a.handleAdminInvites)
	a.mux.HandleFunc("/v1/admin/invites/", a.handleAdminInviteResource)
	a.mux.HandleFunc("/v1/admin/orders/", a.handleAdminOrderRefund)
	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserEvents)
	a.mux.HandleFunc("/v1/admin/stats", a.handleAdminStats)
	a.mux.HandleFunc("/v1/admin/ledger", a.handleAdminLedger)
	a.mux.HandleFunc("/v1/admin/events", a.handleAdminEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.d.RateBurst, a.d.RatePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "doorlist-api",
		"version": a.d.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.d.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "doorlist-api",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.d.Version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

var errBodyRequired = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
