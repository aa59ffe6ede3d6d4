package httpapi

import (
	"errors"
	"io"
	"net/http"

	"doorlist.app/internal/obs"
	"doorlist.app/internal/payment"
)

// handleWebhook receives gateway payment events. The endpoint is
// unauthenticated; trust comes from the signed header, and processing is
// idempotent so the gateway may retry freely.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to read body")
		return
	}
	header := r.Header.Get(payment.SignatureHeader)
	if err := payment.VerifySignature(a.d.WebhookSecret, body, header, a.now(), a.d.WebhookTolerance); err != nil {
		obs.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		a.audit(r.Context(), "webhook.bad_signature", map[string]any{
			"remote_ip": clientIP(r),
		})
		writeError(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}
	ev, err := payment.ParseEvent(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed event")
		return
	}
	if err := a.d.Processor.HandleEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, payment.ErrMissingMetadata):
			writeError(w, r, http.StatusBadRequest, "event metadata is incomplete")
		case errors.Is(err, payment.ErrOrderNotFound):
			writeError(w, r, http.StatusBadRequest, "unknown order reference")
		default:
			// 5xx tells the gateway to retry; replay is safe.
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "event processed",
	})
}

// handleReconcile runs the pending-order sweep on demand. Normally a cron
// hits this; it is also the recovery lever after a gateway outage.
func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	report, err := a.d.Reconciler.Run(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.audit(r.Context(), "reconcile.manual", map[string]any{
		"cancelled_orders":    report.CancelledOrders,
		"reconciled_payments": report.ReconciledPayments,
	})
	writeJSON(w, http.StatusOK, report)
}
