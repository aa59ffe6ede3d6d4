package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"doorlist.app/internal/auth"
)

type inviteValidateRequest struct {
	Code string `json:"code"`
}

type signUpRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type sessionResponse struct {
	Token string `json:"token,omitempty"`
	Step  string `json:"step"`
}

func (a *API) handleInviteValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req inviteValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	inv, err := a.d.Auth.ValidateInvite(r.Context(), req.Code)
	if err != nil {
		// One message for unknown, expired and exhausted codes.
		writeError(w, r, http.StatusBadRequest, "invalid invite code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"code":  inv.Code,
	})
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.d.Auth.SignUp(r.Context(), req.Email, req.Password, req.InviteCode)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.signup", map[string]any{"profile_id": res.Profile.ID})
	writeJSON(w, http.StatusCreated, sessionResponse{Token: res.Token, Step: string(res.Step)})
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.d.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: res.Token, Step: string(res.Step)})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := a.requireSession(w, r, false)
	if !ok {
		return
	}
	if err := a.d.Auth.SignOut(r.Context(), session); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_out": true})
}

// handleSession reports the step the client should render. It never fails:
// without a token the step is invite, with a partial token mfa_verify or
// mfa_setup, with a full token authenticated.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"step": string(auth.StepInvite)})
		return
	}
	profile, err := a.d.Auth.Profile(r.Context(), session)
	if err != nil {
		profile = nil
	}
	step := auth.ComputeStep(&session, profile)
	writeJSON(w, http.StatusOK, map[string]any{
		"step":    string(step),
		"session": session,
	})
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := a.requireSession(w, r, false)
	if !ok {
		return
	}
	setup, err := a.d.Auth.SetupMFA(r.Context(), session)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (a *API) handleMFAActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := a.requireSession(w, r, false)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	activation, err := a.d.Auth.ActivateMFA(r.Context(), session, req.Code)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.mfa.activated", map[string]any{"profile_id": session.ProfileID})
	writeJSON(w, http.StatusOK, activation)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := a.requireSession(w, r, false)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := a.d.Auth.VerifyMFA(r.Context(), session, req.Code)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Step: string(auth.StepAuthenticated)})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return
	}
	profile, err := a.d.Auth.Profile(r.Context(), session)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleSupportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return
	}
	var req struct {
		Topic string `json:"topic"`
	}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errBodyRequired) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.d.Support.CreateSession(r.Context(), session.ProfileID, strings.TrimSpace(req.Topic))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.audit(r.Context(), "support.session.created", map[string]any{"session_id": sess.ID})
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrLocked):
		writeError(w, r, http.StatusLocked, "account temporarily locked")
	case errors.Is(err, auth.ErrInviteInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid invite code")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidMFACode):
		writeError(w, r, http.StatusBadRequest, "invalid verification code")
	case errors.Is(err, auth.ErrMFANotConfigured):
		writeError(w, r, http.StatusConflict, "two-factor authentication is not configured")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
