package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quietmind/anonid/pkg/fingerprint"
	"github.com/quietmind/anonid/pkg/identity"
)

// sessionTokenHeader carries the opaque session token on every
// authenticated request.
const sessionTokenHeader = "X-Session-Token"

// Handler wires the identity service into a chi router.
type Handler struct {
	svc *identity.Service
	log *slog.Logger
}

// New builds the HTTP API. A nil logger falls back to slog.Default.
func New(svc *identity.Service, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(remoteAddr)

	r.Post("/accounts", h.createAccount)
	r.Post("/auth/device", h.authenticateWithDevice)
	r.Get("/sessions/current", h.validateSession)
	r.Delete("/sessions/current", h.logout)
	r.Post("/recovery/redeem", h.redeemRecoveryToken)

	r.Route("/users/{id}", func(r chi.Router) {
		r.Post("/recovery-tokens", h.issueRecoveryTokens)
		r.Put("/preferences", h.updatePreferences)
		r.Get("/export", h.exportUser)
		r.Delete("/", h.deleteUser)
	})

	r.Get("/compliance/snapshot", h.complianceSnapshot)

	return r
}

// remoteAddr makes the caller's network address available so audit entries
// can store its one-way hash.
func remoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithRemoteAddr(r.Context(), r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type accountRequest struct {
	Device      fingerprint.Device   `json:"device"`
	Preferences identity.Preferences `json:"preferences,omitempty"`
}

type sessionResponse struct {
	User    *identity.User    `json:"user"`
	Session *identity.Session `json:"session"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, sess, err := h.svc.CreateAccount(r.Context(), h.device(r, req.Device), req.Preferences)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, sessionResponse{User: user, Session: sess})
}

func (h *Handler) authenticateWithDevice(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, sess, err := h.svc.AuthenticateWithDevice(r.Context(), h.device(r, req.Device))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, sessionResponse{User: user, Session: sess})
}

func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request) {
	user, sess, err := h.svc.ValidateSession(r.Context(), r.Header.Get(sessionTokenHeader))
	if err != nil {
		// An unknown session token is an authentication failure, not a
		// missing resource.
		if errors.Is(err, identity.ErrNotFound) {
			h.respond(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, sessionResponse{User: user, Session: sess})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), r.Header.Get(sessionTokenHeader)); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			h.respond(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueRequest struct {
	Count int `json:"count"`
}

type issueResponse struct {
	Tokens []string `json:"tokens"`
}

func (h *Handler) issueRecoveryTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.svc.IssueRecoveryTokens(r.Context(), userID, req.Count)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, issueResponse{Tokens: tokens})
}

type redeemRequest struct {
	Token  string             `json:"token"`
	Device fingerprint.Device `json:"device"`
}

func (h *Handler) redeemRecoveryToken(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, sess, err := h.svc.RedeemRecoveryToken(r.Context(), req.Token, h.device(r, req.Device))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, sessionResponse{User: user, Session: sess})
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var prefs identity.Preferences
	if !h.decode(w, r, &prefs) {
		return
	}

	if err := h.svc.UpdatePreferences(r.Context(), userID, prefs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	export, err := h.svc.ExportUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, export)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteUser(r.Context(), userID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) complianceSnapshot(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.svc.ComplianceSnapshot(r.Context()))
}

// device prefers traits from the request body and falls back to the
// fingerprinting headers.
func (h *Handler) device(r *http.Request, dev fingerprint.Device) fingerprint.Device {
	if dev == (fingerprint.Device{}) {
		return fingerprint.FromRequest(r)
	}
	return dev
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("response encoding failed", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrExpired):
		h.respond(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, identity.ErrTrustRejected):
		h.respond(w, http.StatusForbidden, errorResponse{Error: "trust rejected"})
	case errors.Is(err, identity.ErrDeviceRegistered):
		h.respond(w, http.StatusConflict, errorResponse{Error: "device already registered"})
	case errors.Is(err, identity.ErrNotFound):
		h.respond(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		h.log.ErrorContext(r.Context(), "internal error", slog.Any("error", err))
		h.respond(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
