package bookings

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quote-service/internal/errs"
	"quote-service/pkg/jwt"
)

// Handler exposes booking HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the booking service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with all booking routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}/confirm", h.action(func(w http.ResponseWriter, r *http.Request) (*Booking, error) {
		return h.svc.Confirm(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	}))
	r.Patch("/{id}/assign", h.Assign)
	r.Patch("/{id}/start", h.action(func(w http.ResponseWriter, r *http.Request) (*Booking, error) {
		return h.svc.Start(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	}))
	r.Patch("/{id}/complete", h.action(func(w http.ResponseWriter, r *http.Request) (*Booking, error) {
		return h.svc.Complete(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	}))
	r.Patch("/{id}/no-show", h.action(func(w http.ResponseWriter, r *http.Request) (*Booking, error) {
		return h.svc.NoShow(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	}))
	r.Patch("/{id}/cancel", h.action(func(w http.ResponseWriter, r *http.Request) (*Booking, error) {
		return h.svc.Cancel(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	}))

	return r
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	b, err := h.svc.Assign(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"), req.DriverUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) action(fn func(http.ResponseWriter, *http.Request) (*Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fn(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
