package quotes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quote-service/internal/errs"
	"quote-service/pkg/jwt"
)

// Handler exposes quote HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the quote service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with all quote routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth) // all quote endpoints need an authenticated principal

	r.Post("/", h.Submit)
	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}/acknowledge", h.Acknowledge)
	r.Patch("/{id}/respond", h.Respond)
	r.Patch("/{id}/accept", h.Accept)
	r.Patch("/{id}/cancel", h.Cancel)

	return r
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	q, err := h.svc.Submit(r.Context(), jwt.GetClaims(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Get(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Acknowledge(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	q, err := h.svc.Respond(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	q, b, err := h.svc.Accept(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AcceptResponse{Quote: q, BookingID: b.ID, SourceQuoteID: q.ID})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Cancel(r.Context(), jwt.GetClaims(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
