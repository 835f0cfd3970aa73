package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/example/foodlots/internal/api/middleware"
	"github.com/example/foodlots/internal/command"
	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/lifecycle"
	"github.com/example/foodlots/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies on write routes.
const maxBodyBytes = 64 << 10

type Handlers struct {
	coordinator *command.Coordinator
	queries     *query.Handler
	lifecycle   *lifecycle.Manager
	log         logrus.FieldLogger
}

func NewHandlers(coordinator *command.Coordinator, queries *query.Handler, lifecycle *lifecycle.Manager, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		queries:     queries,
		lifecycle:   lifecycle,
		log:         log.WithField("component", "api"),
	}
}

// Lot Handlers

type lotListResponse struct {
	Lots  []lot.Lot `json:"lotti"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

func (h *Handlers) ListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit, err := pagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := lot.Filter{
		Product: q.Get("prodotto"),
		OwnerID: q.Get("produttore"),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	}
	if v := q.Get("stato"); v != "" {
		state, err := freshness.Parse(v)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Freshness = &state
	}

	lots, err := h.queries.ListLots(r.Context(), f)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lotListResponse{Lots: lots, Page: page, Limit: limit})
}

func (h *Handlers) GetLot(w http.ResponseWriter, r *http.Request) {
	l, err := h.queries.GetLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (h *Handlers) CreateLot(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateLot
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.Actor = actorFrom(r)

	l, err := h.coordinator.CreateLot(r.Context(), cmd)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

// Reservation Handlers

type reservationListResponse struct {
	Reservations []reservation.Reservation `json:"prenotazioni"`
	Page         int                       `json:"page"`
	Limit        int                       `json:"limit"`
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit, err := pagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := reservation.Filter{
		ActorID: q.Get("attore"),
		LotID:   q.Get("lotto"),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	}
	if v := q.Get("stato"); v != "" {
		status, err := reservation.ParseStatus(v)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Status = status
	}

	items, err := h.queries.ListReservations(r.Context(), actorFrom(r), f)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reservationListResponse{Reservations: items, Page: page, Limit: limit})
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.queries.GetReservation(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateReservation
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.Actor = actorFrom(r)

	res, err := h.coordinator.CreateReservation(r.Context(), cmd)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handlers) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateReservation
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.Actor = actorFrom(r)
	cmd.ReservationID = chi.URLParam(r, "id")

	res, err := h.coordinator.UpdateReservation(r.Context(), cmd)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.CancelReservation(r.Context(), command.CancelReservation{
		Actor:         actorFrom(r),
		ReservationID: chi.URLParam(r, "id"),
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.Complete(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handlers) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrConflict):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		respondError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// actorFrom returns the authenticated actor. Routes using it sit behind AuthMiddleware.
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := middleware.GetActor(r.Context())
	return actor
}

func pagination(pageParam, limitParam string) (page, limit int, err error) {
	page, limit = 1, query.DefaultLimit
	if pageParam != "" {
		if page, err = strconv.Atoi(pageParam); err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}
	if limitParam != "" {
		if limit, err = strconv.Atoi(limitParam); err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(limit, query.MaxLimit)
	}
	return page, limit, nil
}
