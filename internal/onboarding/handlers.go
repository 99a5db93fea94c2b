package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/facturio/facturio-api/internal/common"
)

// ProgressStore is the persistence surface the handlers need.
type ProgressStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (Progress, error)
	Advance(ctx context.Context, accountID uuid.UUID, ev Event) (Progress, error)
}

// Handler exposes onboarding progress endpoints.
type Handler struct {
	Store ProgressStore
}

type eventPayload struct {
	Event string `json:"event" validate:"required"`
}

// Get returns the account's progress, initialising it on first access.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	p, err := h.Store.Get(r.Context(), accountID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch onboarding progress", nil)
		return
	}
	common.JSONData(w, http.StatusOK, p)
}

// Advance applies one funnel event to the account's progress.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	ev, err := ParseEvent(payload.Event)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	p, err := h.Store.Advance(r.Context(), accountID, ev)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			common.JSONError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to advance onboarding", nil)
		return
	}
	common.JSONData(w, http.StatusOK, p)
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid account id", nil)
		return uuid.Nil, false
	}
	return id, true
}
