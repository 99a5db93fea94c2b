package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturio/facturio-api/internal/common"
)

// ClientStore is the persistence surface the handlers need.
type ClientStore interface {
	Create(ctx context.Context, p Params) (Client, error)
	Get(ctx context.Context, id uuid.UUID) (Client, error)
	List(ctx context.Context, limit, offset int) ([]Client, int, error)
	Update(ctx context.Context, id uuid.UUID, p Params) (Client, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler exposes client directory endpoints.
type Handler struct {
	Store        ClientStore
	DefaultLimit int
	MaxLimit     int
}

type clientPayload struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Company string `json:"company"`
	Street  string `json:"street"`
	Zip     string `json:"zip"`
	City    string `json:"city"`
	Country string `json:"country"`
	Phone   string `json:"phone"`
}

func (p clientPayload) params() Params {
	country := p.Country
	if country == "" {
		country = "CH"
	}
	return Params{
		Name: p.Name, Email: p.Email, Company: p.Company,
		Street: p.Street, Zip: p.Zip, City: p.City,
		Country: country, Phone: p.Phone,
	}
}

// Create inserts a new client.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload clientPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Store.Create(r.Context(), payload.params())
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			common.JSONError(w, http.StatusConflict, "EMAIL_TAKEN", "a client with this email already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create client", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, c)
}

// List returns a paginated client collection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.DefaultLimit, h.MaxLimit)
	clients, total, err := h.Store.List(r.Context(), perPage, common.Offset(page, perPage))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list clients", nil)
		return
	}
	common.JSONList(w, http.StatusOK, clients, common.Pagination{Page: page, PerPage: perPage, TotalItems: total})
}

// Get returns one client by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	c, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to fetch client")
		return
	}
	common.JSONData(w, http.StatusOK, c)
}

// Update rewrites a client.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	var payload clientPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Store.Update(r.Context(), id, payload.params())
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			common.JSONError(w, http.StatusConflict, "EMAIL_TAKEN", "a client with this email already exists", nil)
			return
		}
		h.writeStoreError(w, err, "failed to update client")
		return
	}
	common.JSONData(w, http.StatusOK, c)
}

// Delete removes a client.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "failed to delete client")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clientID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "clientID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid client id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, pgx.ErrNoRows) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "client not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
}
