package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/common"
	"github.com/facturio/facturio-api/internal/tva"
)

// Handler exposes product management endpoints.
type Handler struct {
	Svc          *Service
	DefaultLimit int
	MaxLimit     int
}

type productPayload struct {
	Name           string           `json:"name" validate:"required"`
	Description    string           `json:"description"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	VATCategory    string           `json:"vatCategory" validate:"required"`
	DiscountValue  *decimal.Decimal `json:"discountValue"`
	DiscountType   *string          `json:"discountType"`
	DiscountActive bool             `json:"discountActive"`
}

type productResponse struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	VATCategory    string           `json:"vatCategory"`
	DiscountValue  *decimal.Decimal `json:"discountValue,omitempty"`
	DiscountType   *string          `json:"discountType,omitempty"`
	DiscountActive bool             `json:"discountActive"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func toResponse(p Product) productResponse {
	resp := productResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		UnitPrice:      p.UnitPrice,
		VATCategory:    string(p.VATCategory),
		DiscountValue:  p.DiscountValue,
		DiscountActive: p.DiscountActive,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.DiscountType != nil {
		s := string(*p.DiscountType)
		resp.DiscountType = &s
	}
	return resp
}

func (h *Handler) params(payload productPayload) (ProductParams, error) {
	if err := common.Validate(payload); err != nil {
		return ProductParams{}, err
	}
	if payload.UnitPrice.IsNegative() {
		return ProductParams{}, common.BadRequest("BAD_REQUEST", "unitPrice must not be negative")
	}
	category, err := tva.ParseCategory(payload.VATCategory)
	if err != nil {
		return ProductParams{}, common.BadRequest("INVALID_VAT_CATEGORY", err.Error())
	}
	params := ProductParams{
		Name:           payload.Name,
		Description:    payload.Description,
		UnitPrice:      payload.UnitPrice,
		VATCategory:    category,
		DiscountValue:  payload.DiscountValue,
		DiscountActive: payload.DiscountActive,
	}
	if payload.DiscountType != nil {
		t := billing.DiscountType(*payload.DiscountType)
		if !t.Valid() {
			return ProductParams{}, common.BadRequest("BAD_REQUEST", "discountType must be PERCENT or AMOUNT")
		}
		params.DiscountType = &t
	}
	if params.DiscountValue != nil && params.DiscountValue.IsNegative() {
		return ProductParams{}, common.BadRequest("BAD_REQUEST", "discountValue must not be negative")
	}
	return params, nil
}

// Create inserts a new product.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := h.params(payload)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	product, err := h.Svc.Create(r.Context(), params)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create product", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, toResponse(product))
}

// List returns a paginated product collection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.DefaultLimit, h.MaxLimit)
	products, total, err := h.Svc.List(r.Context(), perPage, common.Offset(page, perPage))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list products", nil)
		return
	}
	items := lo.Map(products, func(p Product, _ int) productResponse { return toResponse(p) })
	common.JSONList(w, http.StatusOK, items, common.Pagination{Page: page, PerPage: perPage, TotalItems: total})
}

// Get returns one product by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	product, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch product", nil)
		return
	}
	common.JSONData(w, http.StatusOK, toResponse(product))
}

// Update rewrites a product.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := h.params(payload)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	product, err := h.Svc.Update(r.Context(), id, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update product", nil)
		return
	}
	common.JSONData(w, http.StatusOK, toResponse(product))
}

// Delete removes a product.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete product", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
