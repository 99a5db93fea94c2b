package invoice

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/common"
	"github.com/facturio/facturio-api/internal/tva"
)

// Handler exposes invoice and quote endpoints.
type Handler struct {
	Svc          *Service
	DefaultLimit int
	MaxLimit     int
}

type linePayload struct {
	Description   string           `json:"description" validate:"required"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitPrice     decimal.Decimal  `json:"unitPrice"`
	VATRate       *decimal.Decimal `json:"vatRate"`
	VATCategory   *string          `json:"vatCategory"`
	ProductID     *uuid.UUID       `json:"productId"`
	DiscountValue *decimal.Decimal `json:"discountValue"`
	DiscountType  *string          `json:"discountType"`
}

type globalDiscountPayload struct {
	Value decimal.Decimal `json:"value"`
	Type  string          `json:"type" validate:"required"`
}

type createPayload struct {
	Number         string                 `json:"number" validate:"required"`
	ClientID       uuid.UUID              `json:"clientId" validate:"required"`
	Kind           string                 `json:"kind"`
	DueDate        *time.Time             `json:"dueDate"`
	Lines          []linePayload          `json:"lines" validate:"required,min=1,dive"`
	GlobalDiscount *globalDiscountPayload `json:"globalDiscount"`
}

type updateItemsPayload struct {
	Lines          []linePayload          `json:"lines" validate:"required,min=1,dive"`
	GlobalDiscount *globalDiscountPayload `json:"globalDiscount"`
}

type sendPayload struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type itemResponse struct {
	ID                     uuid.UUID        `json:"id"`
	Position               int              `json:"position"`
	Description            string           `json:"description"`
	Quantity               decimal.Decimal  `json:"quantity"`
	UnitPrice              decimal.Decimal  `json:"unitPrice"`
	VATRate                decimal.Decimal  `json:"vatRate"`
	ProductID              *uuid.UUID       `json:"productId,omitempty"`
	DiscountValue          *decimal.Decimal `json:"discountValue,omitempty"`
	DiscountType           *string          `json:"discountType,omitempty"`
	DiscountSource         string           `json:"discountSource"`
	SubtotalBeforeDiscount decimal.Decimal  `json:"subtotalBeforeDiscount"`
	DiscountAmount         decimal.Decimal  `json:"discountAmount"`
	Total                  decimal.Decimal  `json:"total"`
}

type invoiceResponse struct {
	ID                   uuid.UUID        `json:"id"`
	Number               string           `json:"number"`
	ClientID             uuid.UUID        `json:"clientId"`
	Kind                 string           `json:"kind"`
	Status               string           `json:"status"`
	GlobalDiscountValue  *decimal.Decimal `json:"globalDiscountValue,omitempty"`
	GlobalDiscountType   *string          `json:"globalDiscountType,omitempty"`
	GlobalDiscountAmount *decimal.Decimal `json:"globalDiscountAmount,omitempty"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	TVAAmount            decimal.Decimal  `json:"tvaAmount"`
	Total                decimal.Decimal  `json:"total"`
	DueDate              *time.Time       `json:"dueDate,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
	Items                []itemResponse   `json:"items,omitempty"`
}

func itemToResponse(it Item) itemResponse {
	resp := itemResponse{
		ID:                     it.ID,
		Position:               it.Position,
		Description:            it.Description,
		Quantity:               it.Quantity,
		UnitPrice:              it.UnitPrice,
		VATRate:                it.VATRate,
		ProductID:              it.ProductID,
		DiscountValue:          it.DiscountValue,
		DiscountSource:         string(it.DiscountSource),
		SubtotalBeforeDiscount: it.SubtotalBeforeDiscount,
		DiscountAmount:         it.DiscountAmount,
		Total:                  it.Total,
	}
	if it.DiscountType != nil {
		s := string(*it.DiscountType)
		resp.DiscountType = &s
	}
	return resp
}

func toInvoiceResponse(inv Invoice, items []Item) invoiceResponse {
	resp := invoiceResponse{
		ID:                   inv.ID,
		Number:               inv.Number,
		ClientID:             inv.ClientID,
		Kind:                 string(inv.Kind),
		Status:               string(inv.Status),
		GlobalDiscountValue:  inv.GlobalDiscountValue,
		GlobalDiscountAmount: inv.GlobalDiscountAmount,
		Subtotal:             inv.Subtotal,
		TVAAmount:            inv.TVAAmount,
		Total:                inv.Total,
		DueDate:              inv.DueDate,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
		Items:                lo.Map(items, func(it Item, _ int) itemResponse { return itemToResponse(it) }),
	}
	if inv.GlobalDiscountType != nil {
		s := string(*inv.GlobalDiscountType)
		resp.GlobalDiscountType = &s
	}
	return resp
}

// toLines converts the request lines into calculator input. The VAT rate comes
// either directly or through a named TVA category.
func toLines(payload []linePayload) ([]billing.LineItem, error) {
	lines := make([]billing.LineItem, 0, len(payload))
	for _, ln := range payload {
		item := billing.LineItem{
			Description: ln.Description,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
			ProductID:   ln.ProductID,
		}
		switch {
		case ln.VATRate != nil:
			item.VATRate = *ln.VATRate
		case ln.VATCategory != nil:
			category, err := tva.ParseCategory(*ln.VATCategory)
			if err != nil {
				return nil, common.BadRequest("INVALID_VAT_CATEGORY", err.Error())
			}
			rate, err := tva.Rate(category)
			if err != nil {
				return nil, common.BadRequest("INVALID_VAT_CATEGORY", err.Error())
			}
			item.VATRate = rate
		default:
			return nil, common.BadRequest("BAD_REQUEST", "each line needs vatRate or vatCategory")
		}
		if ln.DiscountValue != nil {
			item.DiscountValue = ln.DiscountValue
		}
		if ln.DiscountType != nil {
			t := billing.DiscountType(*ln.DiscountType)
			if !t.Valid() {
				return nil, common.BadRequest("BAD_REQUEST", "discountType must be PERCENT or AMOUNT")
			}
			item.DiscountType = &t
		}
		lines = append(lines, item)
	}
	return lines, nil
}

func toGlobal(payload *globalDiscountPayload) (*billing.GlobalDiscount, error) {
	if payload == nil {
		return nil, nil
	}
	t := billing.DiscountType(payload.Type)
	if !t.Valid() {
		return nil, common.BadRequest("BAD_REQUEST", "globalDiscount.type must be PERCENT or AMOUNT")
	}
	return &billing.GlobalDiscount{Value: payload.Value, Type: t}, nil
}

// writeBillingError maps calculator failures onto the API error shape. Line
// numbers are 1-based; 0 means the global discount.
func writeBillingError(w http.ResponseWriter, err error) bool {
	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		details := map[string]any{"line": verr.Line, "reason": verr.Reason}
		code := "INVALID_LINE_ITEM"
		if errors.Is(err, billing.ErrInvalidDiscount) {
			code = "INVALID_DISCOUNT"
		}
		common.JSONError(w, http.StatusUnprocessableEntity, code, verr.Reason, details)
		return true
	}
	if errors.Is(err, billing.ErrInvalidLineItem) || errors.Is(err, billing.ErrInvalidDiscount) {
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_INVOICE", err.Error(), nil)
		return true
	}
	return false
}

// Create prices and persists a new invoice or quote.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	kind := Kind(payload.Kind)
	if payload.Kind == "" {
		kind = KindInvoice
	}
	if !kind.Valid() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind must be INVOICE or QUOTE", nil)
		return
	}
	lines, err := toLines(payload.Lines)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	global, err := toGlobal(payload.GlobalDiscount)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	inv, items, err := h.Svc.Create(r.Context(), CreateInput{
		Number:   payload.Number,
		ClientID: payload.ClientID,
		Kind:     kind,
		DueDate:  payload.DueDate,
		Lines:    lines,
		Global:   global,
	})
	if err != nil {
		if writeBillingError(w, err) {
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create invoice", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, toInvoiceResponse(inv, items))
}

// List returns a paginated invoice collection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.DefaultLimit, h.MaxLimit)
	invoices, total, err := h.Svc.List(r.Context(), perPage, common.Offset(page, perPage))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list invoices", nil)
		return
	}
	items := lo.Map(invoices, func(inv Invoice, _ int) invoiceResponse { return toInvoiceResponse(inv, nil) })
	common.JSONList(w, http.StatusOK, items, common.Pagination{Page: page, PerPage: perPage, TotalItems: total})
}

// Get returns one invoice with its items.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, items, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch invoice")
		return
	}
	common.JSONData(w, http.StatusOK, toInvoiceResponse(inv, items))
}

// UpdateItems replaces a draft's lines and reprices the document.
func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var payload updateItemsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := common.Validate(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	lines, err := toLines(payload.Lines)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	global, err := toGlobal(payload.GlobalDiscount)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	inv, items, err := h.Svc.UpdateItems(r.Context(), id, lines, global)
	if err != nil {
		if writeBillingError(w, err) {
			return
		}
		if errors.Is(err, ErrNotDraft) {
			common.JSONError(w, http.StatusConflict, "NOT_DRAFT", "only draft invoices can be edited", nil)
			return
		}
		h.writeServiceError(w, err, "failed to update invoice")
		return
	}
	common.JSONData(w, http.StatusOK, toInvoiceResponse(inv, items))
}

// Send marks the invoice sent and emails it when an address is given.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var payload sendPayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
		if err := common.Validate(payload); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	inv, err := h.Svc.Send(r.Context(), id, payload.Email)
	if err != nil {
		h.writeServiceError(w, err, "failed to send invoice")
		return
	}
	common.JSONData(w, http.StatusOK, toInvoiceResponse(inv, nil))
}

// MarkPaid records payment of the invoice.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.Svc.MarkPaid(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to update invoice")
		return
	}
	common.JSONData(w, http.StatusOK, toInvoiceResponse(inv, nil))
}

// Recalculate forces a synchronous recomputation of the stored totals.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Recalculate(r.Context(), id); err != nil {
		if writeBillingError(w, err) {
			return
		}
		h.writeServiceError(w, err, "failed to recalculate invoice")
		return
	}
	inv, items, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch invoice")
		return
	}
	common.JSONData(w, http.StatusOK, toInvoiceResponse(inv, items))
}

// Delete removes an invoice and its items.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to delete invoice")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid invoice id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, ErrInvoiceNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "invoice not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
}
