package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/obs"
)

// ProductStore captures the persistence methods the service needs.
type ProductStore interface {
	Create(ctx context.Context, params ProductParams) (Product, error)
	Get(ctx context.Context, id uuid.UUID) (Product, error)
	List(ctx context.Context, limit, offset int) ([]Product, int, error)
	Update(ctx context.Context, id uuid.UUID, params ProductParams) (Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Service exposes product CRUD and implements billing.PolicyLookup with a
// Redis cache in front of the store. Absent products cache as "no policy".
type Service struct {
	Store ProductStore
	Cache *Cache
}

// policyPayload is the cached shape of a product's discount policy.
type policyPayload struct {
	Missing bool             `json:"missing,omitempty"`
	Active  bool             `json:"active"`
	Value   *decimal.Decimal `json:"value,omitempty"`
	Type    *string          `json:"type,omitempty"`
}

func policyKey(id uuid.UUID) string {
	return fmt.Sprintf("catalog:policy:%s", id)
}

func (p policyPayload) policy() *billing.DiscountPolicy {
	if p.Missing {
		return nil
	}
	out := &billing.DiscountPolicy{Active: p.Active, Value: p.Value}
	if p.Type != nil {
		t := billing.DiscountType(*p.Type)
		out.Type = &t
	}
	return out
}

func payloadFrom(p Product) policyPayload {
	out := policyPayload{Active: p.DiscountActive, Value: p.DiscountValue}
	if p.DiscountType != nil {
		s := string(*p.DiscountType)
		out.Type = &s
	}
	return out
}

func countLookup(origin string) {
	if obs.PolicyLookupTotal != nil {
		obs.PolicyLookupTotal.WithLabelValues(origin).Inc()
	}
}

// DiscountPolicy implements billing.PolicyLookup. A missing product resolves
// to (nil, nil); cache failures fall through to the store.
func (s *Service) DiscountPolicy(ctx context.Context, productID uuid.UUID) (*billing.DiscountPolicy, error) {
	key := policyKey(productID)
	var cached policyPayload
	if hit, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		countLookup("cache")
		return cached.policy(), nil
	}

	product, err := s.Store.Get(ctx, productID)
	if errors.Is(err, pgx.ErrNoRows) {
		countLookup("miss")
		_ = s.Cache.SetJSON(ctx, key, policyPayload{Missing: true})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	countLookup("store")
	payload := payloadFrom(product)
	_ = s.Cache.SetJSON(ctx, key, payload)
	return payload.policy(), nil
}

// Create stores a new product.
func (s *Service) Create(ctx context.Context, params ProductParams) (Product, error) {
	return s.Store.Create(ctx, params)
}

// Get fetches one product.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.Store.Get(ctx, id)
}

// List returns a page of products and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Product, int, error) {
	return s.Store.List(ctx, limit, offset)
}

// Update rewrites a product and drops its cached discount policy.
func (s *Service) Update(ctx context.Context, id uuid.UUID, params ProductParams) (Product, error) {
	product, err := s.Store.Update(ctx, id, params)
	if err != nil {
		return Product{}, err
	}
	_ = s.Cache.Del(ctx, policyKey(id))
	return product, nil
}

// Delete removes a product and drops its cached discount policy.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	_ = s.Cache.Del(ctx, policyKey(id))
	return nil
}
