// Package ledger implements the sales ledger: every sale mutation is paired
// with the stock movement that keeps inventory consistent. Stock is reserved
// before a sale row exists and released after it is gone, so a crash can only
// ever leave stock under-counted, never oversold.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailhub/backend/internal/authz"
	"retailhub/backend/internal/cache"
	"retailhub/backend/internal/domain"
	"retailhub/backend/internal/store"
	"retailhub/backend/internal/xid"
)

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return p, ok
}

type Ledger struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Ledger {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 60 * time.Second
	}

	return &Ledger{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
	}
}

func (l *Ledger) authorize(ctx context.Context, action authz.Action, targetStoreID string) (domain.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return domain.Principal{}, authz.ErrForbiddenScope
	}
	if err := authz.Authorize(p, action, targetStoreID); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

func (l *Ledger) ListStoresLite(ctx context.Context) ([]domain.StoreLite, error) {
	return l.repo.ListStoresLite(ctx)
}

func (l *Ledger) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	if _, err := l.authorize(ctx, authz.ActionStoreCreate, ""); err != nil {
		return domain.Store{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	if req.Name == "" {
		return domain.Store{}, store.ErrValidation
	}

	created, err := l.repo.CreateStore(ctx, domain.Store{
		ID:       xid.New("store"),
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		return domain.Store{}, err
	}
	return *created, nil
}

func (l *Ledger) StoreDetail(ctx context.Context, id string) (domain.StoreDetail, error) {
	if _, err := l.authorize(ctx, authz.ActionStoreRead, id); err != nil {
		return domain.StoreDetail{}, err
	}

	st, err := l.repo.GetStore(ctx, id)
	if err != nil {
		return domain.StoreDetail{}, err
	}
	products, err := l.repo.ListProducts(ctx, id)
	if err != nil {
		return domain.StoreDetail{}, err
	}
	sales, err := l.repo.ListSales(ctx, id)
	if err != nil {
		return domain.StoreDetail{}, err
	}

	return domain.StoreDetail{Store: *st, Products: products, Sales: sales}, nil
}

func (l *Ledger) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	if _, err := l.authorize(ctx, authz.ActionProductRead, storeID); err != nil {
		return nil, err
	}
	return l.repo.ListProducts(ctx, storeID)
}

func (l *Ledger) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := l.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if _, err := l.authorize(ctx, authz.ActionProductRead, product.StoreID); err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (l *Ledger) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.StoreID = strings.TrimSpace(req.StoreID)
	if req.StoreID == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.Price.IsNegative() || req.Stock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	if _, err := l.authorize(ctx, authz.ActionProductCreate, req.StoreID); err != nil {
		return domain.Product{}, err
	}

	created, err := l.repo.CreateProduct(ctx, domain.Product{
		ID:      xid.New("prod"),
		StoreID: req.StoreID,
		Name:    req.Name,
		Price:   req.Price,
		Stock:   req.Stock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

// UpdateProduct applies name and price changes directly and turns a stock
// change into a delta through AdjustStock, so a concurrent sale between read
// and write cannot be silently overwritten.
func (l *Ledger) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := l.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if _, err := l.authorize(ctx, authz.ActionProductUpdate, existing.StoreID); err != nil {
		return domain.Product{}, err
	}

	next := *existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Price != nil {
		next.Price = *req.Price
	}
	if next.Name == "" || next.Price.IsNegative() {
		return domain.Product{}, store.ErrValidation
	}
	if req.Stock != nil && *req.Stock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	updated, err := l.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Stock != nil {
		delta := *req.Stock - existing.Stock
		if delta != 0 {
			if err := l.repo.AdjustStock(ctx, id, delta); err != nil {
				return domain.Product{}, err
			}
		}
		refreshed, err := l.repo.GetProduct(ctx, id)
		if err != nil {
			return domain.Product{}, err
		}
		return *refreshed, nil
	}

	return *updated, nil
}

func (l *Ledger) DeleteProduct(ctx context.Context, id string) error {
	existing, err := l.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if _, err := l.authorize(ctx, authz.ActionProductDelete, existing.StoreID); err != nil {
		return err
	}
	return l.repo.DeleteProduct(ctx, id)
}

// CreateSale reserves stock first and only then writes the sale row. If the
// write fails the reservation is released, so the only reachable failure
// state is stock temporarily under-counted until the release lands.
func (l *Ledger) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if _, err := l.authorize(ctx, authz.ActionSaleCreate, ""); err != nil {
		return domain.Sale{}, err
	}
	if req.ProductID == "" || req.Quantity < 1 {
		return domain.Sale{}, store.ErrValidation
	}

	product, err := l.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		// A sale naming a product that does not exist is a bad request,
		// not a missing resource: the sale itself has no URL yet.
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: unknown product %s", store.ErrValidation, req.ProductID)
		}
		return domain.Sale{}, err
	}

	unitPrice, err := l.repo.ReserveStock(ctx, product.ID, req.Quantity)
	if err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		ProductID: product.ID,
		StoreID:   product.StoreID,
		Quantity:  req.Quantity,
		UnitPrice: unitPrice,
		Total:     unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		CreatedAt: time.Now().UTC(),
	}

	created, err := l.repo.InsertSale(ctx, sale)
	if err != nil {
		if releaseErr := l.repo.ReleaseStock(ctx, product.ID, req.Quantity); releaseErr != nil {
			log.Printf("[ledger] WARN: failed to release stock after aborted sale product=%s qty=%d: %v", product.ID, req.Quantity, releaseErr)
		}
		return domain.Sale{}, err
	}

	l.invalidateSummary(ctx, created.StoreID)
	return *created, nil
}

func (l *Ledger) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := l.authorize(ctx, authz.ActionSaleRead, ""); err != nil {
		return domain.Sale{}, err
	}
	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (l *Ledger) ListSales(ctx context.Context, storeID string) ([]domain.Sale, error) {
	if _, err := l.authorize(ctx, authz.ActionSaleRead, storeID); err != nil {
		return nil, err
	}
	return l.repo.ListSales(ctx, storeID)
}

// UpdateSale changes the quantity of an existing sale. The stock delta is
// applied before the sale row is rewritten, and reverted if the rewrite
// fails. The unit price stays frozen at its creation-time value.
func (l *Ledger) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if _, err := l.authorize(ctx, authz.ActionSaleUpdate, ""); err != nil {
		return domain.Sale{}, err
	}
	if req.Quantity < 1 {
		return domain.Sale{}, store.ErrValidation
	}

	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	delta := req.Quantity - sale.Quantity
	if delta != 0 {
		if err := l.repo.AdjustStock(ctx, sale.ProductID, -delta); err != nil {
			return domain.Sale{}, err
		}
	}

	next := *sale
	next.Quantity = req.Quantity
	next.Total = sale.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))

	updated, err := l.repo.UpdateSale(ctx, next)
	if err != nil {
		if delta != 0 {
			if revertErr := l.repo.AdjustStock(ctx, sale.ProductID, delta); revertErr != nil {
				log.Printf("[ledger] WARN: failed to revert stock after aborted sale update sale=%s product=%s delta=%d: %v", id, sale.ProductID, delta, revertErr)
			}
		}
		return domain.Sale{}, err
	}

	l.invalidateSummary(ctx, updated.StoreID)
	return *updated, nil
}

// DeleteSale returns the sold quantity to stock and then removes the sale
// row. When the product no longer exists the release is skipped with a
// warning: the sale still has to go, there is just no stock row to credit.
func (l *Ledger) DeleteSale(ctx context.Context, id string) error {
	if _, err := l.authorize(ctx, authz.ActionSaleDelete, ""); err != nil {
		return err
	}

	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}

	released := true
	if err := l.repo.ReleaseStock(ctx, sale.ProductID, sale.Quantity); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		released = false
		log.Printf("[ledger] WARN: product %s missing while deleting sale %s, stock not restored", sale.ProductID, id)
	}

	if err := l.repo.DeleteSale(ctx, id); err != nil {
		if released {
			if revertErr := l.repo.AdjustStock(ctx, sale.ProductID, -sale.Quantity); revertErr != nil {
				log.Printf("[ledger] WARN: failed to re-reserve stock after aborted sale delete sale=%s product=%s qty=%d: %v", id, sale.ProductID, sale.Quantity, revertErr)
			}
		}
		return err
	}

	l.invalidateSummary(ctx, sale.StoreID)
	return nil
}

// Summary returns the total of all sales, optionally scoped to one store.
// Results are served from the summary cache when fresh.
func (l *Ledger) Summary(ctx context.Context, storeID string) (domain.SalesSummary, error) {
	if _, err := l.authorize(ctx, authz.ActionSaleRead, storeID); err != nil {
		return domain.SalesSummary{}, err
	}

	if total, ok, err := l.summaries.Get(ctx, storeID); err != nil {
		log.Printf("[ledger] WARN: summary cache read failed store=%q: %v", storeID, err)
	} else if ok {
		return domain.SalesSummary{StoreID: storeID, Total: total}, nil
	}

	total, err := l.repo.SalesSummary(ctx, storeID)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	if err := l.summaries.Set(ctx, storeID, total, l.summaryTTL); err != nil {
		log.Printf("[ledger] WARN: summary cache write failed store=%q: %v", storeID, err)
	}

	return domain.SalesSummary{StoreID: storeID, Total: total}, nil
}

func (l *Ledger) invalidateSummary(ctx context.Context, storeID string) {
	if err := l.summaries.Invalidate(ctx, storeID); err != nil {
		log.Printf("[ledger] WARN: summary cache invalidation failed store=%q: %v", storeID, err)
	}
}
