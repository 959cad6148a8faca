package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retailhub/backend/internal/authz"
	"retailhub/backend/internal/cache"
	"retailhub/backend/internal/domain"
	"retailhub/backend/internal/store"
	"retailhub/backend/internal/store/memory"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSummaryCache{}, 5*time.Second), repo
}

func adminCtx() context.Context {
	return WithPrincipal(context.Background(), domain.Principal{
		Subject: "admin@retailhub.local",
		Role:    domain.RoleAdmin,
	})
}

func cashierCtx(homeStoreID string) context.Context {
	return WithPrincipal(context.Background(), domain.Principal{
		Subject:     "cashier@retailhub.local",
		Role:        domain.RoleCashier,
		HomeStoreID: homeStoreID,
	})
}

func mustProduct(t *testing.T, repo *memory.Store, id string) domain.Product {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return *p
}

func TestCreateSaleFreezesPriceAndDecrementsStock(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	before := mustProduct(t, repo, "prod-cola-01")

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-cola-01", Quantity: 3})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.StoreID != before.StoreID {
		t.Fatalf("expected sale store %s, got %s", before.StoreID, sale.StoreID)
	}
	if !sale.UnitPrice.Equal(before.Price) {
		t.Fatalf("expected unit price %s, got %s", before.Price, sale.UnitPrice)
	}
	if want := before.Price.Mul(decimal.NewFromInt(3)); !sale.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, sale.Total)
	}

	after := mustProduct(t, repo, "prod-cola-01")
	if after.Stock != before.Stock-3 {
		t.Fatalf("expected stock %d, got %d", before.Stock-3, after.Stock)
	}

	// The recorded price survives later product price changes.
	newPrice := decimal.RequireFromString("99.99")
	if _, err := ledger.UpdateProduct(ctx, "prod-cola-01", domain.ProductUpdateRequest{Price: &newPrice}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	got, err := ledger.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !got.UnitPrice.Equal(before.Price) {
		t.Fatalf("unit price changed after product update: %s", got.UnitPrice)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	before := mustProduct(t, repo, "prod-coffee-01")

	_, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-coffee-01", Quantity: before.Stock + 1})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := mustProduct(t, repo, "prod-coffee-01")
	if after.Stock != before.Stock {
		t.Fatalf("stock changed on rejected sale: %d -> %d", before.Stock, after.Stock)
	}
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.CreateSale(adminCtx(), domain.SaleCreateRequest{ProductID: "prod-nope", Quantity: 1})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	product, err := repo.CreateProduct(context.Background(), domain.Product{
		ID:      "prod-scarce",
		StoreID: "store-main",
		Name:    "Scarce Item",
		Price:   decimal.RequireFromString("10.00"),
		Stock:   5,
	})
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: product.ID, Quantity: 3})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 sale of 3 units to land with stock 5, got %d", succeeded)
	}

	after := mustProduct(t, repo, product.ID)
	if after.Stock != 2 {
		t.Fatalf("expected final stock 2, got %d", after.Stock)
	}
}

func TestUpdateSaleAdjustsStockAndKeepsUnitPrice(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	start := mustProduct(t, repo, "prod-bread-01").Stock

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-bread-01", Quantity: 2})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if got := mustProduct(t, repo, "prod-bread-01").Stock; got != start-2 {
		t.Fatalf("expected stock %d after sale, got %d", start-2, got)
	}

	grown, err := ledger.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Quantity: 5})
	if err != nil {
		t.Fatalf("grow sale failed: %v", err)
	}
	if got := mustProduct(t, repo, "prod-bread-01").Stock; got != start-5 {
		t.Fatalf("expected stock %d after growing sale, got %d", start-5, got)
	}
	if !grown.UnitPrice.Equal(sale.UnitPrice) {
		t.Fatalf("unit price changed on update: %s -> %s", sale.UnitPrice, grown.UnitPrice)
	}
	if want := sale.UnitPrice.Mul(decimal.NewFromInt(5)); !grown.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, grown.Total)
	}

	shrunk, err := ledger.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Quantity: 2})
	if err != nil {
		t.Fatalf("shrink sale failed: %v", err)
	}
	if got := mustProduct(t, repo, "prod-bread-01").Stock; got != start-2 {
		t.Fatalf("expected stock %d after shrinking sale, got %d", start-2, got)
	}
	if want := sale.UnitPrice.Mul(decimal.NewFromInt(2)); !shrunk.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, shrunk.Total)
	}
}

func TestUpdateSaleRejectedWhenStockCannotCoverGrowth(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	product, err := repo.CreateProduct(context.Background(), domain.Product{
		ID:      "prod-tight",
		StoreID: "store-main",
		Name:    "Tight Item",
		Price:   decimal.RequireFromString("4.00"),
		Stock:   3,
	})
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	_, err = ledger.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Quantity: 10})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	got, err := ledger.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if got.Quantity != 2 {
		t.Fatalf("sale quantity changed after rejected update: %d", got.Quantity)
	}
	if stock := mustProduct(t, repo, product.ID).Stock; stock != 1 {
		t.Fatalf("expected stock 1 after rejected update, got %d", stock)
	}
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	start := mustProduct(t, repo, "prod-water-01").Stock

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-water-01", Quantity: 4})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if err := ledger.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}

	if got := mustProduct(t, repo, "prod-water-01").Stock; got != start {
		t.Fatalf("expected stock restored to %d, got %d", start, got)
	}
	if _, err := ledger.GetSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted sale to be gone, got %v", err)
	}
}

func TestDeleteSaleMissingLeavesStockUntouched(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	before := mustProduct(t, repo, "prod-water-01").Stock

	if err := ledger.DeleteSale(ctx, "sale-nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if after := mustProduct(t, repo, "prod-water-01").Stock; after != before {
		t.Fatalf("stock changed on failed delete: %d -> %d", before, after)
	}
}

func TestSummaryAggregatesPerStoreAndGlobally(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := adminCtx()

	s1, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-cola-01", Quantity: 2})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	s2, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-coffee-01", Quantity: 1})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	mainOnly, err := ledger.Summary(ctx, "store-main")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !mainOnly.Total.Equal(s1.Total) {
		t.Fatalf("expected store-main total %s, got %s", s1.Total, mainOnly.Total)
	}

	all, err := ledger.Summary(ctx, "")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if want := s1.Total.Add(s2.Total); !all.Total.Equal(want) {
		t.Fatalf("expected grand total %s, got %s", want, all.Total)
	}
}

func TestSummaryUsesCache(t *testing.T) {
	repo := memory.NewSeeded()
	summaries := newFakeSummaryCache()
	ledger := New(repo, summaries, time.Minute)
	ctx := adminCtx()

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-cola-01", Quantity: 1})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	first, err := ledger.Summary(ctx, "store-main")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !first.Total.Equal(sale.Total) {
		t.Fatalf("expected total %s, got %s", sale.Total, first.Total)
	}

	// Second read must come from the cache, not the repository.
	if err := repo.DeleteSale(context.Background(), sale.ID); err != nil {
		t.Fatalf("raw delete failed: %v", err)
	}
	second, err := ledger.Summary(ctx, "store-main")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !second.Total.Equal(sale.Total) {
		t.Fatalf("expected cached total %s, got %s", sale.Total, second.Total)
	}

	// A ledger mutation invalidates and the next read sees fresh data.
	fresh, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-water-01", Quantity: 2})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	third, err := ledger.Summary(ctx, "store-main")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !third.Total.Equal(fresh.Total) {
		t.Fatalf("expected refreshed total %s, got %s", fresh.Total, third.Total)
	}
}

func TestCashierProductScope(t *testing.T) {
	ledger, _ := newTestLedger(t)
	own := cashierCtx("store-main")

	created, err := ledger.CreateProduct(own, domain.ProductCreateRequest{
		StoreID: "store-main",
		Name:    "Gum",
		Price:   decimal.RequireFromString("3.50"),
		Stock:   10,
	})
	if err != nil {
		t.Fatalf("cashier create in own store failed: %v", err)
	}
	if created.StoreID != "store-main" {
		t.Fatalf("unexpected store id %s", created.StoreID)
	}

	_, err = ledger.CreateProduct(own, domain.ProductCreateRequest{
		StoreID: "store-annex",
		Name:    "Gum",
		Price:   decimal.RequireFromString("3.50"),
		Stock:   10,
	})
	if !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope for cross-store create, got %v", err)
	}

	if _, err := ledger.UpdateProduct(own, "prod-coffee-01", domain.ProductUpdateRequest{}); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope for cross-store update, got %v", err)
	}
	if err := ledger.DeleteProduct(own, "prod-coffee-01"); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope for cross-store delete, got %v", err)
	}
}

func TestCashierCannotTouchSales(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := cashierCtx("store-main")

	if _, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-cola-01", Quantity: 1}); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope, got %v", err)
	}
	if _, err := ledger.ListSales(ctx, ""); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope, got %v", err)
	}
	if err := ledger.DeleteSale(ctx, "sale-any"); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope, got %v", err)
	}
}

func TestProductStockUpdateGoesThroughDelta(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	before := mustProduct(t, repo, "prod-tea-01")
	target := before.Stock + 14

	updated, err := ledger.UpdateProduct(ctx, "prod-tea-01", domain.ProductUpdateRequest{Stock: &target})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.Stock != target {
		t.Fatalf("expected stock %d, got %d", target, updated.Stock)
	}

	negative := -1
	if _, err := ledger.UpdateProduct(ctx, "prod-tea-01", domain.ProductUpdateRequest{Stock: &negative}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative stock, got %v", err)
	}
}

func TestStoreDetailBundlesProductsAndSales(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := adminCtx()

	sale, err := ledger.CreateSale(ctx, domain.SaleCreateRequest{ProductID: "prod-cola-01", Quantity: 1})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	detail, err := ledger.StoreDetail(ctx, "store-main")
	if err != nil {
		t.Fatalf("store detail failed: %v", err)
	}
	if detail.ID != "store-main" {
		t.Fatalf("unexpected store id %s", detail.ID)
	}
	if len(detail.Products) == 0 {
		t.Fatalf("expected products in detail")
	}
	foundSale := false
	for _, s := range detail.Sales {
		if s.ID == sale.ID {
			foundSale = true
		}
	}
	if !foundSale {
		t.Fatalf("expected sale %s in store detail", sale.ID)
	}
}

func TestStoreDetailAdminOnly(t *testing.T) {
	ledger, _ := newTestLedger(t)

	userCtx := WithPrincipal(context.Background(), domain.Principal{
		Subject: "user@retailhub.local",
		Role:    domain.RoleUser,
	})
	if _, err := ledger.StoreDetail(userCtx, "store-main"); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope for user, got %v", err)
	}

	if _, err := ledger.StoreDetail(cashierCtx("store-main"), "store-main"); !errors.Is(err, authz.ErrForbiddenScope) {
		t.Fatalf("expected ErrForbiddenScope for cashier, got %v", err)
	}
}

func TestProductUpdateRejectedBeforeAnyWrite(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := adminCtx()

	before := mustProduct(t, repo, "prod-cola-01")

	price := decimal.RequireFromString("99.99")
	negative := -5
	_, err := ledger.UpdateProduct(ctx, "prod-cola-01", domain.ProductUpdateRequest{Price: &price, Stock: &negative})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	after := mustProduct(t, repo, "prod-cola-01")
	if !after.Price.Equal(before.Price) {
		t.Fatalf("price changed on rejected update: %s -> %s", before.Price, after.Price)
	}
	if after.Stock != before.Stock {
		t.Fatalf("stock changed on rejected update: %d -> %d", before.Stock, after.Stock)
	}
}

// fakeSummaryCache is an in-process SummaryCache with real hit semantics.
type fakeSummaryCache struct {
	mu     sync.Mutex
	totals map[string]decimal.Decimal
}

func newFakeSummaryCache() *fakeSummaryCache {
	return &fakeSummaryCache{totals: make(map[string]decimal.Decimal)}
}

func (c *fakeSummaryCache) Get(_ context.Context, storeID string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, ok := c.totals[storeID]
	return total, ok, nil
}

func (c *fakeSummaryCache) Set(_ context.Context, storeID string, total decimal.Decimal, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[storeID] = total
	return nil
}

func (c *fakeSummaryCache) Invalidate(_ context.Context, storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.totals, "")
	delete(c.totals, storeID)
	return nil
}
