package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retailhub/backend/internal/domain"
	"retailhub/backend/internal/store"
)

func TestReserveStockNeverOversells(t *testing.T) {
	databaseURL := os.Getenv("RETAILHUB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILHUB_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	storeID := fmt.Sprintf("store-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, storeID)
	})

	if _, err := s.CreateStore(ctx, domain.Store{ID: storeID, Name: "IT Store", Location: "Testville"}); err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:      productID,
		StoreID: storeID,
		Name:    "IT Product",
		Price:   decimal.RequireFromString("12.50"),
		Stock:   5,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ReserveStock(ctx, productID, 3)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 reservation of 3 units against stock 5, got %d", succeeded)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 2 {
		t.Fatalf("expected final stock 2, got %d", product.Stock)
	}

	if err := s.ReleaseStock(ctx, productID, 3); err != nil {
		t.Fatalf("release stock: %v", err)
	}
	product, err = s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", product.Stock)
	}

	if err := s.AdjustStock(ctx, productID, -6); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for over-adjustment, got %v", err)
	}
}
