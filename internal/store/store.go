package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"retailhub/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("not enough stock")
	ErrValidation        = errors.New("invalid request")
)

// Repository is the persistence boundary of the backend. Product stock is
// mutated only through ReserveStock, ReleaseStock and AdjustStock; every
// other method treats stock as read-only. All three stock operations are
// atomic per product: a concurrent reader never observes a transient value
// and two reservations racing for the last units cannot both succeed.
type Repository interface {
	CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error)
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	ListStoresLite(ctx context.Context) ([]domain.StoreLite, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// ReserveStock atomically decrements the product's stock by qty if at
	// least qty units remain, returning the unit price observed at the
	// moment of the reservation. It returns ErrInsufficientStock without
	// mutating anything when stock is short.
	ReserveStock(ctx context.Context, productID string, qty int) (decimal.Decimal, error)
	// ReleaseStock atomically increments the product's stock by qty. It is
	// the compensating action for ReserveStock.
	ReleaseStock(ctx context.Context, productID string, qty int) error
	// AdjustStock atomically applies a signed delta, failing with
	// ErrInsufficientStock if the result would go negative.
	AdjustStock(ctx context.Context, productID string, delta int) error

	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID string) ([]domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	// SalesSummary returns the sum of Sale.Total, optionally filtered by
	// store when storeID is non-empty.
	SalesSummary(ctx context.Context, storeID string) (decimal.Decimal, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error
}
