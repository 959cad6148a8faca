package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailhub/backend/internal/domain"
	"retailhub/backend/internal/store"
)

// Store is the in-memory Repository used in dev mode and as the test fake.
// A single mutex serializes all stock mutations, which makes the three
// stock operations linearizable per product (and, trivially, globally).
type Store struct {
	mu       sync.RWMutex
	stores   map[string]domain.Store
	products map[string]domain.Product
	sales    map[string]domain.Sale
	users    map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_USER_PASSWORD; hardcoded dev defaults are used otherwise, with a
// warning. The production path (DATABASE_URL set) never touches these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	userPwd := envOr("SEED_USER_PASSWORD", "user123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		email       string
		password    string
		role        domain.Role
		homeStoreID string
		firstName   string
	}{
		{"admin@retailhub.local", adminPwd, domain.RoleAdmin, "", "Ada"},
		{"cashier@retailhub.local", cashierPwd, domain.RoleCashier, "store-main", "Casey"},
		{"user@retailhub.local", userPwd, domain.RoleUser, "", "Uma"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users[u.email] = domain.UserAccount{
			ID:          "u-" + strings.SplitN(u.email, "@", 2)[0],
			Email:       u.email,
			Password:    string(hash),
			Role:        u.role,
			HomeStoreID: u.homeStoreID,
			FirstName:   u.firstName,
			LastName:    "Seed",
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func NewSeeded() *Store {
	stores := []domain.Store{
		{ID: "store-main", Name: "Main Street", Location: "Springfield"},
		{ID: "store-annex", Name: "Annex", Location: "Shelbyville"},
	}

	products := []domain.Product{
		{ID: "prod-cola-01", StoreID: "store-main", Name: "Cola 0.5L", Price: price("18.00"), Stock: 40},
		{ID: "prod-water-01", StoreID: "store-main", Name: "Still Water 1L", Price: price("9.50"), Stock: 120},
		{ID: "prod-bread-01", StoreID: "store-main", Name: "White Bread", Price: price("22.40"), Stock: 35},
		{ID: "prod-coffee-01", StoreID: "store-annex", Name: "Ground Coffee 250g", Price: price("104.90"), Stock: 18},
		{ID: "prod-tea-01", StoreID: "store-annex", Name: "Black Tea 20ct", Price: price("47.00"), Stock: 26},
	}

	storeMap := make(map[string]domain.Store, len(stores))
	for _, st := range stores {
		storeMap[st.ID] = st
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		stores:   storeMap,
		products: productMap,
		sales:    make(map[string]domain.Sale),
		users:    seedUsers(),
	}
}

// NewEmpty returns a Store with no seed data. Tests that want full control
// over fixtures start from here.
func NewEmpty() *Store {
	return &Store{
		stores:   make(map[string]domain.Store),
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.Sale),
		users:    make(map[string]domain.UserAccount),
	}
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	if st.ID == "" || st.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stores[st.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate store id", store.ErrValidation)
	}
	s.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) GetStore(_ context.Context, id string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := st
	return &found, nil
}

func (s *Store) ListStoresLite(_ context.Context) ([]domain.StoreLite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StoreLite, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, domain.StoreLite{ID: st.ID, Name: st.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.StoreID == "" {
		return nil, store.ErrValidation
	}
	if product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate product id", store.ErrValidation)
	}
	if _, ok := s.stores[product.StoreID]; !ok {
		return nil, fmt.Errorf("%w: store %s does not exist", store.ErrValidation, product.StoreID)
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if storeID != "" && p.StoreID != storeID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateProduct persists name and price changes. Stock is deliberately left
// untouched: callers go through the stock operations for that.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Name = product.Name
	existing.Price = product.Price
	s.products[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ReserveStock(_ context.Context, productID string, qty int) (decimal.Decimal, error) {
	if qty < 1 {
		return decimal.Zero, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	if p.Stock < qty {
		return decimal.Zero, store.ErrInsufficientStock
	}
	p.Stock -= qty
	s.products[productID] = p
	return p.Price, nil
}

func (s *Store) ReleaseStock(_ context.Context, productID string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += qty
	s.products[productID] = p
	return nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return store.ErrInsufficientStock
	}
	p.Stock += delta
	s.products[productID] = p
	return nil
}

func (s *Store) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.ProductID == "" || sale.StoreID == "" || sale.Quantity < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sales[sale.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate sale id", store.ErrValidation)
	}
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, storeID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if storeID != "" && sale.StoreID != storeID {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Quantity < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sales[sale.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Quantity = sale.Quantity
	existing.Total = sale.Total
	s.sales[sale.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) SalesSummary(_ context.Context, storeID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, sale := range s.sales {
		if storeID != "" && sale.StoreID != storeID {
			continue
		}
		total = total.Add(sale.Total)
	}
	return total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Email == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return fmt.Errorf("%w: email already registered", store.ErrValidation)
	}
	s.users[user.Email] = user
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = passwordHash
	s.users[email] = user
	return nil
}
