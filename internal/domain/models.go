package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of principal roles. Raw role strings from tokens or
// registration payloads are converted through ParseRole and never travel
// further than the auth layer.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
	RoleUser    Role = "user"
)

func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleAdmin, RoleCashier, RoleUser:
		return Role(raw), nil
	case "":
		return RoleUser, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Principal is the authenticated identity attached to a request.
// HomeStoreID is non-empty only for cashiers.
type Principal struct {
	Subject     string
	Role        Role
	HomeStoreID string
}

type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// StoreLite is the public projection of a store used by the
// unauthenticated listing.
type StoreLite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StoreDetail is the admin read of a store including its products and sales.
type StoreDetail struct {
	Store
	Products []Product `json:"products"`
	Sales    []Sale    `json:"sales"`
}

type StoreCreateRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

type Product struct {
	ID      string          `json:"id"`
	StoreID string          `json:"storeId"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Stock   int             `json:"stock"`
}

type ProductCreateRequest struct {
	StoreID string          `json:"storeId"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Stock   int             `json:"stock"`
}

type ProductUpdateRequest struct {
	Name  *string          `json:"name,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int             `json:"stock,omitempty"`
}

// Sale records one sale of a single product. UnitPrice is captured at
// creation time and never recomputed; Total is always UnitPrice × Quantity.
// StoreID is copied from the product at creation and immutable thereafter.
type Sale struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	StoreID   string          `json:"storeId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
}

type SaleCreateRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type SaleUpdateRequest struct {
	Quantity int `json:"quantity"`
}

type SalesSummary struct {
	StoreID string          `json:"storeId,omitempty"`
	Total   decimal.Decimal `json:"total"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	StoreID   string `json:"storeId,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	Role      Role   `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}

// UserAccount is the persistence model for auth credentials.
// Password holds a bcrypt hash.
type UserAccount struct {
	ID          string
	Email       string
	Password    string
	Role        Role
	HomeStoreID string
	FirstName   string
	LastName    string
	CreatedAt   time.Time
}

// UserProfile is the outward projection of a UserAccount (no password hash).
type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	StoreID   string    `json:"storeId,omitempty"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u UserAccount) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		StoreID:   u.HomeStoreID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}
