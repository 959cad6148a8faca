package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"retailhub/backend/internal/domain"
	"retailhub/backend/internal/store"
	"retailhub/backend/internal/xid"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role    string `json:"role"`
	StoreID string `json:"store_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.UserProfile, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: invalid email", store.ErrValidation)
	}
	if len(req.Password) < 6 {
		return domain.UserProfile{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}

	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	storeID := strings.TrimSpace(req.StoreID)
	if role == domain.RoleCashier && storeID == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: cashier accounts need a storeId", store.ErrValidation)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserProfile{}, err
	}

	user := domain.UserAccount{
		ID:          xid.New("user"),
		Email:       email,
		Password:    hash,
		Role:        role,
		HomeStoreID: storeID,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		return domain.UserProfile{}, err
	}
	return user.Profile(), nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		Token:     token,
		Role:      user.Role,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (a *AuthManager) ChangePassword(ctx context.Context, email string, current string, next string) error {
	if len(next) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}

	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !verifyPassword(user.Password, current) {
		return errInvalidCredentials
	}

	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	return a.userStore.UpdateUserPassword(ctx, email, hash)
}

func (a *AuthManager) Profile(ctx context.Context, email string) (domain.UserProfile, error) {
	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return user.Profile(), nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Principal, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Principal{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Principal{}, errors.New("invalid token subject")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Principal{}, errors.New("invalid token role")
	}
	return domain.Principal{Subject: sub, Role: role, HomeStoreID: claims.StoreID}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "retailhub",
		},
		Role:    string(user.Role),
		StoreID: user.HomeStoreID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
