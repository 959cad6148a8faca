// Package authz holds the single authorization decision for the whole API.
// Handlers authenticate and the ledger asks Authorize exactly once before
// touching any state; no role checks live anywhere else.
package authz

import (
	"errors"
	"fmt"

	"retailhub/backend/internal/domain"
)

// ErrForbiddenScope is returned for every deny, wrapped with a reason.
var ErrForbiddenScope = errors.New("forbidden")

// Action is the closed set of operations the gate can judge.
type Action string

const (
	ActionStoreCreate   Action = "store:create"
	ActionStoreRead     Action = "store:read"
	ActionProductCreate Action = "product:create"
	ActionProductRead   Action = "product:read"
	ActionProductUpdate Action = "product:update"
	ActionProductDelete Action = "product:delete"
	ActionSaleCreate    Action = "sale:create"
	ActionSaleRead      Action = "sale:read"
	ActionSaleUpdate    Action = "sale:update"
	ActionSaleDelete    Action = "sale:delete"
)

// Authorize decides whether principal may perform action against the store
// identified by targetStoreID. It is pure: it reads its arguments and
// nothing else. targetStoreID may be empty for actions without a store
// scope (e.g. listing across stores), which only admins may do for
// store-scoped roles.
func Authorize(principal domain.Principal, action Action, targetStoreID string) error {
	switch principal.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCashier:
		return authorizeCashier(principal, action, targetStoreID)
	case domain.RoleUser:
		return fmt.Errorf("%w: action %s not available to users", ErrForbiddenScope, action)
	default:
		return fmt.Errorf("%w: unrecognized role", ErrForbiddenScope)
	}
}

func authorizeCashier(principal domain.Principal, action Action, targetStoreID string) error {
	switch action {
	case ActionProductCreate, ActionProductUpdate, ActionProductDelete, ActionProductRead:
		if targetStoreID == "" || targetStoreID != principal.HomeStoreID {
			return fmt.Errorf("%w: cashier is scoped to store %s", ErrForbiddenScope, principal.HomeStoreID)
		}
		return nil
	default:
		return fmt.Errorf("%w: action %s requires admin", ErrForbiddenScope, action)
	}
}
