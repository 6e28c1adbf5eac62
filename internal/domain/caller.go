package domain

// Role is the access level of a caller
type Role string

const (
	RoleGrandAdmin Role = "grand_admin"
	RoleShopAdmin  Role = "shop_admin"
	RoleStaff      Role = "staff"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleGrandAdmin, RoleShopAdmin, RoleStaff:
		return true
	}
	return false
}

// Caller is the authenticated identity handed to every operation
type Caller struct {
	UserID string
	Role   Role
	ShopID string
}

// IsGlobal reports whether the caller may act across shops
func (c Caller) IsGlobal() bool {
	return c.Role == RoleGrandAdmin
}

// IsAdmin reports whether the caller may manage the catalogue and reports
func (c Caller) IsAdmin() bool {
	return c.Role == RoleGrandAdmin || c.Role == RoleShopAdmin
}

// ScopeShop resolves the shop an operation runs against. Non-global callers
// are always pinned to their own shop; global callers use requested, which
// may be empty for cross-shop reads.
func (c Caller) ScopeShop(requested string) (string, error) {
	if c.IsGlobal() {
		return requested, nil
	}
	if c.ShopID == "" {
		return "", ErrForbidden
	}
	if requested != "" && requested != c.ShopID {
		return "", ErrForbidden
	}
	return c.ShopID, nil
}

// CanAccess reports whether the caller may touch a record owned by shopID
func (c Caller) CanAccess(shopID string) bool {
	return c.IsGlobal() || (c.ShopID != "" && c.ShopID == shopID)
}

// RequireAdmin returns ErrForbidden for staff callers
func (c Caller) RequireAdmin() error {
	if !c.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
