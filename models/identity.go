package models

// UserRole defines allowed roles in the system
type UserRole string

const (
	RoleCustomer   UserRole = "customer"
	RoleRestaurant UserRole = "restaurant"
	RoleAdmin      UserRole = "admin"
)

// Identity is the caller resolved by the auth middleware for a single request.
// RestaurantID is only set for restaurant staff.
type Identity struct {
	SubjectID    string   `json:"subject_id"`
	Role         UserRole `json:"role"`
	RestaurantID string   `json:"restaurant_id,omitempty"`
}

func (i Identity) IsCustomer() bool   { return i.Role == RoleCustomer }
func (i Identity) IsRestaurant() bool { return i.Role == RoleRestaurant }
func (i Identity) IsAdmin() bool      { return i.Role == RoleAdmin }

// ValidRole reports whether r is one of the known roles.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleAdmin:
		return true
	}
	return false
}
