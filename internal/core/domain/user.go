package domain

import "time"

// Role is one of the closed set of privilege levels. Roles are ordered:
// User < Seller < Admin.
type Role string

const (
	RoleUser   Role = "User"
	RoleSeller Role = "Seller"
	RoleAdmin  Role = "Admin"
)

var roleRank = map[Role]int{
	RoleUser:   1,
	RoleSeller: 2,
	RoleAdmin:  3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Outranks reports whether r grants more privilege than other.
func (r Role) Outranks(other Role) bool {
	return roleRank[r] > roleRank[other]
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// User models one account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PendingEmail *string   `json:"pending_email,omitempty"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile holds the optional personal details captured at registration.
type Profile struct {
	FirstName string
	LastName  string
}

// Groups returns the session group claims: always "User", plus the role
// itself when it is higher.
func (u *User) Groups() []string {
	groups := []string{string(RoleUser)}
	if u.Role != "" && u.Role != RoleUser {
		groups = append(groups, string(u.Role))
	}
	return groups
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.PendingEmail != nil {
		pe := *u.PendingEmail
		c.PendingEmail = &pe
	}
	return &c
}
