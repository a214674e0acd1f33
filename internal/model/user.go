package model

import "time"

// Roles understood by the API.  They are stored verbatim in users.role and
// carried in the "role" claim of access tokens.
const (
	RolePlayer  = "PLAYER"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	return r == RolePlayer || r == RoleManager || r == RoleAdmin
}

// User represents an application user record as stored in the `users`
// table.  PasswordHash never leaves the service.
type User struct {
	ID           uint64    `json:"id"`           // users.id
	Email        string    `json:"email"`        // users.email
	PasswordHash string    `json:"-"`            // users.password_hash
	DisplayName  string    `json:"display_name"` // users.display_name
	Role         string    `json:"role"`         // users.role
	IsActive     bool      `json:"is_active"`    // users.is_active
	CreatedAt    time.Time `json:"created_at"`   // users.created_at
	UpdatedAt    time.Time `json:"updated_at"`   // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is not stored; only its SHA-256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
