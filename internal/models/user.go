package models

import "time"

// User is a registered account. Username and Email are stored in the case
// the user chose; lookups are case-insensitive.
type User struct {
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	LastLoginIP  string     `json:"-"`
}
