// Package domain holds the read-only view of the identity collaborator.
// The users table is owned by the auth service; the ledger only reads it.
package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the identity shape the ledger consumes: who the caller is, whether
// they are exempt from accounting, and which tier governs their quotas.
type User struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Username  string `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	Role      string `gorm:"type:varchar(20);not null;default:user" json:"role"`
	Tier      string `gorm:"type:varchar(20);not null;default:free" json:"tier"`
	IsActive  bool   `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsAdmin reports whether the user is exempt from quota accounting.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
