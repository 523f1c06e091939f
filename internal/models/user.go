package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole represents the role of a user
type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleMember UserRole = "member"
)

// User mirrors a Firebase-authenticated user locally so purchases can
// reference a stable numeric ID
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	FirebaseUID string   `gorm:"type:varchar(128);uniqueIndex" json:"firebase_uid"`
	Name        string   `gorm:"type:varchar(255)" json:"name"`
	Email       string   `gorm:"type:varchar(255);index" json:"email"`
	Role        UserRole `gorm:"type:varchar(20);default:'member'" json:"role"`

	// Relationships
	Purchases []Purchase `gorm:"foreignKey:BuyerUserID" json:"purchases,omitempty"`
}

// IsAdmin reports whether the user may access admin endpoints
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
