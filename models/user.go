package models

import "gorm.io/gorm"

// User represents a resident account. Identity (who is casting a ballot) is
// always taken from the authenticated user, never from request bodies.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Memberships []GroupMember `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
}
