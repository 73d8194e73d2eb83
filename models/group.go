package models

import (
	"time"

	"gorm.io/gorm"
)

// Group scopes questions to a set of members (e.g. "Board", "Owners").
type Group struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// RequiredVotes is the live member count, used as the quorum denominator.
	// It is maintained in the same transaction as every membership change and
	// is never settable on its own.
	RequiredVotes int `gorm:"default:0" json:"required_votes"`

	// Relations
	Members   []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	Questions []Question    `gorm:"foreignKey:GroupID" json:"questions,omitempty"`
}

// GroupMember joins a user to a group. Role is advisory and does not restrict
// voting rights. Removing a member shrinks required_votes but leaves the
// member's past ballots untouched.
type GroupMember struct {
	gorm.Model
	GroupID  uint      `gorm:"not null;uniqueIndex:idx_group_members_group_user" json:"group_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_group_members_group_user" json:"user_id"`
	Role     string    `gorm:"default:'member'" json:"role"` // member, chair, admin
	JoinedAt time.Time `json:"joined_at"`

	// Relations
	Group Group `json:"-"`
	User  User  `json:"-"`
}
