package users

import (
	"strings"
	"time"
)

// User is the local identity record owned by this service. External
// identities link to at most one User per provider variant.
type User struct {
	ID         string    `gorm:"column:id;primaryKey;size:36"`
	Username   string    `gorm:"column:username;size:190;uniqueIndex;not null"`
	Email      string    `gorm:"column:email;size:320;index"`
	GivenName  string    `gorm:"column:given_name;size:150"`
	FamilyName string    `gorm:"column:family_name;size:150"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local users.
func (User) TableName() string {
	return "users"
}

// HasNames reports whether either name field is populated.
func (u User) HasNames() bool {
	return strings.TrimSpace(u.GivenName) != "" || strings.TrimSpace(u.FamilyName) != ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
