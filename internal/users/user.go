package users

import (
	"regexp"
	"strings"
	"time"
)

// User is a registered account. The email doubles as the login identifier.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	Email        string    `gorm:"column:email;size:254;not null;uniqueIndex"`
	Nickname     string    `gorm:"column:nickname;size:64;not null;uniqueIndex"`
	Name         string    `gorm:"column:name;size:128"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

var nicknameRe = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

const minPasswordLength = 6

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
