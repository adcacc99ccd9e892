package authkit

import "time"

// Profile mirrors the identity provider's view of a user, enriched with
// application fields. Rows are created on first sync and updated, never
// deleted, on every later session establishment for the same user id.
type Profile struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Email       string    `gorm:"column:email;not null"`
	Username    string    `gorm:"column:username"`
	FullName    string    `gorm:"column:full_name"`
	AvatarURL   string    `gorm:"column:avatar_url"`
	Role        string    `gorm:"column:role;not null;default:''"`
	LastLoginAt time.Time `gorm:"column:last_login_at"`
}

// TableName fixes the storage table for GORM.
func (Profile) TableName() string {
	return "profiles"
}
