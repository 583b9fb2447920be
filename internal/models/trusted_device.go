package models

import (
	"time"

	"github.com/google/uuid"
)

// TrustedDevice lets a browser skip the MFA challenge at login. The browser
// holds an opaque token whose digest is stored here; trust is independent of
// sessions, revoking one never touches the other.
type TrustedDevice struct {
	BaseModel
	UserID     uuid.UUID  `json:"userID" gorm:"type:uuid;index;not null"`
	TokenHash  string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	UserAgent  string     `json:"userAgent" gorm:"type:varchar(512)"`
	IP         string     `json:"ip" gorm:"type:varchar(45)"`
	LastUsedAt time.Time  `json:"lastUsedAt"`
	ExpiresAt  time.Time  `json:"expiresAt" gorm:"index;not null"`
	RevokedAt  *time.Time `json:"-" gorm:"index"`
	User       User       `json:"-" gorm:"foreignKey:UserID"`
}

func (d *TrustedDevice) Valid(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}
