package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordReset is single-use: UsedAt is set when consumed and the row is
// never reused. Only the token digest is stored, the raw token travels
// out-of-band.
type PasswordReset struct {
	BaseModel
	UserID    uuid.UUID  `json:"-" gorm:"type:uuid;index;not null"`
	TokenHash string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt time.Time  `json:"-" gorm:"not null;index"`
	UsedAt    *time.Time `json:"-"`
}
