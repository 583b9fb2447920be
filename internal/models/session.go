package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one refresh-token lineage entry. Rotation revokes the current
// row and inserts a fresh one, linking old to new via ReplacedBy, so at most
// one active refresh-token value exists per lineage at any time. A revoked
// row with ReplacedBy set that is presented again is a replay of a rotated
// token, which is the reuse-detection signal.
type Session struct {
	BaseModel
	UserID      uuid.UUID  `json:"userID" gorm:"type:uuid;index;not null"`
	RefreshHash string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	UserAgent   string     `json:"userAgent" gorm:"type:varchar(512)"`
	IP          string     `json:"ip" gorm:"type:varchar(45)"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"index;not null"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty" gorm:"index"`
	ReplacedBy  *uuid.UUID `json:"-" gorm:"type:uuid"`
	User        User       `json:"-" gorm:"foreignKey:UserID"`
}

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
