package models

import (
	"time"

	"github.com/google/uuid"
)

type MFAChallengeType string

const (
	// MFAChallengeSetup lives between setup/start and setup/verify and holds
	// the candidate TOTP secret before it is committed to the user row.
	MFAChallengeSetup MFAChallengeType = "setup"
	// MFAChallengeLogin marks a password-authenticated login that still owes
	// a second factor.
	MFAChallengeLogin MFAChallengeType = "login"
)

// MFAChallenge is an ephemeral row; expiry is enforced by timestamp
// comparison at read time, with a lazy sweep for hygiene.
type MFAChallenge struct {
	BaseModel
	UserID         uuid.UUID        `json:"-" gorm:"type:uuid;index;not null"`
	Type           MFAChallengeType `json:"-" gorm:"type:varchar(20);not null"`
	Secret         string           `json:"-" gorm:"type:text"`
	RememberDevice bool             `json:"-" gorm:"not null;default:false"`
	ExpiresAt      time.Time        `json:"-" gorm:"not null;index"`
}
