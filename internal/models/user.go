package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User rows are never hard-deleted; deactivation is a status flip so sessions,
// devices and audit rows keep a valid owner.
type User struct {
	BaseModel
	Email        string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"type:text;not null"`
	FullName     string     `json:"fullName" gorm:"type:varchar(200);not null"`
	Phone        *string    `json:"phone,omitempty" gorm:"type:varchar(30)"`
	Role         UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	MFAEnabled   bool       `json:"mfaEnabled" gorm:"not null;default:false"`
	MFASecret    string     `json:"-" gorm:"type:text"`
	// BackupCodes holds a JSON array of Argon2id hashes; each code is
	// removed from the array when consumed.
	BackupCodes string `json:"-" gorm:"type:text"`
}
