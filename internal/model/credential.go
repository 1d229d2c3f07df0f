package model

import "time"

// CredentialStatus describes whether a stored API key can still be used.
type CredentialStatus string

const (
	StatusActive        CredentialStatus = "active"
	StatusInvalid       CredentialStatus = "invalid"
	StatusQuotaExceeded CredentialStatus = "quota_exceeded"
	StatusRemoved       CredentialStatus = "removed"
)

// Valid reports whether s is one of the known statuses.
func (s CredentialStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInvalid, StatusQuotaExceeded, StatusRemoved:
		return true
	}
	return false
}

// Credential is the encrypted Gemini API key a user brought with them.
// The plaintext value is never stored; Ciphertext is empty once the key is removed.
type Credential struct {
	ID           uint             `gorm:"primarykey" json:"id"`
	UserID       string           `gorm:"type:varchar(255);uniqueIndex;not null" json:"user_id"`
	Ciphertext   string           `gorm:"type:text;not null;default:''" json:"-"`
	Status       CredentialStatus `gorm:"type:varchar(50);default:'active';not null" json:"status"`
	StatusReason string           `gorm:"type:varchar(512)" json:"status_reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
