package domain

import "time"

type TokenType string

const (
	TokenTypeAccess    TokenType = "access"
	TokenTypeRefresh   TokenType = "refresh"
	TokenTypeTwoFactor TokenType = "two_factor"
)

// TokenRecord tracks issued refresh tokens by hash so they can be revoked
// individually. Access tokens are stateless and never recorded; they are
// checked by signature, blacklist and token version only.
type TokenRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	TokenHash         string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	TokenType         TokenType  `gorm:"size:16;not null" json:"token_type"`
	DeviceFingerprint string     `gorm:"size:128" json:"-"`
	SessionID         string     `gorm:"size:64;index" json:"session_id"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	IsRevoked         bool       `gorm:"not null;default:false" json:"is_revoked"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
