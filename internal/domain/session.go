package domain

import "time"

type EndReason string

const (
	EndReasonLogout          EndReason = "logout"
	EndReasonExpired         EndReason = "expired"
	EndReasonTerminated      EndReason = "terminated"
	EndReasonSecurityConcern EndReason = "security_concern"
)

// Session is the per-device login record. At most one active row exists per
// (UserID, DeviceFingerprint); repeated logins from the same device update
// the existing row in place.
type Session struct {
	ID                string     `gorm:"primaryKey;size:64" json:"id"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	DeviceFingerprint string     `gorm:"size:128;index:idx_sessions_user_device;not null" json:"-"`
	IPAddress         string     `gorm:"size:64" json:"ip_address"`
	UserAgent         string     `gorm:"size:512" json:"user_agent"`
	LastActivity      time.Time  `gorm:"index" json:"last_activity"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	IsActive          bool       `gorm:"index:idx_sessions_user_device;not null;default:true" json:"is_active"`
	EndReason         EndReason  `gorm:"size:32" json:"end_reason,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
