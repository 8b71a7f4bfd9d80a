package domain

import "time"

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleSupport   Role = "support"
	RoleTechnical Role = "technical"
	RoleTeamLead  Role = "team_lead"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSupport, RoleTechnical, RoleTeamLead, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"size:128;not null" json:"-"`
	Role             Role       `gorm:"size:32;not null;default:customer" json:"role"`
	TokenVersion     int        `gorm:"not null;default:0" json:"-"`
	LockUntil        *time.Time `gorm:"index" json:"-"`
	LoginAttempts    int        `gorm:"not null;default:0" json:"-"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	TwoFactorEnabled bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.Locked(now) {
		return 0
	}
	return u.LockUntil.Sub(now)
}
