package auth

import "time"

// User is a climber or administrator account.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveRole is the role used for authorisation. Deactivated accounts
// keep their stored role but hold none.
func (u *User) EffectiveRole() string {
	if u == nil || !u.IsActive {
		return ""
	}
	return u.Role
}
