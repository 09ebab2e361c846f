package domain

import "time"

type Subject struct {
	ID           string
	Username     string
	PasswordHash string // argon2 encoded
	Staff        bool   // global override, sees and edits everything
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
