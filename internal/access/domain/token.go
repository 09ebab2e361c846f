package domain

import "time"

// TokenType distinguishes the two credentials of a pair. It is carried in the
// "typ" claim so a refresh token can never be presented as an access token.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

func (t TokenType) Valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// CredentialStatus is the lifecycle state of a stored credential.
//
//	active -> rotated   (refresh token exchanged for a new pair)
//	active -> revoked   (logout, subject disabled, replay response)
//
// No other transitions exist.
type CredentialStatus string

const (
	StatusActive  CredentialStatus = "active"
	StatusRotated CredentialStatus = "rotated"
	StatusRevoked CredentialStatus = "revoked"
)

// CredentialRecord is the server-side state of one issued token, keyed by the
// token's jti.
type CredentialRecord struct {
	TokenID   string
	SubjectID string
	SessionID string // shared by every pair minted from the same login
	Type      TokenType
	Status    CredentialStatus
	IssuedAt  time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (c CredentialRecord) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenPair is what login and refresh hand back to the caller.
type TokenPair struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn        time.Duration `json:"expires_in"`
	RefreshExpiresIn time.Duration `json:"refresh_expires_in"`
	SessionID        string        `json:"-"`
}

// Identity is a validated credential. It never outlives ExpiresAt.
type Identity struct {
	SubjectID string
	TokenID   string
	SessionID string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsZero reports an anonymous caller.
func (i Identity) IsZero() bool { return i.SubjectID == "" }
