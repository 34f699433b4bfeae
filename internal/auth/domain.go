package auth

import "time"

// Token is an API credential bound to a user. Only the bcrypt hash of
// the secret half is stored.
type Token struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`
}
