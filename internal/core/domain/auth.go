package domain

// AuthContext contains the authenticated caller for request context.
// The owner of every document operation is UserID.
type AuthContext struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// OwnerID returns the owner scope for document operations
func (a *AuthContext) OwnerID() string {
	return a.UserID
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// ToAuthContext converts verified claims to a request auth context
func (c *TokenClaims) ToAuthContext() *AuthContext {
	return &AuthContext{
		UserID:    c.UserID,
		Email:     c.Email,
		SessionID: c.SessionID,
	}
}
