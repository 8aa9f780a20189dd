package driven

import "github.com/lordmuffin/ThinkPod/internal/core/domain"

// TokenVerifier signs and verifies bearer tokens that carry the caller's owner ID
type TokenVerifier interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
