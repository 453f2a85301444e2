// Package auth realizes the authenticated-caller context the core expects
// from its identity collaborator: staff access tokens (HS256 JWTs) carrying
// a tenant id, user id, and role. Share-capability tokens are NOT JWTs;
// they are opaque random strings handled by the services layer.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medkeep/phivault/internal/common"
)

// Caller is the authenticated identity services receive with owner-facing
// operations. Anonymous token redemption carries no Caller at all.
type Caller struct {
	TenantID string
	UserID   string
	Role     string
}

// Claims are the JWT claims of a staff access token.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
}

// GenerateToken signs a staff access token for the caller.
func GenerateToken(caller Caller, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: caller.TenantID,
		UserID:   caller.UserID,
		Role:     caller.Role,
	})

	signed, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// CallerFromToken verifies a staff access token and extracts the Caller.
// Expired or malformed tokens yield common.ErrUnauthorized.
func CallerFromToken(tokenString string, secretKey []byte) (Caller, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil || !token.Valid {
		return Caller{}, common.ErrUnauthorized
	}

	return Caller{TenantID: claims.TenantID, UserID: claims.UserID, Role: claims.Role}, nil
}
