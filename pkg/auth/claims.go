package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     enums.TenantRole
	JTI      string
}

// AccessTokenClaims represents the dashboard JWT. Tokens are minted by the auth
// service; this package only verifies them, except in tests and local tooling.
type AccessTokenClaims struct {
	UserID   uuid.UUID        `json:"user_id"`
	TenantID uuid.UUID        `json:"tenant_id"`
	Role     enums.TenantRole `json:"role"`
	jwt.RegisteredClaims
}
