package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// AccessTokenPayload is what Mint needs to issue a token. An empty JTI gets a
// random one.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	Email  string
	JTI    string
}

// AccessTokenClaims is the token shape issued by the marketplace identity service.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	Email  string          `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass. It normalizes Role, so a
// token minted with "Buyer" parses as enums.ActorRoleBuyer.
func (c *AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("token missing user id")
	}
	role, err := enums.ParseActorRole(string(c.Role))
	if err != nil || role == enums.ActorRoleSystem {
		return fmt.Errorf("token carries unsupported role %q", c.Role)
	}
	c.Role = role
	return nil
}
