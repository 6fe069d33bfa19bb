package auth

import (
	"errors"
	"strings"
	"time"

	"bookshare/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"

	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Identity is the caller as vouched for by the token issuer. It is trusted
// as given; no credential check happens here.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// RequireAuth verifies "Authorization: Bearer <token>" and stores sub/role
// in the gin context.
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			apperr.Abort(c, apperr.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			apperr.Abort(c, apperr.Unauthorized("invalid Authorization header"))
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			apperr.Abort(c, apperr.Unauthorized("empty token"))
			return
		}

		id, err := ParseToken(secret, tokenStr)
		if err != nil {
			apperr.Abort(c, err)
			return
		}

		role := RoleMember
		if id.IsAdmin {
			role = RoleAdmin
		}
		c.Set(CtxUserIDKey, id.UserID)
		c.Set(CtxRoleKey, role)
		c.Next()
	}
}

// IdentityFrom reads the identity stored by RequireAuth.
func IdentityFrom(c *gin.Context) (Identity, error) {
	sub := c.GetString(CtxUserIDKey)
	if sub == "" {
		return Identity{}, apperr.Unauthorized("no authenticated user")
	}
	return Identity{UserID: sub, IsAdmin: c.GetString(CtxRoleKey) == RoleAdmin}, nil
}

func ParseToken(secret []byte, tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || token == nil || !token.Valid {
		return Identity{}, apperr.Unauthorized("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, apperr.Unauthorized("invalid claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, apperr.Unauthorized("invalid sub")
	}

	role, _ := claims["role"].(string)
	return Identity{UserID: sub, IsAdmin: role == RoleAdmin}, nil
}

// IssueToken signs an HS256 token for id. Production tokens come from the
// identity provider; this serves local tooling and tests.
func IssueToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}
	role := RoleMember
	if id.IsAdmin {
		role = RoleAdmin
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.UserID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
