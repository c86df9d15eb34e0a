package middleware

import (
	"strings"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Claims issued by the identity service. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies an HS256 bearer token and stores the caller's id and role
// on the gin context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			AbortWithError(c, apperr.Unauthorized("missing bearer token"))
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			AbortWithError(c, apperr.Unauthorized("invalid or expired token"))
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			AbortWithError(c, apperr.Unauthorized("token subject is not a user id"))
			return
		}

		role := service.Role(claims.Role)
		if role != service.RoleAdmin {
			role = service.RoleCustomer
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentActor(c).Role != service.RoleAdmin {
			AbortWithError(c, apperr.Forbidden("admin access required"))
			return
		}
		c.Next()
	}
}

// CurrentActor returns the caller stored by Auth, or the zero Actor.
func CurrentActor(c *gin.Context) service.Actor {
	var actor service.Actor
	if v, ok := c.Get(ctxUserID); ok {
		actor.UserID, _ = v.(uuid.UUID)
	}
	if v, ok := c.Get(ctxRole); ok {
		actor.Role, _ = v.(service.Role)
	}
	return actor
}
