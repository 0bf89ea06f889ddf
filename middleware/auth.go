package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cart-order-service/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity"

// Claims carries the caller identity issued by the platform's auth service.
type Claims struct {
	Role         models.UserRole `json:"role"`
	RestaurantID string          `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for who. Used by tooling and tests; production
// tokens come from the identity provider.
func GenerateToken(secret []byte, who models.Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		Role:         who.Role,
		RestaurantID: who.RestaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   who.SubjectID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// AuthRequired validates the JWT and injects the caller identity into context
func AuthRequired(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Authorization header required (Bearer <token>)")
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or expired token")
			return
		}
		if claims.Subject == "" || !models.ValidRole(claims.Role) {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Token is missing subject or role")
			return
		}

		c.Set(identityKey, models.Identity{
			SubjectID:    claims.Subject,
			Role:         claims.Role,
			RestaurantID: claims.RestaurantID,
		})
		c.Next()
	}
}

// RoleRequired enforces that caller has one of the allowed roles
func RoleRequired(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := GetIdentity(c)
		if !ok {
			abort(c, http.StatusForbidden, "FORBIDDEN", "Identity not found in context")
			return
		}
		for _, r := range roles {
			if who.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "Access denied. Required role(s): "+rolesString(roles))
	}
}

func rolesString(roles []models.UserRole) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

// GetIdentity extracts the caller identity from context
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	who, ok := val.(models.Identity)
	return who, ok
}

// MustIdentity is for handlers mounted behind AuthRequired.
func MustIdentity(c *gin.Context) models.Identity {
	who, _ := GetIdentity(c)
	return who
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}
