package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/jwtkeys"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// Context keys set once a bearer token has been verified
const (
	UserIDKey   = "user_id"
	UserRoleKey = "user_role"
)

// Claims are the token claims issued by the auth service. This service only verifies them.
type Claims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

var errNoProvider = errors.New("jwt key provider is nil")

// AuthMiddleware verifies tokens signed with a single shared secret
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return AuthMiddlewareWithProvider(jwtkeys.NewStaticProvider(jwtSecret))
}

// AuthMiddlewareWithProvider verifies HS256 bearer tokens against the provider's keys.
// Tokens carrying a kid header are checked against that key, others against the legacy secret.
func AuthMiddlewareWithProvider(provider jwtkeys.KeyProvider) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if provider == nil {
			return nil, errNoProvider
		}
		if kid, _ := token.Header["kid"].(string); kid != "" {
			return provider.ResolveKey(kid)
		}
		if legacy := provider.LegacyKey(); len(legacy) > 0 {
			return legacy, nil
		}
		return nil, jwtkeys.ErrKeyNotFound
	}

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "authorization required")
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil || !token.Valid {
			unauthorized(c, "invalid or expired token")
			return
		}
		if claims.UserID == uuid.Nil || !claims.Role.Valid() {
			unauthorized(c, "invalid token claims")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserRoleKey, claims.Role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *gin.Context, message string) {
	common.ErrorResponse(c, http.StatusUnauthorized, message)
	c.Abort()
}

// RequireRole lets the request through only for callers holding one of roles
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRole(c)
		if err != nil {
			unauthorized(c, "user role not found")
			return
		}
		if !slices.Contains(roles, role) {
			common.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin guards the operator endpoints
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// GetUserID returns the authenticated caller's ID
func GetUserID(c *gin.Context) (uuid.UUID, error) {
	userID, ok := c.Value(UserIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, common.ErrUnauthorized
	}
	return userID, nil
}

// GetUserRole returns the authenticated caller's role
func GetUserRole(c *gin.Context) (models.UserRole, error) {
	role, ok := c.Value(UserRoleKey).(models.UserRole)
	if !ok {
		return "", common.ErrUnauthorized
	}
	return role, nil
}
