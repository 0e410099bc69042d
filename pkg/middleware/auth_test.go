package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/jwtkeys"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(role models.UserRole) Claims {
	return Claims{
		UserID: uuid.New(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func setupAuthRouter(roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{AuthMiddleware(testSecret)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		userID, err := GetUserID(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, userID.String())
	})
	r.GET("/protected", handlers...)
	return r
}

func doAuthRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	claims := validClaims(models.RoleDriver)
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)

	expired := validClaims(models.RoleDriver)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad format", "Token abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), claims), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), claims), http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}

	r := setupAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := doAuthRequest(r, "Bearer "+valid)
	assert.Equal(t, claims.UserID.String(), w.Body.String())
}

func TestRequireRole(t *testing.T) {
	driverToken := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleDriver))
	adminToken := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleAdmin))

	r := setupAuthRouter(models.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, doAuthRequest(r, "Bearer "+driverToken).Code)
	assert.Equal(t, http.StatusOK, doAuthRequest(r, "Bearer "+adminToken).Code)
}

func TestAuthMiddlewareWithProvider_KeyID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	claims := validClaims(models.RoleCustomer)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "k1"

	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"known kid", "rotated-secret", http.StatusOK},
		{"signed with legacy secret", testSecret, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			signed, err := token.SignedString([]byte(tt.secret))
			require.NoError(t, err)
			r := gin.New()
			r.GET("/protected", AuthMiddlewareWithProvider(kidProvider{"k1": "rotated-secret"}), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			// Act
			w := doAuthRequest(r, "Bearer "+signed)

			// Assert
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type kidProvider map[string]string

func (p kidProvider) ResolveKey(kid string) ([]byte, error) {
	secret, ok := p[kid]
	if !ok {
		return nil, jwtkeys.ErrKeyNotFound
	}
	return []byte(secret), nil
}

func (p kidProvider) LegacyKey() []byte { return []byte(testSecret) }

func TestGetUserID_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, err := GetUserID(c)
	assert.Error(t, err)
	_, err = GetUserRole(c)
	assert.Error(t, err)
}
