package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type keycloakFixture struct {
	key    *rsa.PrivateKey
	issuer string
}

func newKeycloakFixture(t *testing.T) *keycloakFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "test-key",
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(server.Close)

	return &keycloakFixture{key: key, issuer: server.URL}
}

func (f *keycloakFixture) sign(t *testing.T, issuer string, expires time.Time) string {
	t.Helper()
	claims := &auth.KeycloakClaims{
		Sub:               "user-1",
		PreferredUsername: "alice",
		Email:             "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func newRouter(middleware gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(middleware)
	router.GET("/me", func(c *gin.Context) {
		user, ok := auth.UserFromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, user)
	})
	return router
}

// TestKeycloakAuthMiddleware_ValidToken 测试合法 token 写入请求 context
func TestKeycloakAuthMiddleware_ValidToken(t *testing.T) {
	f := newKeycloakFixture(t)
	validator := auth.NewKeycloakTokenValidator(f.issuer, f.issuer)
	router := newRouter(auth.KeycloakAuthMiddleware(validator))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+f.sign(t, f.issuer, time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var user auth.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
}

// TestKeycloakAuthMiddleware_Rejects 测试缺失、过期和 issuer 不匹配的 token
func TestKeycloakAuthMiddleware_Rejects(t *testing.T) {
	f := newKeycloakFixture(t)
	validator := auth.NewKeycloakTokenValidator(f.issuer, f.issuer)
	router := newRouter(auth.KeycloakAuthMiddleware(validator))

	cases := map[string]string{
		"missing":      "",
		"expired":      "Bearer " + f.sign(t, f.issuer, time.Now().Add(-time.Hour)),
		"wrong issuer": "Bearer " + f.sign(t, "https://other.example.com", time.Now().Add(time.Hour)),
		"garbage":      "Bearer not-a-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

// TestHeaderIdentityMiddleware 测试开发环境请求头身份
func TestHeaderIdentityMiddleware(t *testing.T) {
	router := newRouter(auth.HeaderIdentityMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(auth.HeaderUserID, "u-9")
	req.Header.Set(auth.HeaderUserName, "Bob")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var user auth.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "u-9", user.ID)
	assert.Equal(t, "Bob", user.Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "anonymous", user.ID)
}
