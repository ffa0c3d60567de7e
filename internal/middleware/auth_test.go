package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/config"
	"video-effects-backend/internal/middleware"
	"video-effects-backend/internal/remote"
)

const secret = "test-secret-key-for-jwt-signing-must-be-long-enough"

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.AuthMiddleware(&config.Config{SupabaseJWTSecret: secret}))
	router.GET("/test", func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID.String()})
	})
	return router
}

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	assert.NoError(t, err)
	return s
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	req, _ := http.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": uuid.NewString(), "aud": "authenticated"}, "other"))
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "signature")
}

func TestAuthMiddleware_NonUUIDSubject(t *testing.T) {
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "user-123", "aud": "authenticated"}, secret))
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{
		"sub": userID.String(),
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, secret))
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
}

func TestAuthMiddleware_RequiresSessionAudience(t *testing.T) {
	userID := uuid.New()
	cases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing aud", jwt.MapClaims{"sub": userID.String()}},
		{"service aud", jwt.MapClaims{"sub": userID.String(), "aud": "service_role"}},
		{"scope claim", jwt.MapClaims{"sub": userID.String(), "aud": "authenticated", "scope": "read"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, tc.claims, secret))
			w := httptest.NewRecorder()
			authRouter().ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotContains(t, w.Body.String(), userID.String())
		})
	}
}

func TestAuthMiddleware_RejectsStatusToken(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")
	t.Setenv("SUPABASE_JWT_SECRET", secret)
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, cfg.SupabaseJWTSecret, cfg.AccessTokenSecret)

	recordID := uuid.New()
	tok, err := remote.NewTokenIssuer(cfg.AccessTokenSecret, time.Hour).Issue(recordID)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.AuthMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID.String()})
	})

	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), recordID.String())
}

type issuerVerifier struct{ *remote.TokenIssuer }

func (v issuerVerifier) VerifyAccessToken(token string, id uuid.UUID) error {
	return v.Verify(token, id)
}

func TestAccessTokenMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := remote.NewTokenIssuer("scoped-secret", time.Hour)
	router := gin.New()
	router.GET("/t/:id/events", middleware.AccessTokenMiddleware(issuerVerifier{issuer}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	id := uuid.New()
	tok, err := issuer.Issue(id)
	assert.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"query token", "/t/" + id.String() + "/events?token=" + tok.Token, "", http.StatusNoContent},
		{"header token", "/t/" + id.String() + "/events", "Bearer " + tok.Token, http.StatusNoContent},
		{"other record", "/t/" + uuid.NewString() + "/events?token=" + tok.Token, "", http.StatusUnauthorized},
		{"missing", "/t/" + id.String() + "/events", "", http.StatusUnauthorized},
		{"bad id", "/t/nope/events?token=" + tok.Token, "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
