package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"video-effects-backend/internal/config"
	"video-effects-backend/internal/models"
)

const (
	UserIDKey           = "user_id"
	TransformationIDKey = "transformation_id"

	// SessionAudience is the aud claim Supabase puts on signed-in user tokens.
	SessionAudience = "authenticated"
)

func abort(c *gin.Context, errMsg, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: errMsg, Message: message})
}

// bearer extracts the token from an "Authorization: Bearer <token>" header.
func bearer(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// AuthMiddleware accepts Supabase session tokens (HS256, signed with the
// project JWT secret, aud "authenticated") and stores the subject as a uuid
// under UserIDKey. Scoped status tokens are refused even when they share the
// signing secret.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearer(c)
		if err != nil {
			abort(c, err.Error(), "")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if cfg.SupabaseJWTSecret == "" {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.SupabaseJWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(SessionAudience))
		if err != nil {
			var errorMsg string
			switch {
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				errorMsg = "token signature is invalid - check JWT secret"
			case errors.Is(err, jwt.ErrTokenExpired):
				errorMsg = "token has expired"
			case errors.Is(err, jwt.ErrTokenInvalidAudience):
				errorMsg = "token is not a user session token"
			case errors.Is(err, jwt.ErrTokenMalformed):
				errorMsg = "token is malformed - ensure you're using a valid Supabase JWT token"
			default:
				errorMsg = err.Error()
			}
			abort(c, "invalid token", errorMsg)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			abort(c, "invalid token claims", "")
			return
		}
		if _, scoped := claims["scope"]; scoped {
			abort(c, "invalid token", "scoped access tokens cannot be used as a session")
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			abort(c, "missing user id in token", "")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the principal set by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// TokenVerifier checks a scoped status-channel token.
type TokenVerifier interface {
	VerifyAccessToken(token string, id uuid.UUID) error
}

// AccessTokenMiddleware guards routes keyed by :id with a scoped read token.
// The token comes from the Authorization header or, for EventSource clients
// that cannot set headers, the token query parameter.
func AccessTokenMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transformation id"})
			return
		}

		tokenString := c.Query("token")
		if tokenString == "" {
			tokenString, err = bearer(c)
			if err != nil {
				abort(c, err.Error(), "")
				return
			}
		}

		if err := verifier.VerifyAccessToken(tokenString, id); err != nil {
			abort(c, "invalid access token", err.Error())
			return
		}

		c.Set(TransformationIDKey, id)
		c.Next()
	}
}
