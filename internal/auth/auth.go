// Package auth turns bearer tokens issued by the identity collaborator into
// a models.Identity. Policy itself lives with the components that enforce it.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"photogallery/internal/models"
)

const identityKey = "identity"

type Claims struct {
	jwt.RegisteredClaims
	UserID   int64   `json:"uid"`
	GroupIDs []int64 `json:"groups,omitempty"`
	Staff    bool    `json:"staff,omitempty"`
}

func GenerateToken(id models.Identity, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:   id.UserID,
		GroupIDs: id.GroupIDs,
		Staff:    id.Staff,
	})
	return token.SignedString(secretKey)
}

func ParseToken(tokenString string, secretKey []byte) (models.Identity, error) {
	const op = "auth.ParseToken"

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %w", op, models.ErrUnauthorized, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return models.Identity{}, fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	}
	return models.Identity{UserID: claims.UserID, GroupIDs: claims.GroupIDs, Staff: claims.Staff}, nil
}

// Middleware stores the caller's identity on the context. Requests without
// a token continue anonymously; a token that fails to parse is rejected.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as well.
func Middleware(secretKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			c.Set(identityKey, models.Identity{})
			c.Next()
			return
		}

		id, err := ParseToken(raw, secretKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireUser rejects anonymous callers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Identity(c).Anonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

func Identity(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(models.Identity); ok {
			return id
		}
	}
	return models.Identity{}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ValidateSecret reports a configuration error for an empty signing key.
func ValidateSecret(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("auth: jwt secret is empty: %w", models.ErrConfiguration)
	}
	return nil
}
