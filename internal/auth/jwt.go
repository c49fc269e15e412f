package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ConnectionClaims are the JWT claims for connection-scoped access tokens.
// Issued once at connect; every later heartbeat/poll/result call carries
// one so the long-lived connect token never travels again.
type ConnectionClaims struct {
	jwt.RegisteredClaims
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// JWTIssuer creates connection-scoped JWTs.
type JWTIssuer struct {
	secret []byte
}

// NewJWTIssuer creates a new JWT issuer with the given shared secret.
func NewJWTIssuer(secret string) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret)}
}

// IssueConnectionToken creates a JWT scoped to one remote connection.
func (j *JWTIssuer) IssueConnectionToken(userID, connectionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ConnectionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "pentagent",
		},
		UserID:       userID,
		ConnectionID: connectionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateConnectionToken parses and validates a connection-scoped JWT.
func (j *JWTIssuer) ValidateConnectionToken(tokenStr string) (*ConnectionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ConnectionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*ConnectionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

type contextKey string

const (
	// ContextKeyClaims is the echo context key for validated claims.
	ContextKeyClaims contextKey = "connection_claims"
)

// GetClaims retrieves the validated connection claims from the context.
func GetClaims(c echo.Context) (*ConnectionClaims, bool) {
	v := c.Get(string(ContextKeyClaims))
	if v == nil {
		return nil, false
	}
	claims, ok := v.(*ConnectionClaims)
	return claims, ok
}

// ConnectionJWTMiddleware validates the Bearer token on relay routes and
// puts the claims into the echo context. The connection in the URL must
// match the one the token was issued for.
func ConnectionJWTMiddleware(issuer *JWTIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			tokenStr, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenStr == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing bearer token",
				})
			}

			claims, err := issuer.ValidateConnectionToken(tokenStr)
			if err != nil {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid token",
				})
			}

			if id := c.Param("id"); id != "" && id != claims.ConnectionID {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "token not valid for this connection",
				})
			}

			c.Set(string(ContextKeyClaims), claims)
			return next(c)
		}
	}
}
