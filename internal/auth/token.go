package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// TokenVerifier resolves a remote client's long-lived connect token to the
// user it belongs to. The production implementation lives with the account
// system; the relay only needs this one call.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID string, err error)
}

// StaticTokenVerifier accepts a single configured token, for development
// and single-user deployments.
type StaticTokenVerifier struct {
	Token  string
	UserID string
}

// VerifyToken compares in constant time against the configured token.
func (v *StaticTokenVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	if v.Token == "" {
		return "", fmt.Errorf("no connect token configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.Token)) != 1 {
		return "", fmt.Errorf("invalid connect token")
	}
	userID := v.UserID
	if userID == "" {
		userID = "default"
	}
	return userID, nil
}
