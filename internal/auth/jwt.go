package auth

import (
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// IdentityClaims are the JWT claims carried by server-to-server bearer
// tokens. Subject holds the user id; SessionID and ClientID are custom
// claims binding the token to a pipeline session.
type IdentityClaims struct {
	SessionID string `json:"sid"`
	ClientID  string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

type jwtVerifier struct {
	publicKey *ecdsa.PublicKey
}

func newJWTVerifierFromPEM(publicKeyPEM string) (*jwtVerifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not provided")
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	return &jwtVerifier{publicKey: publicKey}, nil
}

// ParseIdentity validates a bearer JWT and extracts the bound identity.
// Tokens must be ES256-signed, unexpired, and carry a session id claim.
func (v *jwtVerifier) ParseIdentity(tokenStr string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &IdentityClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		return v.publicKey, nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("JWT parse error")
		return nil, err
	}

	if !parsed.Valid {
		return nil, errors.New("token invalid")
	}

	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("token expired")
	}

	if claims.SessionID == "" {
		return nil, errors.New("missing session claim")
	}

	return &Identity{
		SessionID:   claims.SessionID,
		UserID:      claims.Subject,
		ClientID:    claims.ClientID,
		ConnectedAt: time.Now(),
	}, nil
}
