package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func generateECKeyPair() (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

func createSignedToken(t *testing.T, privateKey *ecdsa.PrivateKey, claims *IdentityClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tokenStr, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenStr
}

func generatePublicKeyPEM(t *testing.T, publicKey *ecdsa.PublicKey) string {
	t.Helper()
	publicKeyDER, err := x509.MarshalPKIXPublicKey(publicKey)
	require.NoError(t, err)

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyDER,
	})
	require.NotNil(t, publicKeyPEM)
	return string(publicKeyPEM)
}

func TestNewJWTVerifierFromPEM(t *testing.T) {
	t.Run("empty public key", func(t *testing.T) {
		v, err := newJWTVerifierFromPEM("")
		require.Error(t, err)
		require.Nil(t, v)
		require.Equal(t, "JWT public key not provided", err.Error())
	})

	t.Run("invalid PEM", func(t *testing.T) {
		v, err := newJWTVerifierFromPEM("invalid pem")
		require.Error(t, err)
		require.Nil(t, v)
	})

	t.Run("valid public key PEM", func(t *testing.T) {
		_, publicKey, err := generateECKeyPair()
		require.NoError(t, err)

		publicKeyPEM := generatePublicKeyPEM(t, publicKey)
		v, err := newJWTVerifierFromPEM(publicKeyPEM)
		require.NoError(t, err)
		require.NotNil(t, v)
	})
}

func TestParseIdentity(t *testing.T) {
	privateKey, publicKey, err := generateECKeyPair()
	require.NoError(t, err)

	verifier, err := newJWTVerifierFromPEM(generatePublicKeyPEM(t, publicKey))
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		now := time.Now()
		tokenStr := createSignedToken(t, privateKey, &IdentityClaims{
			SessionID: "sess-1",
			ClientID:  "worker-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user123",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})

		identity, err := verifier.ParseIdentity(tokenStr)
		require.NoError(t, err)
		require.Equal(t, "sess-1", identity.SessionID)
		require.Equal(t, "user123", identity.UserID)
		require.Equal(t, "worker-1", identity.ClientID)
		require.WithinDuration(t, time.Now(), identity.ConnectedAt, time.Second)
	})

	t.Run("expired token", func(t *testing.T) {
		tokenStr := createSignedToken(t, privateKey, &IdentityClaims{
			SessionID: "sess-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user123",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})

		identity, err := verifier.ParseIdentity(tokenStr)
		require.Error(t, err)
		require.Nil(t, identity)
	})

	t.Run("token without expiry", func(t *testing.T) {
		tokenStr := createSignedToken(t, privateKey, &IdentityClaims{
			SessionID: "sess-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject: "user456",
			},
		})

		identity, err := verifier.ParseIdentity(tokenStr)
		require.Error(t, err)
		require.Nil(t, identity)
	})

	t.Run("token without session claim", func(t *testing.T) {
		tokenStr := createSignedToken(t, privateKey, &IdentityClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user123",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		identity, err := verifier.ParseIdentity(tokenStr)
		require.Error(t, err)
		require.Nil(t, identity)
	})

	t.Run("token signed with wrong algorithm", func(t *testing.T) {
		// Sign with HS256 instead of ES256
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &IdentityClaims{
			SessionID: "sess-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user123",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		tokenStr, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)

		identity, err := verifier.ParseIdentity(tokenStr)
		require.Error(t, err)
		require.Nil(t, identity)
	})

	t.Run("malformed token", func(t *testing.T) {
		identity, err := verifier.ParseIdentity("invalid.token.string")
		require.Error(t, err)
		require.Nil(t, identity)
	})
}
