// AngelaMos | 2026
// extract.go

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrMalformedToken means an issued token could not be parsed for its
// identifier. Extraction never falls back to a default id.
var ErrMalformedToken = errors.New("malformed token")

// ExtractAccessTokenID reads the jti claim from the middle segment of a
// dot-delimited signed token. The signature is not checked here; this runs
// on tokens the authorization engine just handed back.
func ExtractAccessTokenID(accessToken string) (string, error) {
	segments := strings.Split(accessToken, ".")
	if len(segments) != 3 {
		return "", fmt.Errorf(
			"%w: expected 3 segments, got %d",
			ErrMalformedToken, len(segments),
		)
	}

	payload, err := base64.RawURLEncoding.DecodeString(
		strings.TrimRight(segments[1], "="),
	)
	if err != nil {
		return "", fmt.Errorf("%w: decode payload: %w", ErrMalformedToken, err)
	}

	var claims struct {
		JTI string `json:"jti"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: parse claims: %w", ErrMalformedToken, err)
	}
	if claims.JTI == "" {
		return "", fmt.Errorf("%w: missing jti claim", ErrMalformedToken)
	}

	return claims.JTI, nil
}

const (
	opaqueSaltSize  = 16
	opaqueKeySize   = 32
	opaqueKeyRounds = 100_000
)

// OpaqueCodec reverses the authorization engine's refresh-token wrapping:
// AES-256-GCM with a key derived from a shared passphrase, storage format
// base64([salt][nonce][ciphertext]).
type OpaqueCodec struct {
	passphrase string
}

func NewOpaqueCodec(passphrase string) *OpaqueCodec {
	return &OpaqueCodec{passphrase: passphrase}
}

// ExtractRefreshTokenID decodes an opaque refresh token and reads its
// refresh_token_id field.
func (c *OpaqueCodec) ExtractRefreshTokenID(refreshToken string) (string, error) {
	plaintext, err := c.Decode(refreshToken)
	if err != nil {
		return "", err
	}

	var payload struct {
		RefreshTokenID string `json:"refresh_token_id"`
	}
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return "", fmt.Errorf("%w: parse payload: %w", ErrMalformedToken, err)
	}
	if payload.RefreshTokenID == "" {
		return "", fmt.Errorf("%w: missing refresh_token_id", ErrMalformedToken)
	}

	return payload.RefreshTokenID, nil
}

func (c *OpaqueCodec) Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %w", ErrMalformedToken, err)
	}

	if len(raw) < opaqueSaltSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedToken)
	}

	salt, rest := raw[:opaqueSaltSize], raw[opaqueSaltSize:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedToken)
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt: %w", ErrMalformedToken, err)
	}

	return string(plaintext), nil
}

// Encode is the inverse of Decode. The service never wraps tokens itself;
// engine fakes in tests do.
func (c *OpaqueCodec) Encode(plaintext string) (string, error) {
	salt := make([]byte, opaqueSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	raw := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	raw = append(raw, salt...)
	raw = append(raw, nonce...)
	raw = append(raw, sealed...)

	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *OpaqueCodec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(
		[]byte(c.passphrase),
		salt,
		opaqueKeyRounds,
		opaqueKeySize,
		sha256.New,
	)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return gcm, nil
}
