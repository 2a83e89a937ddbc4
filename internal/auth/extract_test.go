// AngelaMos | 2026
// extract_test.go

package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	header := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"alg":"ES256","typ":"JWT"}`),
	)
	body := base64.RawURLEncoding.EncodeToString(payload)

	return header + "." + body + ".fake-signature"
}

func TestExtractAccessTokenID(t *testing.T) {
	jti, err := ExtractAccessTokenID(syntheticJWT(t, map[string]any{
		"jti": "token-abc",
		"sub": "user-1",
	}))

	require.NoError(t, err)
	assert.Equal(t, "token-abc", jti)
}

func TestExtractAccessTokenIDWrongSegmentCount(t *testing.T) {
	_, err := ExtractAccessTokenID("header.payload")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = ExtractAccessTokenID("a.b.c.d")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestExtractAccessTokenIDBadPayloadEncoding(t *testing.T) {
	_, err := ExtractAccessTokenID("header.%%%not-base64%%%.sig")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestExtractAccessTokenIDMissingJTI(t *testing.T) {
	_, err := ExtractAccessTokenID(syntheticJWT(t, map[string]any{
		"sub": "user-1",
	}))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestOpaqueCodecRoundTrip(t *testing.T) {
	codec := NewOpaqueCodec("test-passphrase")

	encoded, err := codec.Encode(`{"refresh_token_id":"refresh-xyz"}`)
	require.NoError(t, err)

	id, err := codec.ExtractRefreshTokenID(encoded)
	require.NoError(t, err)
	assert.Equal(t, "refresh-xyz", id)
}

func TestOpaqueCodecWrongPassphrase(t *testing.T) {
	encoded, err := NewOpaqueCodec("right-passphrase").Encode(
		`{"refresh_token_id":"refresh-xyz"}`,
	)
	require.NoError(t, err)

	_, err = NewOpaqueCodec("wrong-passphrase").ExtractRefreshTokenID(encoded)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestOpaqueCodecRejectsGarbage(t *testing.T) {
	codec := NewOpaqueCodec("test-passphrase")

	_, err := codec.ExtractRefreshTokenID("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrMalformedToken)

	// Valid base64 but shorter than a salt.
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	_, err = codec.ExtractRefreshTokenID(short)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestOpaqueCodecMissingRefreshTokenID(t *testing.T) {
	codec := NewOpaqueCodec("test-passphrase")

	encoded, err := codec.Encode(`{"user_id":"user-1"}`)
	require.NoError(t, err)

	_, err = codec.ExtractRefreshTokenID(encoded)
	assert.ErrorIs(t, err, ErrMalformedToken)
}
