package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-secret"
	testIssuer = "tamtap-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("kiosk-1", "device", testIssuer, testKey, 15*time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, "device", claims.Role)
	assert.Equal(t, testIssuer, claims.Issuer)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("kiosk-1", "device", testIssuer, testKey, 15*time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "some-other-key", testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("kiosk-1", "device", "other-issuer", testKey, 15*time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue("kiosk-1", "device", testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not.a.token", testKey, testIssuer)
	assert.Error(t, err)
}
