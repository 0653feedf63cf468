package cloud

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emusync/emusync/internal/errors"
)

func testClaims() Claims {
	return Claims{
		UserID:     "user-1",
		DeviceID:   "device-1",
		StorageKey: "store/user-1",
		VersionID:  "v1",
		Exp:        time.Now().Add(time.Hour).Unix(),
	}
}

// --- Sign / Verify ---

func TestToken_RoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("primary-key"))
	claims := testClaims()

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	assert.Equal(t, 2, len(strings.Split(token, ".")))

	got, err := signer.Verify(token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, claims, got)
}

func TestToken_RotatedKeyStillVerifies(t *testing.T) {
	oldSigner := NewTokenSigner([]byte("old-key"))
	token, err := oldSigner.Sign(testClaims())
	require.NoError(t, err)

	rotated := NewTokenSigner([]byte("new-key"), []byte("old-key"))
	_, err = rotated.Verify(token, time.Now())
	require.NoError(t, err)
}

func TestToken_UnknownKeyRejected(t *testing.T) {
	signer := NewTokenSigner([]byte("key-a"))
	token, err := signer.Sign(testClaims())
	require.NoError(t, err)

	other := NewTokenSigner([]byte("key-b"))
	_, err = other.Verify(token, time.Now())
	require.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestToken_ExpiredRejected(t *testing.T) {
	signer := NewTokenSigner([]byte("key"))
	claims := testClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = signer.Verify(token, time.Now())
	require.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestToken_ZeroExpNeverExpires(t *testing.T) {
	signer := NewTokenSigner([]byte("key"))
	claims := testClaims()
	claims.Exp = 0

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = signer.Verify(token, time.Now().Add(1000*time.Hour))
	require.NoError(t, err)
}

func TestToken_TamperedBodyRejected(t *testing.T) {
	signer := NewTokenSigner([]byte("key"))
	token, err := signer.Sign(testClaims())
	require.NoError(t, err)

	body, sig, _ := strings.Cut(token, ".")
	tampered := body + "x." + sig

	_, err = signer.Verify(tampered, time.Now())
	require.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestToken_MalformedRejected(t *testing.T) {
	signer := NewTokenSigner([]byte("key"))

	for _, token := range []string{"", "no-dot", "a.b.c extra", "!!!.###"} {
		_, err := signer.Verify(token, time.Now())
		assert.ErrorIs(t, err, errors.ErrUnauthorized, "token %q", token)
	}
}
