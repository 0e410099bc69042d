package jwtkeys

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyFile(t *testing.T, keys []SigningKey) string {
	t.Helper()
	raw, err := json.Marshal(keys)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestKeyring_ResolveKey(t *testing.T) {
	now := time.Now()
	secret := base64.StdEncoding.EncodeToString([]byte("active-secret"))
	path := writeKeyFile(t, []SigningKey{
		{ID: "active", Secret: secret, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "revoked", Secret: secret, CreatedAt: now, Revoked: true},
		{ID: "expired", Secret: secret, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
	})

	ring, err := NewKeyring(path, "legacy")
	require.NoError(t, err)

	key, err := ring.ResolveKey("active")
	require.NoError(t, err)
	assert.Equal(t, []byte("active-secret"), key)

	_, err = ring.ResolveKey("revoked")
	assert.ErrorIs(t, err, ErrKeyRevoked)

	_, err = ring.ResolveKey("expired")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = ring.ResolveKey("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.Equal(t, []byte("legacy"), ring.LegacyKey())
}

func TestKeyring_ReloadKeepsPreviousSetOnError(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("s1"))
	path := writeKeyFile(t, []SigningKey{{ID: "k1", Secret: secret}})

	ring, err := NewKeyring(path, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	assert.Error(t, ring.Reload())

	key, err := ring.ResolveKey("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), key)
}

func TestKeyring_NoFile(t *testing.T) {
	ring, err := NewKeyring("", "legacy")
	require.NoError(t, err)
	_, err = ring.ResolveKey("any")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("secret")
	key, err := p.ResolveKey("ignored")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), key)

	_, err = NewStaticProvider("").ResolveKey("x")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
