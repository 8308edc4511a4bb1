package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailgrant/mailgrant/internal/upstream"
)

func newTestVault(t *testing.T) (*Vault, []byte) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	v, err := New(t.TempDir(), key)
	require.NoError(t, err)
	return v, key
}

func testCredential() *upstream.Credential {
	return &upstream.Credential{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		Scopes:       []string{"openid", "https://www.googleapis.com/auth/gmail.send"},
	}
}

func TestLoadMissing(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Load("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveThenLoad(t *testing.T) {
	v, _ := newTestVault(t)
	cred := testCredential()

	require.NoError(t, v.Save("principal-1", cred))

	loaded, err := v.Load("principal-1")
	require.NoError(t, err)
	assert.Equal(t, cred, loaded)
}

func TestSaveOverwrites(t *testing.T) {
	v, _ := newTestVault(t)
	first := testCredential()
	require.NoError(t, v.Save("principal-1", first))

	second := testCredential()
	second.AccessToken = "ya29.rotated"
	require.NoError(t, v.Save("principal-1", second))

	loaded, err := v.Load("principal-1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.rotated", loaded.AccessToken)
}

func TestLoadWrongKey(t *testing.T) {
	dir := t.TempDir()
	key1, err := GenerateKey()
	require.NoError(t, err)
	v1, err := New(dir, key1)
	require.NoError(t, err)
	require.NoError(t, v1.Save("principal-1", testCredential()))

	key2, err := GenerateKey()
	require.NoError(t, err)
	v2, err := New(dir, key2)
	require.NoError(t, err)

	_, err = v2.Load("principal-1")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestLoadCorruptRecord(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.Save("principal-1", testCredential()))

	path := filepath.Join(v.dir, "principal-1.cred")
	record, err := os.ReadFile(path)
	require.NoError(t, err)
	record[len(record)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, record, 0o600))

	_, err = v.Load("principal-1")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestLoadTruncatedRecord(t *testing.T) {
	v, _ := newTestVault(t)
	path := filepath.Join(v.dir, "principal-1.cred")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, err := v.Load("principal-1")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestRejectsBadKeyLength(t *testing.T) {
	_, err := New(t.TempDir(), []byte("too short"))
	assert.Error(t, err)
}

func TestRejectsTraversalPrincipal(t *testing.T) {
	v, _ := newTestVault(t)
	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := v.Load(id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
		assert.Error(t, v.Save(id, testCredential()), "id %q", id)
	}
}
