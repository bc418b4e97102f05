package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	plaintext := []byte("db_password: hunter2\n")

	sealed, err := Encrypt(plaintext, "secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, string(sealed), "hunter2")

	opened, err := Decrypt(sealed, "secret")
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := Encrypt([]byte("x: 1\n"), "right")
	require.NoError(t, err)

	_, err = Decrypt(sealed, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestEncryptRejectsEncryptedInput(t *testing.T) {
	sealed, err := Encrypt([]byte("x: 1\n"), "pw")
	require.NoError(t, err)

	_, err = Encrypt(sealed, "pw")
	assert.ErrorIs(t, err, ErrAlreadyEncrypted)
}

func TestDecryptRejectsPlaintext(t *testing.T) {
	_, err := Decrypt([]byte("x: 1\n"), "pw")
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestEncryptRejectsEmptyPassphrase(t *testing.T) {
	_, err := Encrypt([]byte("x: 1\n"), "  ")
	assert.Error(t, err)
}

func TestEncryptFileDecryptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: abc\n"), 0o600))

	sealedPath, err := EncryptFile(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, path+".age", sealedPath)
	assert.NoFileExists(t, path)

	raw, err := os.ReadFile(sealedPath)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))

	openPath, err := DecryptFile(sealedPath, "pw")
	require.NoError(t, err)
	assert.Equal(t, path, openPath)
	assert.NoFileExists(t, sealedPath)

	restored, err := os.ReadFile(openPath)
	require.NoError(t, err)
	assert.Equal(t, "token: abc\n", string(restored))
}

func TestLoadVarsMergesInOrder(t *testing.T) {
	dir := t.TempDir()

	first, err := Encrypt([]byte("token: first\nshared: a\n"), "pw")
	require.NoError(t, err)
	second, err := Encrypt([]byte("token: second\n"), "pw")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.age"), first, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.age"), second, 0o600))

	out, err := LoadVars(dir, []string{"one.age", "two.age"}, "pw")
	require.NoError(t, err)
	assert.Equal(t, "second", out["token"])
	assert.Equal(t, "a", out["shared"])
}

func TestLoadVarsMissingFile(t *testing.T) {
	_, err := LoadVars(t.TempDir(), []string{"nope.age"}, "pw")
	assert.Error(t, err)
}
