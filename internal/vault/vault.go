// Package vault encrypts and decrypts variable files with a passphrase.
// Vault files are age-encrypted with a scrypt recipient and ASCII armor, and
// are only merged into variable resolution when fleet.yaml lists them
// explicitly. There is no implicit discovery.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/compose-fleet/fleetctl/internal/vars"
)

// ErrWrongPassphrase indicates the supplied passphrase cannot open the file.
var ErrWrongPassphrase = errors.New("wrong vault passphrase")

// ErrAlreadyEncrypted indicates encryption was requested for vault content.
var ErrAlreadyEncrypted = errors.New("file is already vault-encrypted")

// ErrNotEncrypted indicates decryption was requested for plaintext content.
var ErrNotEncrypted = errors.New("file is not vault-encrypted")

// IsEncrypted reports whether data carries the armored age header.
func IsEncrypted(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), armor.Header)
}

// Encrypt seals plaintext with the passphrase, producing armored age output.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("vault passphrase is empty")
	}
	if IsEncrypted(plaintext) {
		return nil, ErrAlreadyEncrypted
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("build scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	w, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return nil, fmt.Errorf("start encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalize armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens armored vault content with the passphrase.
func Decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	if !IsEncrypted(ciphertext) {
		return nil, ErrNotEncrypted
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("build scrypt identity: %w", err)
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("decrypt vault payload: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted payload: %w", err)
	}
	return plaintext, nil
}

// EncryptFile encrypts path in place, appending the .age extension unless the
// path already carries it.
func EncryptFile(path, passphrase string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	sealed, err := Encrypt(raw, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt %q: %w", path, err)
	}

	out := path
	if !strings.HasSuffix(out, ".age") {
		out += ".age"
	}
	if err := os.WriteFile(out, sealed, 0o600); err != nil {
		return "", fmt.Errorf("write %q: %w", out, err)
	}
	if out != path {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove plaintext %q: %w", path, err)
		}
	}
	return out, nil
}

// DecryptFile decrypts path in place, dropping the .age extension when present.
func DecryptFile(path, passphrase string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	plaintext, err := Decrypt(raw, passphrase)
	if err != nil {
		return "", fmt.Errorf("decrypt %q: %w", path, err)
	}

	out := strings.TrimSuffix(path, ".age")
	if err := os.WriteFile(out, plaintext, 0o600); err != nil {
		return "", fmt.Errorf("write %q: %w", out, err)
	}
	if out != path {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove encrypted %q: %w", path, err)
		}
	}
	return out, nil
}

// LoadVars decrypts and parses the given vault variable files, merging them in
// order. Paths are resolved relative to baseDir when not absolute.
func LoadVars(baseDir string, paths []string, passphrase string) (vars.Vars, error) {
	out := make(vars.Vars)
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		path := p
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, p)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vault file %q: %w", path, err)
		}
		plaintext, err := Decrypt(raw, passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt vault file %q: %w", path, err)
		}
		fileVars, err := vars.ParseVarData(plaintext, path)
		if err != nil {
			return nil, err
		}
		out = vars.Merge(out, fileVars)
	}
	return out, nil
}
