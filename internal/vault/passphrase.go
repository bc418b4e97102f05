package vault

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PassphraseEnv is the environment variable consulted first for a passphrase.
const PassphraseEnv = "FLEETCTL_VAULT_PASSPHRASE"

// ReadPassphrase resolves the vault passphrase: the FLEETCTL_VAULT_PASSPHRASE
// environment variable, then the optional passphrase file, then an interactive
// terminal prompt. With confirm set, the prompt is repeated and both entries
// must match.
func ReadPassphrase(passphraseFile string, confirm bool) (string, error) {
	if val := strings.TrimSpace(os.Getenv(PassphraseEnv)); val != "" {
		return val, nil
	}

	if passphraseFile != "" {
		raw, err := os.ReadFile(passphraseFile)
		if err != nil {
			return "", fmt.Errorf("read passphrase file %q: %w", passphraseFile, err)
		}
		pass := strings.TrimSpace(string(raw))
		if pass == "" {
			return "", fmt.Errorf("passphrase file %q is empty", passphraseFile)
		}
		return pass, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no passphrase available: set %s, use --passphrase-file, or run interactively", PassphraseEnv)
	}

	pass, err := promptPassphrase("Vault passphrase: ")
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase is empty")
	}
	if confirm {
		again, err := promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if pass != again {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return pass, nil
}

// HasPassphraseSource reports whether a passphrase can be resolved without an
// interactive prompt. The check command uses this to decide whether vault
// decryption can be verified.
func HasPassphraseSource(passphraseFile string) bool {
	if strings.TrimSpace(os.Getenv(PassphraseEnv)) != "" {
		return true
	}
	return passphraseFile != ""
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
