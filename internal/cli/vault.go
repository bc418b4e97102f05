package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/vault"
)

// newVaultCommand creates the "vault" command group for encrypting and
// decrypting variable files.
func newVaultCommand(_ *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Encrypt, decrypt and inspect vault variable files",
	}

	cmd.AddCommand(
		newVaultEncryptCommand(),
		newVaultDecryptCommand(),
		newVaultViewCommand(),
	)
	return cmd
}

func newVaultEncryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt <file>...",
		Short: "Encrypt variable files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			passphrase, err := vault.ReadPassphrase(flagOrDefault(cmd, "passphrase-file", ""), true)
			if err != nil {
				return err
			}
			for _, path := range args {
				out, err := vault.EncryptFile(path, passphrase)
				if err != nil {
					return fmt.Errorf("encrypt %q: %w", path, err)
				}
				logger.Info("encrypted", "file", out)
			}
			return nil
		},
	}
	addVaultFlags(cmd)
	return cmd
}

func newVaultDecryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt <file>...",
		Short: "Decrypt vault files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			passphrase, err := vault.ReadPassphrase(flagOrDefault(cmd, "passphrase-file", ""), false)
			if err != nil {
				return err
			}
			for _, path := range args {
				out, err := vault.DecryptFile(path, passphrase)
				if err != nil {
					return fmt.Errorf("decrypt %q: %w", path, err)
				}
				logger.Info("decrypted", "file", out)
			}
			return nil
		},
	}
	addVaultFlags(cmd)
	return cmd
}

func newVaultViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "Print the decrypted content of a vault file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := vault.ReadPassphrase(flagOrDefault(cmd, "passphrase-file", ""), false)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			plain, err := vault.Decrypt(raw, passphrase)
			if err != nil {
				return fmt.Errorf("decrypt %q: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(plain)
			return err
		},
	}
	addVaultFlags(cmd)
	return cmd
}
