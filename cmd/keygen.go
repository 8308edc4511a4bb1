package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailgrant/mailgrant/internal/vault"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a vault encryption key",
		Long: `Generate a fresh 32-byte encryption key, base64 encoded, suitable for
MAILGRANT_ENCRYPTION_KEY. Stored credentials are only readable with the
key that encrypted them, so keep the key stable across restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return fmt.Errorf("generating key: %w", err)
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
