package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
)

func newKeygenCmd() *cobra.Command {
	var (
		out           string
		passphraseEnv string
		scryptN       int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key and write it as a passphrase-sealed key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("passphrase env %s is empty", passphraseEnv)
			}
			local, err := keystore.GenerateLocal()
			if err != nil {
				return err
			}
			params := keystore.DefaultScryptParams()
			if scryptN > 0 {
				params.N = scryptN
			}
			if err := keystore.WriteKeyFile(out, local, passphrase, params); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), local.CommonAddress().Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "wcsigner.key", "key file to create")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "WCSIGNER_PASSPHRASE", "environment variable holding the passphrase")
	cmd.Flags().IntVar(&scryptN, "scrypt-n", 0, "scrypt cost parameter N (power of two)")
	return cmd
}

func newAddressCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address stored in a key file without decrypting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = loadClientConfig(opts.configPath).Key.File
			}
			if file == "" {
				return fmt.Errorf("key file is not configured")
			}
			addr, err := keystore.KeyFileAddress(file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "key file (defaults to key.file)")
	return cmd
}
