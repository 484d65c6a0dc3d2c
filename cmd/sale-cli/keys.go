package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"salechain/crypto"
)

func newKeygenCmd(opts *cliOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new key and seal it in an encrypted keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(out)
			if path == "" {
				path = strings.TrimSpace(opts.keyPath)
			}
			if path == "" {
				return fmt.Errorf("keystore destination required; pass --out")
			}
			pass, err := opts.pass.Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if err := crypto.SaveToKeystore(path, key, pass); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), addressView(key.Address(), path))
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "keystore file to create (defaults to --key)")
	return cmd
}

func newAddressCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address held by the selected keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), addressView(key.Address(), opts.keyPath))
		},
	}
}

func addressView(addr crypto.Address, path string) map[string]string {
	return map[string]string{
		"address":  addr.String(),
		"hex":      addr.Hex(),
		"keystore": path,
	}
}
