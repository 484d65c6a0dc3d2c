package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"salechain/cmd/internal/passphrase"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/rpc"
)

const (
	defaultRPCEndpoint = "http://127.0.0.1:8899"
	rpcURLEnv          = "SALE_RPC_URL"
	rpcTokenEnv        = "SALE_RPC_TOKEN"
	keystoreEnv        = "SALE_KEYSTORE"
	passphraseEnv      = "SALE_KEYSTORE_PASS"
	indexerDSNEnv      = "SALE_INDEXER_DSN"
)

type cliOptions struct {
	endpoint string
	token    string
	keyPath  string
	timeout  time.Duration

	pass *passphrase.Source
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{pass: passphrase.NewSource(passphraseEnv, "wallet keystore")}

	root := &cobra.Command{
		Use:           "sale-cli",
		Short:         "Operate and buy from a fixed-price token sale",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "rpc", envOr(rpcURLEnv, defaultRPCEndpoint), "JSON-RPC endpoint of the node")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(rpcTokenEnv), "bearer token for transaction submission")
	root.PersistentFlags().StringVar(&opts.keyPath, "key", os.Getenv(keystoreEnv), "path to the signing keystore")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command RPC timeout")

	root.AddCommand(
		newKeygenCmd(opts),
		newAddressCmd(opts),
		newAuthorityCmd(opts),
		newConfigCmd(opts),
		newQuoteCmd(opts),
		newBuyCmd(opts),
		newBalanceCmd(opts),
		newPurchasesCmd(opts),
		newEventsCmd(opts),
		newExportCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (o *cliOptions) client() *rpc.Client {
	return rpc.NewClient(o.endpoint, o.token)
}

func (o *cliOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func (o *cliOptions) loadKey() (*crypto.PrivateKey, error) {
	path := strings.TrimSpace(o.keyPath)
	if path == "" {
		return nil, fmt.Errorf("no keystore selected; pass --key or set %s", keystoreEnv)
	}
	pass, err := o.pass.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

// submit signs and sends a single-instruction transaction, or only simulates
// it when simulate is set.
func (o *cliOptions) submit(cmd *cobra.Command, key *crypto.PrivateKey, ix types.Instruction, simulate bool) error {
	tx := types.NewTransaction(types.NewMessage(uint64(time.Now().UnixNano()), ix))
	if err := tx.Sign(key); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	ctx, cancel := o.context(cmd)
	defer cancel()

	var (
		receipt *rpc.ReceiptResult
		err     error
	)
	if simulate {
		receipt, err = o.client().SimulateTransaction(ctx, tx)
	} else {
		receipt, err = o.client().SendTransaction(ctx, tx)
	}
	if err != nil {
		if data, ok := rpc.ProgramErrorOf(err); ok {
			return fmt.Errorf("sale program rejected the transaction: %s (%d)", data.Name, data.Code)
		}
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), receipt); err != nil {
		return err
	}
	if !receipt.Success {
		if receipt.ProgramError != nil {
			return fmt.Errorf("simulation failed: %s (%d)", receipt.ProgramError.Name, receipt.ProgramError.Code)
		}
		return fmt.Errorf("simulation failed: %s", receipt.Error)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAddressArg(name, raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s required", name)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return addr, nil
}
