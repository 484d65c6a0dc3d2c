package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"salechain/core/types"
	"salechain/indexer"
)

func newBalanceCmd(opts *cliOptions) *cobra.Command {
	var mint string
	cmd := &cobra.Command{
		Use:   "balance [wallet]",
		Short: "Show lamports and the token balance of a wallet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 1 {
				raw = args[0]
			} else {
				key, err := opts.loadKey()
				if err != nil {
					return err
				}
				raw = key.Address().String()
			}
			wallet, err := parseAddressArg("wallet", raw)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			client := opts.client()
			acc, err := client.Account(ctx, wallet)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"address":  acc.Address,
				"lamports": acc.Lamports,
			}
			if mint != "" {
				mintAddr, err := parseAddressArg("mint", mint)
				if err != nil {
					return err
				}
				balance, err := client.TokenBalance(ctx, wallet, mintAddr)
				if err != nil {
					return err
				}
				out["token"] = balance
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&mint, "mint", "", "also report the associated token balance for this mint")
	return cmd
}

func newPurchasesCmd(opts *cliOptions) *cobra.Command {
	var (
		buyer string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "purchases",
		Short: "List indexed purchases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			res, err := opts.client().ListPurchases(ctx, buyer, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "only purchases by this buyer")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum purchases to list")
	return cmd
}

var errStreamDone = errors.New("stream complete")

func newEventsCmd(opts *cliOptions) *cobra.Command {
	var (
		eventTypes []string
		count      int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow committed events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			enc := json.NewEncoder(cmd.OutOrStdout())
			seen := 0
			err := opts.client().StreamEvents(ctx, eventTypes, func(evt *types.Event) error {
				if err := enc.Encode(evt); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return errStreamDone
				}
				return nil
			})
			if errors.Is(err, errStreamDone) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&eventTypes, "type", nil, "only stream these event types (repeatable)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events; 0 follows forever")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		dsn   string
		out   string
		buyer string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the purchase index to a parquet file",
		Long:  "Reads the node's purchase index directly and writes a parquet file with a BLAKE3 checksum beside it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(dsn) == "" {
				return fmt.Errorf("--dsn is required")
			}
			if strings.TrimSpace(out) == "" {
				return fmt.Errorf("--out is required")
			}
			store, err := indexer.Open(dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			defer store.Close()
			res, err := store.ExportParquet(cmd.Context(), out, buyer)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv(indexerDSNEnv), "purchase index DSN (sqlite path or postgres:// URL)")
	cmd.Flags().StringVar(&out, "out", "purchases.parquet", "destination parquet file")
	cmd.Flags().StringVar(&buyer, "buyer", "", "only purchases by this buyer")
	return cmd
}
