package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/sale"
	"salechain/native/token"
)

func newAuthorityCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "authority",
		Short: "Show the derived custody authority and config addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			res, err := opts.client().Authority(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or administer the sale configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the committed configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			res, err := opts.client().Config(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.AddCommand(
		show,
		newPricedAdminCmd(opts, "init", "Create or re-apply the configuration", sale.NewInitializeConfig),
		newPricedAdminCmd(opts, "reset", "Reset price and payout recipient and resume the sale", sale.NewResetConfig),
		newSetPriceCmd(opts),
		newToggleCmd(opts, "pause", "Halt settlement of buys", sale.NewPause),
		newToggleCmd(opts, "unpause", "Resume settlement of buys", sale.NewUnpause),
	)
	return cmd
}

type pricedBuilder func(programID, owner crypto.Address, price uint64, recipient crypto.Address) (types.Instruction, error)

func newPricedAdminCmd(opts *cliOptions, use, short string, build pricedBuilder) *cobra.Command {
	var (
		price     uint64
		recipient string
		simulate  bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipientAddr, err := parseAddressArg("recipient", recipient)
			if err != nil {
				return err
			}
			return opts.runAdmin(cmd, simulate, func(programID, owner crypto.Address) (types.Instruction, error) {
				return build(programID, owner, price, recipientAddr)
			})
		},
	}
	cmd.Flags().Uint64Var(&price, "price", 0, "lamports per 1e9 base units")
	cmd.Flags().StringVar(&recipient, "recipient", "", "payout recipient address")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "execute without committing")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func newSetPriceCmd(opts *cliOptions) *cobra.Command {
	var (
		price    uint64
		simulate bool
	)
	cmd := &cobra.Command{
		Use:   "set-price",
		Short: "Change the price per unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runAdmin(cmd, simulate, func(programID, owner crypto.Address) (types.Instruction, error) {
				return sale.NewUpdatePrice(programID, owner, price)
			})
		},
	}
	cmd.Flags().Uint64Var(&price, "price", 0, "lamports per 1e9 base units")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "execute without committing")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newToggleCmd(opts *cliOptions, use, short string, build func(programID, owner crypto.Address) (types.Instruction, error)) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runAdmin(cmd, simulate, build)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "execute without committing")
	return cmd
}

// runAdmin signs an owner instruction with the selected keystore against the
// program the node serves.
func (o *cliOptions) runAdmin(cmd *cobra.Command, simulate bool, build func(programID, owner crypto.Address) (types.Instruction, error)) error {
	key, err := o.loadKey()
	if err != nil {
		return err
	}
	programID, err := o.programID(cmd)
	if err != nil {
		return err
	}
	ix, err := build(programID, key.Address())
	if err != nil {
		return err
	}
	return o.submit(cmd, key, ix, simulate)
}

func (o *cliOptions) programID(cmd *cobra.Command) (crypto.Address, error) {
	ctx, cancel := o.context(cmd)
	defer cancel()
	res, err := o.client().Authority(ctx)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("query sale program: %w", err)
	}
	return crypto.DecodeAddress(res.ProgramID)
}

func newQuoteCmd(opts *cliOptions) *cobra.Command {
	var decimals int32
	cmd := &cobra.Command{
		Use:   "quote <amount>",
		Short: "Price a purchase without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := sale.ParseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			res, err := opts.client().Quote(ctx, units)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int32Var(&decimals, "decimals", 9, "decimals of the sale asset")
	return cmd
}

func newBuyCmd(opts *cliOptions) *cobra.Command {
	var (
		mint     string
		receiver string
		decimals int32
		simulate bool
	)
	cmd := &cobra.Command{
		Use:   "buy <amount>",
		Short: "Buy tokens at the configured price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := sale.ParseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			mintAddr, err := parseAddressArg("mint", mint)
			if err != nil {
				return err
			}
			var receiving crypto.Address
			if receiver != "" {
				if receiving, err = parseAddressArg("receiver", receiver); err != nil {
					return err
				}
			}
			key, err := opts.loadKey()
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()
			client := opts.client()
			authority, err := client.Authority(ctx)
			if err != nil {
				return fmt.Errorf("query sale authority: %w", err)
			}
			cfg, err := client.Config(ctx)
			if err != nil {
				return fmt.Errorf("query sale config: %w", err)
			}
			programID, err := crypto.DecodeAddress(authority.ProgramID)
			if err != nil {
				return err
			}
			authorityAddr, err := crypto.DecodeAddress(authority.Authority)
			if err != nil {
				return err
			}
			payout, err := crypto.DecodeAddress(cfg.PayoutRecipient)
			if err != nil {
				return err
			}

			custody, err := token.AssociatedAddress(authorityAddr, mintAddr)
			if err != nil {
				return err
			}
			ix, err := sale.NewBuy(programID, sale.BuyParams{
				Buyer:            key.Address(),
				Custody:          custody,
				Mint:             mintAddr,
				PayoutRecipient:  payout,
				ReceivingAccount: receiving,
				Units:            units,
			})
			if err != nil {
				return err
			}
			return opts.submit(cmd, key, ix, simulate)
		},
	}
	cmd.Flags().StringVar(&mint, "mint", "", "mint of the asset on sale")
	cmd.Flags().StringVar(&receiver, "receiver", "", "receiving token account (defaults to the buyer's associated account)")
	cmd.Flags().Int32Var(&decimals, "decimals", 9, "decimals of the sale asset")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "execute without committing")
	_ = cmd.MarkFlagRequired("mint")
	return cmd
}
