package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wishledger/internal/client"
	"github.com/alanyoungcy/wishledger/internal/crypto"
	"github.com/alanyoungcy/wishledger/internal/domain"
)

func newKeygenCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new account key",
		Long: `Generates a secp256k1 key. With --key-file the key is written
encrypted with --key-password; otherwise the hex key is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hexKey, addr, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := map[string]string{"address": addr.Hex()}
			if o.keyFile != "" {
				if o.keyPassword == "" {
					return errors.New("--key-password is required with --key-file")
				}
				if err := crypto.WriteKeyFile(o.keyFile, hexKey, o.keyPassword); err != nil {
					return err
				}
				out["key_file"] = o.keyFile
			} else {
				out["private_key"] = hexKey
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newCreateCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [description] [target] [deadline]",
		Short: "Create a wish owned by the caller",
		Long: `Creates a wish. The deadline is RFC3339 or a duration from now.

Example:
  wishctl create "new bike" 500 2026-12-24T00:00:00Z
  wishctl create "concert tickets" 120 72h`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			deadline, err := parseDeadline(args[2], time.Now())
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			w, err := c.CreateWish(ctx, args[0], target, deadline)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
}

func newFundCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund [id] [amount]",
		Short: "Contribute to an open wish from the caller's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			w, err := c.FundWish(ctx, id, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
}

func newClaimCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim [id]",
		Short: "Claim a funded wish after its deadline (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			res, err := c.Claim(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSettleCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle [id]",
		Short: "Refund contributors of an expired, underfunded wish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			res, err := c.Settle(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newGetCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a wish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			w, err := c.Wish(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
}

func newListCmd(o *globalOptions) *cobra.Command {
	var (
		owner  string
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := client.ListQuery{Status: domain.WishStatus(status), Limit: limit, Offset: offset}
			if owner != "" {
				if !common.IsHexAddress(owner) {
					return fmt.Errorf("--owner %q is not an address", owner)
				}
				addr := common.HexToAddress(owner)
				q.Owner = &addr
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			wishes, err := c.ListWishes(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wishes)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only wishes owned by this address")
	cmd.Flags().StringVar(&status, "status", "", "open, claimed or settled")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newBalanceCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account balance (defaults to the caller)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient()
			if err != nil {
				return err
			}
			account := c.Caller()
			if len(args) == 1 {
				if !common.IsHexAddress(args[0]) {
					return fmt.Errorf("%q is not an address", args[0])
				}
				account = common.HexToAddress(args[0])
			}
			if account == (common.Address{}) {
				return errors.New("no address given and no caller configured")
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			bal, err := c.Balance(ctx, account)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"account": account.Hex(), "balance": bal})
		},
	}
}

func newWithdrawCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw [amount]",
		Short: "Withdraw from the caller's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			bal, err := c.Withdraw(ctx, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"account": c.Caller().Hex(), "balance": bal})
		},
	}
}

func newDepositCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit [address] [amount]",
		Short: "Credit an account (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("%q is not an address", args[0])
			}
			account := common.HexToAddress(args[0])
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := o.requestContext(cmd)
			defer cancel()

			bal, err := c.Deposit(ctx, account, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"account": account.Hex(), "balance": bal})
		},
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid wish id %q", s)
	}
	return id, nil
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid amount %q: must be a positive integer", s)
	}
	return n, nil
}

// parseDeadline accepts an RFC3339 timestamp or a Go duration added to now.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(d).UTC().Truncate(time.Second), nil
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q: want RFC3339 or a duration like 72h", s)
}
