// Command wishctl is a command-line client for the wishledger HTTP API. It
// signs caller requests with a local secp256k1 key.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wishledger/internal/client"
	"github.com/alanyoungcy/wishledger/internal/crypto"
)

// globalOptions are the persistent flags shared by every subcommand. Each
// defaults to its WISHCTL_* environment variable.
type globalOptions struct {
	server      string
	key         string
	keyFile     string
	keyPassword string
	adminKey    string
	caller      string
	chainID     int64
	timeout     time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "wishctl",
		Short: "Command-line client for the wishledger API",
		Long: `wishctl talks to a wishledger daemon over HTTP.

Caller operations are signed with the key given by --key or --key-file.
Against a daemon running without signatures, --caller names the account.

Example:
  wishctl keygen --key-file me.key --key-password hunter2
  wishctl create "new bike" 500 2026-12-24T00:00:00Z --key-file me.key --key-password hunter2`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", envOr("WISHCTL_SERVER", "http://localhost:8080"), "wishledger base URL (or WISHCTL_SERVER)")
	pf.StringVar(&opts.key, "key", os.Getenv("WISHCTL_KEY"), "hex private key (or WISHCTL_KEY)")
	pf.StringVar(&opts.keyFile, "key-file", os.Getenv("WISHCTL_KEY_FILE"), "encrypted key file (or WISHCTL_KEY_FILE)")
	pf.StringVar(&opts.keyPassword, "key-password", os.Getenv("WISHCTL_KEY_PASSWORD"), "key file password (or WISHCTL_KEY_PASSWORD)")
	pf.StringVar(&opts.adminKey, "admin-key", os.Getenv("WISHCTL_ADMIN_KEY"), "admin API key (or WISHCTL_ADMIN_KEY)")
	pf.StringVar(&opts.caller, "caller", os.Getenv("WISHCTL_CALLER"), "unsigned caller address (or WISHCTL_CALLER)")
	pf.Int64Var(&opts.chainID, "chain-id", envInt64("WISHCTL_CHAIN_ID", 1), "EIP-712 chain id (or WISHCTL_CHAIN_ID)")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		newKeygenCmd(opts),
		newCreateCmd(opts),
		newFundCmd(opts),
		newClaimCmd(opts),
		newSettleCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newBalanceCmd(opts),
		newWithdrawCmd(opts),
		newDepositCmd(opts),
	)
	return rootCmd
}

// newClient builds an API client from the global flags. A signing key is
// loaded only when one is configured.
func (o *globalOptions) newClient() (*client.Client, error) {
	var copts []client.Option
	if o.adminKey != "" {
		copts = append(copts, client.WithAdminKey(o.adminKey))
	}

	if o.key != "" || o.keyFile != "" {
		hexKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    o.key,
			EncryptedKeyPath: o.keyFile,
			KeyPassword:      o.keyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		signer, err := crypto.NewSigner(hexKey, o.chainID)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		copts = append(copts, client.WithSigner(signer))
	} else if o.caller != "" {
		if !common.IsHexAddress(o.caller) {
			return nil, fmt.Errorf("--caller %q is not an address", o.caller)
		}
		copts = append(copts, client.WithCaller(common.HexToAddress(o.caller)))
	}

	return client.New(o.server, copts...), nil
}

func (o *globalOptions) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
