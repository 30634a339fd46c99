package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarkoPoloResearchLab/settlement/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvFile    = "env-file"
	defaultEnvFile = ".env"
)

var configFlags = []struct {
	key   string
	usage string
}{
	{key: config.KeyHTTPListenAddr, usage: "HTTP listen address (default :8080)"},
	{key: config.KeyGRPCListenAddr, usage: "gRPC back-office listen address (default :7000)"},
	{key: config.KeyDatabaseURL, usage: "PostgreSQL connection string or sqlite path (default sqlite:///tmp/settlement.db)"},
	{key: config.KeyStoreDriver, usage: "store implementation: gorm or pgx (default gorm)"},
	{key: config.KeyDefaultCurrency, usage: "wallet currency when requests omit one (default NGN)"},
	{key: config.KeyFeeCustomerCheckout, usage: "flat fee added to card checkouts (default 10.00)"},
	{key: config.KeyFeeWallet, usage: "flat fee added to wallet checkouts (default 10.00)"},
	{key: config.KeyFeePayout, usage: "flat fee deducted from payouts (default 10.00)"},
	{key: config.KeyPlatformAccountEmail, usage: "email of the party that receives fees"},
	{key: config.KeyGatewayBaseURL, usage: "payment gateway base URL (default https://api.paystack.co)"},
	{key: config.KeyGatewayProvider, usage: "payment gateway name (default paystack)"},
	{key: config.KeyGatewaySecret, usage: "payment gateway secret key; empty disables gateway calls and webhooks"},
	{key: config.KeyGatewayTimeout, usage: "per-request gateway timeout (default 20s)"},
	{key: config.KeyGatewayMaxRetries, usage: "gateway transport retries (default 2)"},
	{key: config.KeyJWTSigningKey, usage: "HS256 key for bearer tokens"},
	{key: config.KeyJWTIssuer, usage: "expected token issuer (default settlement)"},
	{key: config.KeyAllowedOrigins, usage: "comma-separated CORS origins"},
	{key: config.KeyRequestTimeout, usage: "per-request database timeout (default 5s)"},
	{key: config.KeyRedisURL, usage: "Redis URL for shared rate limiting; empty disables it"},
	{key: config.KeyRateLimitRequests, usage: "requests allowed per window per caller (default 60)"},
	{key: config.KeyRateLimitWindow, usage: "rate limit window (default 1m)"},
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "settlementd",
		Short:         "Wallet ledger and payment settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagEnvFile, defaultEnvFile, "optional .env file loaded before reading the environment")
	for _, flag := range configFlags {
		cmd.PersistentFlags().String(flag.key, "", flag.usage)
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newDirectoryCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := &config.Config{}
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC back office",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *cfg)
		},
	}
}

// readConfig layers flags over SETTLEMENT_* variables over the .env file.
func readConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	v := viper.New()
	config.BindEnvironment(v)
	for _, flag := range configFlags {
		if err := v.BindPFlag(flag.key, cmd.Flags().Lookup(flag.key)); err != nil {
			return err
		}
	}
	*cfg = config.FromViper(v)
	return nil
}
