package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/minutes/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	flagEnvironment           = "environment"
	flagHTTPListenAddr        = "http-listen-addr"
	flagGRPCListenAddr        = "grpc-listen-addr"
	flagDatabaseURL           = "database-url"
	flagStoreBackend          = "store-backend"
	flagAllowedOrigins        = "allowed-origins"
	flagJWTSigningKey         = "jwt-signing-key"
	flagJWTIssuer             = "jwt-issuer"
	flagJWTCookieName         = "jwt-cookie-name"
	flagGatewayMode           = "gateway-mode"
	flagGatewayTimeout        = "gateway-timeout"
	flagCashfreeBaseURL       = "cashfree-base-url"
	flagCashfreeClientID      = "cashfree-client-id"
	flagCashfreeClientSecret  = "cashfree-client-secret"
	flagCashfreeWebhookSecret = "cashfree-webhook-secret"
	flagCashfreeAPIVersion    = "cashfree-api-version"
	flagReturnURL             = "return-url"
	flagNotifyURL             = "notify-url"
	flagMinutesPerExchange    = "minutes-per-exchange"
	flagOpenAIAPIKey          = "openai-api-key"
	flagOpenAIBaseURL         = "openai-base-url"
	flagOpenAIModel           = "openai-model"
	flagResponderTimeout      = "responder-timeout"
	flagReconcileEnabled      = "reconcile-enabled"
	flagReconcileInterval     = "reconcile-interval"
	flagReconcileOlderThan    = "reconcile-older-than"
	flagReconcileBatchSize    = "reconcile-batch-size"
	envPrefix                 = "MINUTESD"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "minutesd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "minutesd",
		Short:         "Pay-per-minute chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagEnvironment, config.EnvironmentDevelopment, "runtime environment (development or production)")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC listen address")
	flags.String(flagDatabaseURL, "", "database url (postgres:// or sqlite://)")
	flags.String(flagStoreBackend, config.StoreBackendGorm, "store backend (gorm or pgx)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.String(flagGatewayMode, config.GatewayModeCashfree, "payment gateway (cashfree or simulated)")
	flags.Duration(flagGatewayTimeout, 0, "payment gateway call timeout")
	flags.String(flagCashfreeBaseURL, "", "Cashfree API base url")
	flags.String(flagCashfreeClientID, "", "Cashfree client id")
	flags.String(flagCashfreeClientSecret, "", "Cashfree client secret")
	flags.String(flagCashfreeWebhookSecret, "", "Cashfree webhook signing secret")
	flags.String(flagCashfreeAPIVersion, "", "Cashfree API version header")
	flags.String(flagReturnURL, "", "browser return url after checkout")
	flags.String(flagNotifyURL, "", "public webhook url handed to the gateway")
	flags.Float64(flagMinutesPerExchange, 0, "minutes debited per message exchange")
	flags.String(flagOpenAIAPIKey, "", "chat completion API key (empty serves canned replies)")
	flags.String(flagOpenAIBaseURL, "", "chat completion API base url")
	flags.String(flagOpenAIModel, "", "chat completion model")
	flags.Duration(flagResponderTimeout, 0, "chat completion timeout")
	flags.Bool(flagReconcileEnabled, true, "periodically re-verify stale pending payments")
	flags.Duration(flagReconcileInterval, 0, "reconcile sweep interval")
	flags.Duration(flagReconcileOlderThan, 0, "minimum age of a pending payment before reconciling")
	flags.Int(flagReconcileBatchSize, 0, "maximum payments per reconcile sweep")

	cmd.AddCommand(newBalanceCommand())
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(flag.Name, flag)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg.Environment = v.GetString(flagEnvironment)
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreBackend = v.GetString(flagStoreBackend)
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.GatewayMode = v.GetString(flagGatewayMode)
	cfg.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.Cashfree = config.Cashfree{
		BaseURL:       strings.TrimSpace(v.GetString(flagCashfreeBaseURL)),
		ClientID:      v.GetString(flagCashfreeClientID),
		ClientSecret:  v.GetString(flagCashfreeClientSecret),
		WebhookSecret: v.GetString(flagCashfreeWebhookSecret),
		APIVersion:    strings.TrimSpace(v.GetString(flagCashfreeAPIVersion)),
	}
	cfg.ReturnURL = strings.TrimSpace(v.GetString(flagReturnURL))
	cfg.NotifyURL = strings.TrimSpace(v.GetString(flagNotifyURL))
	cfg.MinutesPerExchange = v.GetFloat64(flagMinutesPerExchange)
	cfg.Responder = config.Responder{
		APIKey:  v.GetString(flagOpenAIAPIKey),
		BaseURL: strings.TrimSpace(v.GetString(flagOpenAIBaseURL)),
		Model:   strings.TrimSpace(v.GetString(flagOpenAIModel)),
		Timeout: v.GetDuration(flagResponderTimeout),
	}
	cfg.Reconcile = config.Reconcile{
		Enabled:   v.GetBool(flagReconcileEnabled),
		Interval:  v.GetDuration(flagReconcileInterval),
		OlderThan: v.GetDuration(flagReconcileOlderThan),
		BatchSize: v.GetInt(flagReconcileBatchSize),
	}

	return cfg.Validate()
}
