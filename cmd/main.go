package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/pricing"
	"courier-dispatch/internal/repository"
)

// StoreConfig is what every command touching the table needs.
type StoreConfig struct {
	StateTable string `env:"STATE_TABLE,required"`
}

type serveConfig struct {
	StoreConfig

	ListenAddr  string     `env:"LISTEN_ADDR" envDefault:":8080"`
	ParamPrefix string     `env:"PARAM_PREFIX,required"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	PhoneNumberID    string  `env:"WHATSAPP_PHONE_NUMBER_ID,required"`
	BusinessPhone    string  `env:"WHATSAPP_BUSINESS_PHONE"`
	AccessTokenParam string  `env:"WHATSAPP_ACCESS_TOKEN_PARAM" envDefault:"whatsapp/access-token"`
	VerifyTokenParam string  `env:"WHATSAPP_VERIFY_TOKEN_PARAM" envDefault:"whatsapp/verify-token"`
	AppSecretParam   string  `env:"WHATSAPP_APP_SECRET_PARAM"`
	SendRate         float64 `env:"WHATSAPP_SEND_RATE" envDefault:"20"`

	SlackTokenParam   string `env:"SLACK_TOKEN_PARAM" envDefault:"slack/bot-token"`
	SlackOpsChannel   string `env:"SLACK_OPS_CHANNEL"`
	SlackBoardChannel string `env:"SLACK_BOARD_CHANNEL"`

	Operators       []string      `env:"OPERATOR_PHONES" envSeparator:","`
	PriceTable      string        `env:"PRICE_TABLE"`
	DigestSchedule  string        `env:"DIGEST_SCHEDULE"`
	Closed          bool          `env:"BOT_CLOSED"`
	IdleTimeout     time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"60m"`
	AdvertisePeriod time.Duration `env:"ADVERTISE_PERIOD" envDefault:"2m"`
	RotationPeriod  time.Duration `env:"ROTATION_PERIOD" envDefault:"1m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "courier-dispatch",
		Short:         "Chat-driven delivery marketplace",
		Long:          "courier-dispatch books deliveries over WhatsApp and matches them with couriers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newJobCmd(),
	)
	return cmd
}

// loadPrices reads the table at path, or the embedded one when path is empty.
func loadPrices(path string) (*pricing.Table, error) {
	if path == "" {
		return pricing.Default()
	}
	return pricing.Load(path)
}

func newStore(ctx context.Context, cfg StoreConfig) (*repository.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
}

func newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a live job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.ParseAs[StoreConfig]()
			if err != nil {
				return fmt.Errorf("job: %w", err)
			}
			store, err := newStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("job: %w", err)
			}
			job, found, err := store.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job: %w", err)
			}
			if !found {
				return fmt.Errorf("job: %s not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, dispatch.Summary(job))
			fmt.Fprintf(out, "Status: %s\nRequester: +%s pays %d\n", job.Status, job.Requester.Phone, job.PriceForRequester)
			if job.FulfillerPhone != "" {
				fmt.Fprintf(out, "Fulfiller: +%s\n", job.FulfillerPhone)
			}
			return nil
		},
	}
}
