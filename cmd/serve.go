package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/caarlos0/env/v11"
	slackapi "github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"courier-dispatch/handler"
	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/digest"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/integrations/paramstore"
	"courier-dispatch/internal/integrations/slack"
	"courier-dispatch/internal/integrations/whatsapp"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/repository"
	"courier-dispatch/internal/scheduler"
	"courier-dispatch/internal/trees"
	"courier-dispatch/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the dispatch loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// ---- Configuration (read only here) ----
			cfg, err := env.ParseAs[serveConfig]()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg serveConfig) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	prices, err := loadPrices(cfg.PriceTable)
	if err != nil {
		return err
	}

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		return err
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return err
	}
	wa, err := whatsapp.NewClient(
		paramstore.NewSecret(params, cfg.AccessTokenParam),
		cfg.PhoneNumberID,
		whatsapp.WithRateLimit(cfg.SendRate, int(cfg.SendRate)+1),
		whatsapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	notifiers := []notify.Notifier{}
	admins, err := notify.NewAdmins(wa, cfg.Operators, logger)
	if err != nil {
		return err
	}
	notifiers = append(notifiers, admins)

	pool, err := dispatch.NewPoolAdvertiser(store, wa, logger)
	if err != nil {
		return err
	}
	advertisers := []dispatch.Advertiser{pool}

	if cfg.SlackOpsChannel != "" || cfg.SlackBoardChannel != "" {
		token, err := paramstore.Token(ctx, params, cfg.SlackTokenParam)
		if err != nil {
			return fmt.Errorf("slack token: %w", err)
		}
		board, err := slack.New(slackapi.New(token), slack.Config{
			OpsChannel:   cfg.SlackOpsChannel,
			BoardChannel: cfg.SlackBoardChannel,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, board)
		advertisers = append(advertisers, board)
	}
	notifier := notify.Fanout(notifiers...)

	// ---- Engine ----
	loop := scheduler.NewLoop(logger)
	bus := channel.NewBus()
	keywords := usecase.DefaultKeywords()

	// The registry is built before the router it defers reserved keywords to.
	var router *usecase.Router
	sessions, err := dialog.NewRegistry(dialog.Config{
		Sender:      wa,
		Bus:         bus,
		Scheduler:   loop,
		Notifier:    notifier,
		Logger:      logger,
		IdleTimeout: cfg.IdleTimeout,
		Reserved: func(ev channel.Event) bool {
			return router != nil && router.Reserved(ev)
		},
	})
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Store:           store,
		Pricer:          prices,
		Advertiser:      dispatch.Advertisers(advertisers...),
		Sender:          wa,
		Sessions:        sessions,
		Scheduler:       loop,
		Notifier:        notifier,
		Negotiation:     trees.Negotiation,
		Logger:          logger,
		AdvertisePeriod: cfg.AdvertisePeriod,
		RotationPeriod:  cfg.RotationPeriod,
		InterestLink: func(jobID string) string {
			return keywords.InterestLink(cfg.BusinessPhone, jobID)
		},
	})
	if err != nil {
		return err
	}

	flows := usecase.Flows{
		Booking:       trees.Booking(trees.BookingDeps{Pricer: prices, CancelKeyword: keywords.CancelJob}),
		FulfillerJobs: trees.FulfillerJobs(dispatcher),
		Operator:      trees.Operator(trees.OperatorDeps{Jobs: dispatcher, Pool: store, Sender: wa}),
	}
	if err := trees.Validate(flows.Booking, flows.FulfillerJobs, flows.Operator, trees.Negotiation(nil)); err != nil {
		return err
	}

	router, err = usecase.NewRouter(usecase.Config{
		Sessions:  sessions,
		Jobs:      dispatcher,
		Directory: store,
		Sender:    wa,
		Notifier:  notifier,
		Flows:     flows,
		Keywords:  keywords,
		Operators: cfg.Operators,
		Closed:    cfg.Closed,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	bus.Subscribe(channel.EventMessageReceived, router.Listen, channel.SubscribeOptions{})

	var dg *digest.Digest
	if cfg.DigestSchedule != "" {
		dg, err = digest.New(digest.Config{
			Schedule:  cfg.DigestSchedule,
			Scheduler: loop,
			Jobs:      dispatcher,
			Notifier:  notifier,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
	}

	// ---- Handler ----
	webhookCfg := handler.Config{
		Scheduler:   loop,
		Bus:         bus,
		VerifyToken: paramstore.NewSecret(params, cfg.VerifyTokenParam),
		Logger:      logger,
	}
	if cfg.AppSecretParam != "" {
		webhookCfg.AppSecret = paramstore.NewSecret(params, cfg.AppSecretParam)
	}
	h, err := handler.NewHandler(webhookCfg)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if dg != nil {
		g.Go(func() error { return dg.Run(gctx) })
	}
	return g.Wait()
}
