package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"raffle-oracle/internal/config"
	"raffle-oracle/internal/db"
	"raffle-oracle/internal/handlers"
	"raffle-oracle/internal/middleware"
	"raffle-oracle/internal/oracle"
	"raffle-oracle/internal/services"
)

const fulfillPollInterval = time.Second

func main() {
	// 0. Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	logOut, err := openLog(cfg.LogFile)
	if err != nil {
		logger.Fatalf("Failed to open log file: %v", err)
	}
	// VERBOSE mirrors a log file to stdout; without a file stdout is the log.
	defer logger.Init("raffle-oracle", cfg.Verbose && cfg.LogFile != "", false, logOut).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Database
	store, err := db.Open(ctx, cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	logger.Infof("Database ready at %s", cfg.DatabaseURL)

	// 2. Oracle simulator and subscription
	simOpts := []oracle.SimulatorOption{oracle.WithStore(store)}
	if cfg.OracleSalt != "" {
		simOpts = append(simOpts, oracle.WithSalt([]byte(cfg.OracleSalt)))
	}
	sim, err := oracle.NewSimulator(ctx, oracle.SimulatorConfig{
		BaseFee:      cfg.OracleBaseFee,
		GasPriceLink: cfg.OracleGasPriceLink,
	}, simOpts...)
	if err != nil {
		logger.Fatalf("Failed to start oracle simulator: %v", err)
	}
	subID, err := ensureSubscription(ctx, sim, cfg)
	if err != nil {
		logger.Fatalf("Failed to prepare subscription: %v", err)
	}

	// 3. Notifications
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	notifiers := services.Notifiers{store, services.NewMetricsNotifier(registry)}

	if cfg.TelegramToken == "" {
		logger.Warning("TELEGRAM_TOKEN not set. Telegram notifications disabled.")
	} else if tg, err := services.NewTelegramNotifier(cfg.TelegramToken, cfg.AdminChatID); err != nil {
		logger.Warningf("Failed to init Telegram bot: %v", err)
	} else {
		notifiers = append(notifiers, tg)
		go tg.Run(ctx)
	}

	// 4. Raffle
	raffle, err := services.NewRaffle(ctx, services.RaffleConfig{
		Address:              cfg.RaffleAddress,
		EntranceFee:          cfg.EntranceFee,
		Interval:             cfg.Interval,
		KeyHash:              cfg.KeyHash,
		SubscriptionID:       subID,
		CallbackGasLimit:     cfg.CallbackGasLimit,
		RequestConfirmations: cfg.RequestConfirmations,
	}, sim, store,
		services.WithLotteryStore(store),
		services.WithNotifier(notifiers),
		services.WithDrawTimeout(cfg.DrawTimeout),
	)
	if err != nil {
		logger.Fatalf("Failed to start raffle: %v", err)
	}
	sim.RegisterConsumer(cfg.RaffleAddress, raffle)
	registry.MustRegister(services.NewRaffleCollector(raffle))

	// 5. Background workers
	if cfg.KeeperInterval > 0 {
		keeper := &services.Keeper{Raffle: raffle, Interval: cfg.KeeperInterval}
		go keeper.Run(ctx)
	}
	if cfg.AutoFulfill {
		fulfiller := &oracle.Fulfiller{Sim: sim, Delay: cfg.FulfillDelay, Interval: fulfillPollInterval}
		go fulfiller.Run(ctx)
	}

	// 6. HTTP
	api := &handlers.API{Raffle: raffle, Oracle: sim, Ledger: store, Events: store}
	auth := middleware.AdminAuth{
		Password: cfg.AdminPassword,
		BotToken: cfg.TelegramToken,
		AdminIDs: cfg.AdminTelegramIDs,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(api, auth.Handler, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP shutdown: %v", err)
		}
	}()

	logger.Infof("Server listening on http://localhost:%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

// stdout writes to os.Stdout without letting the logger close it.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func openLog(path string) (io.Writer, error) {
	if path == "" {
		return stdout{}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

const deployer = "deployer"

// ensureSubscription returns the subscription the raffle bills against. With
// no id configured it reuses the deployer subscription serving the raffle,
// creating and funding one only on first boot.
func ensureSubscription(ctx context.Context, sim *oracle.Simulator, cfg config.Config) (uint64, error) {
	if cfg.SubscriptionID != 0 {
		sub, err := sim.GetSubscription(ctx, cfg.SubscriptionID)
		if err != nil {
			return 0, err
		}
		if !sub.Consumers[cfg.RaffleAddress] {
			if err := sim.AddConsumer(ctx, sub.ID, cfg.RaffleAddress); err != nil {
				return 0, err
			}
		}
		return sub.ID, nil
	}

	for _, sub := range sim.Subscriptions() {
		if sub.Owner == deployer && sub.Consumers[cfg.RaffleAddress] {
			logger.Infof("Reusing subscription %d, balance %s", sub.ID, sub.Balance)
			return sub.ID, nil
		}
	}

	sub, err := sim.CreateSubscription(ctx, deployer)
	if err != nil {
		return 0, err
	}
	if err := sim.FundSubscription(ctx, sub.ID, cfg.OracleFundAmount); err != nil {
		return 0, err
	}
	if err := sim.AddConsumer(ctx, sub.ID, cfg.RaffleAddress); err != nil {
		return 0, err
	}
	logger.Infof("Created subscription %d; set RAFFLE_SUBSCRIPTION_ID=%d to reuse it", sub.ID, sub.ID)
	return sub.ID, nil
}
