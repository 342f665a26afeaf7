package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ticker-alarm-bot/config"
	"ticker-alarm-bot/internal/alarm"
	"ticker-alarm-bot/internal/commands"
	"ticker-alarm-bot/internal/database"
	"ticker-alarm-bot/internal/metrics"
	"ticker-alarm-bot/internal/price"
	"ticker-alarm-bot/internal/telegram"
	"ticker-alarm-bot/lib/translation"
)

const metricsSaveInterval = 5 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:          "ticker-alarm-bot",
		Short:        "Telegram bot that watches ticker prices and fires alarms",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.InitConfig()
			if err := config.SetConfigFile(configFile); err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				config.Set("debug", debug)
			}
			setupLogging()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func setupLogging() {
	if config.GetString("log_format") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetLevel(log.ErrorLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting telegram bot...")
}

func run(ctx context.Context) error {
	lang := translation.Configure("locales", config.GetString("lang"))
	log.Infof("Using language: %s", lang)

	store, err := database.Open(ctx, config.GetString("db_driver"), config.GetString("db_dsn"))
	if err != nil {
		return errors.Wrap(err, "failed to initialize database")
	}
	defer store.Close()

	botMetrics := metrics.New(prometheus.DefaultRegisterer)
	if err := botMetrics.Load(ctx, store); err != nil {
		log.Errorf("Failed to load metrics: %v", err)
	}

	source, err := price.New(price.Config{
		Name:      config.GetString("price_source"),
		APIKey:    config.GetString("api_pro_key"),
		Timeout:   config.GetDuration("fetch_timeout"),
		CacheSize: config.GetInt("price_cache_size"),
		CacheTTL:  config.GetDuration("price_cache_ttl"),
	})
	if err != nil {
		return err
	}

	scope, err := alarm.ParseScope(config.GetString("unset_all_scope"))
	if err != nil {
		return err
	}

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          config.GetString("telegram_bot_token"),
		Debug:          config.GetBool("debug"),
		UpdatesTimeout: config.GetInt("updates_timeout"),
		RepoLink:       config.GetString("github_repo_link"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create bot")
	}

	scheduler := alarm.NewScheduler(source, store, bot, alarm.Options{
		Interval:      config.GetDuration("alarm_interval"),
		FirstDelay:    config.GetDuration("alarm_first_delay"),
		FetchTimeout:  config.GetDuration("fetch_timeout"),
		NotifyTimeout: config.GetDuration("notify_timeout"),
		StoreTimeout:  config.GetDuration("store_timeout"),
		Workers:       config.GetInt("tick_workers"),
		UnsetAllScope: scope,
		Metrics:       botMetrics,
	})

	priceCommands := commands.NewPriceCommands(source, store, config.GetInt("tick_workers"), config.GetDuration("fetch_timeout"))
	bot.Attach(scheduler, priceCommands, botMetrics)

	if config.GetBool("restore_on_start") {
		restored, err := scheduler.Restore(ctx)
		if err != nil {
			log.Errorf("Failed to restore alarms: %v", err)
		} else {
			log.Infof("Restored %d alarms", restored)
		}
	}

	server := newMetricsAndHealthServer(config.GetInt("metrics_port"))
	go func() {
		log.Infof("Launching metrics and health endpoint on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics and health server failed: %v", err)
		}
	}()

	go bot.HandleUpdates(ctx, bot.GetUpdatesChannel())

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := botMetrics.Save(ctx, store); err != nil {
					log.Errorf("Failed to save metrics: %v", err)
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	bot.StopReceivingUpdates()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := botMetrics.Save(shutdownCtx, store); err != nil {
		log.Errorf("Failed to save metrics: %v", err)
	} else {
		log.Info("Metrics saved, shutting down...")
	}

	return server.Shutdown(shutdownCtx)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func newMetricsAndHealthServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheckHandler)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
