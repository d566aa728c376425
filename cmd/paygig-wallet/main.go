/**
 * @description
 * This is the main entry point for the wallet service. It loads configuration, opens
 * the ledger, connects the optional Redis and RabbitMQ backends, wires the settlement
 * engine, the admin bot and the scheduled digest, and serves the HTTP API until it is
 * asked to stop.
 *
 * @dependencies
 * - internal/store: PostgreSQL (pgx) or in-memory ledger.
 * - github.com/redis/go-redis/v9: Rate limiting and the cross-instance live feed.
 * - github.com/prometheus/client_golang: Metrics registry served on /metrics.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config: Internal packages for the service.
 * - pkg/rabbitmq, pkg/telegram: Broker and Bot API clients.
 */

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/api"
	"github.com/Paygig/paygig-data-wallet/internal/app"
	"github.com/Paygig/paygig-data-wallet/internal/config"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/Paygig/paygig-data-wallet/pkg/logging"
	"github.com/Paygig/paygig-data-wallet/pkg/rabbitmq"
	"github.com/Paygig/paygig-data-wallet/pkg/telegram"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger := logging.NewLoggerWithService("paygig-wallet", cfg.LogLevel)
	logger.WithField("port", cfg.ServerPort).Info("starting wallet service")

	ledger, closeLedger := openLedger(cfg)
	defer closeLedger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	// Redis backs rate limiting and lets every instance see every live-feed event.
	// Without it the service runs as a single instance with in-process equivalents.
	var limiter app.RateLimiter
	var feed app.Feed
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		feed = app.NewRedisFeed(redisClient, cfg.RedisFeedChannelPrefix, logger)
	} else {
		localLimiter := app.NewLocalRateLimiter()
		defer localLimiter.Stop()
		limiter = localLimiter
		feed = app.NewLocalFeed()
	}

	var bot *telegram.Client
	var chatNotifier app.Notifier
	if strings.TrimSpace(cfg.TelegramBotToken) == "" || cfg.TelegramChatID == 0 {
		log.Printf("level=warn component=bootstrap msg=\"telegram not configured; admin channel disabled\" token_set=%t chat_id_set=%t",
			strings.TrimSpace(cfg.TelegramBotToken) != "",
			cfg.TelegramChatID != 0,
		)
	} else {
		bot = telegram.NewClient(cfg.TelegramAPIBaseURL, cfg.TelegramBotToken)
		chatNotifier = app.NewChatNotifier(bot, cfg.TelegramChatID)
	}

	// With a broker, notifications are published and a relay posts them to the chat.
	// Otherwise the dispatcher talks to the chat directly.
	notifier := chatNotifier
	var consumer *rabbitmq.Consumer
	if strings.TrimSpace(cfg.RabbitMQURL) != "" && chatNotifier != nil {
		producer, producerErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if producerErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; notifying chat directly\" err=%v", producerErr)
		} else {
			defer producer.Close()
			consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
			if err != nil {
				log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; notifying chat directly\" err=%v", err)
				consumer = nil
			} else {
				relay := app.NewNotificationRelay(chatNotifier, metrics, logger)
				bindings := map[string]rabbitmq.Handler{app.NotifyRoutingPrefix + "#": relay.HandleMessage}
				if err := consumer.ConsumeWithBindings(cfg.NotifyExchange, cfg.NotifyQueue, bindings); err != nil {
					log.Printf("level=warn component=bootstrap msg=\"rabbitmq consume failed; notifying chat directly\" err=%v", err)
					consumer.Close()
					consumer = nil
				} else {
					notifier = app.NewBrokerNotifier(producer, cfg.NotifyExchange)
					log.Println("level=info component=bootstrap msg=\"rabbitmq connected\"")
				}
			}
		}
	}

	dispatcher := app.NewDispatcher(notifier, logger, metrics)
	settlement := app.NewSettlementService(ledger, voucher.NewRandomGenerator(), dispatcher, feed, metrics, logger, cfg.SignupBonus)
	reports := app.NewReportService(ledger)
	activity := app.NewActivityService(ledger, settlement, dispatcher, logger)

	var telegramHandlers *api.TelegramHandlers
	if bot != nil {
		interpreter := app.NewAdminInterpreter(settlement, reports, bot, cfg.TelegramChatID, metrics, logger)
		telegramHandlers = api.NewTelegramHandlers(interpreter, cfg.TelegramWebhookSecret, logger)
	}

	jobs := app.NewJobs(reports, dispatcher, logger, time.Duration(cfg.PendingDigestMinAgeMinutes)*time.Minute)
	scheduler := app.NewScheduler(jobs, logger, cfg.PendingDigestSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	if strings.TrimSpace(cfg.JWKSURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwks url must be configured\" env=JWKS_URL")
	}

	router := api.NewRouter(api.RouterConfig{
		Wallet:         api.NewWalletHandlers(settlement, activity, limiter, cfg.DepositRateLimitPerMinute, logger),
		Telegram:       telegramHandlers,
		Keys:           api.NewJWKSKeySource(cfg.JWKSURL),
		AllowedOrigins: cfg.AllowedOrigins(),
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=bootstrap msg=\"http server listening\" addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=bootstrap msg=\"http server failed\" err=%v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=bootstrap msg=\"shutting down wallet service\"")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"http server shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()
	if telegramHandlers != nil {
		telegramHandlers.Wait()
	}
	dispatcher.Wait()
	if consumer != nil {
		consumer.Close()
	}
	log.Println("level=info component=bootstrap msg=\"wallet service stopped\"")
}

// openLedger returns the configured ledger and a function that releases it.
func openLedger(cfg config.Config) (store.Ledger, func()) {
	if cfg.LedgerBackend == config.LedgerMemory {
		log.Println("level=warn component=bootstrap msg=\"using in-memory ledger; data is lost on restart\"")
		return store.NewMemoryLedger(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ledger, pool, err := store.OpenPostgresLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database setup failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return ledger, pool.Close
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process rate limiter and live feed\" env=REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process rate limiter and live feed\" err=%v", err)
		return nil
	}
	client := redis.NewClient(options)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process rate limiter and live feed\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
