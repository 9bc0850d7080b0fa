package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/citygrid/weather-aggregator/internal/aggregate"
	"github.com/citygrid/weather-aggregator/internal/alert"
	httpapi "github.com/citygrid/weather-aggregator/internal/api/http"
	"github.com/citygrid/weather-aggregator/internal/config"
	"github.com/citygrid/weather-aggregator/internal/forecast"
	"github.com/citygrid/weather-aggregator/internal/ingest"
	"github.com/citygrid/weather-aggregator/internal/metrics"
	"github.com/citygrid/weather-aggregator/internal/poller"
	"github.com/citygrid/weather-aggregator/internal/scheduler"
	"github.com/citygrid/weather-aggregator/internal/store"
	"github.com/citygrid/weather-aggregator/internal/store/postgres"
	"github.com/citygrid/weather-aggregator/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	metrics.Init()

	// Stores: Postgres when a database is configured, in-memory otherwise.
	var (
		db           *sql.DB
		observations weather.ObservationStore
		aggregates   weather.AggregateStore
		alerts       weather.AlertStore
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatalf("failed to ensure schema: %v", err)
		}
		cancel()

		observations = postgres.NewObservationStore(db)
		aggregates = postgres.NewAggregateStore(db)
		alerts = postgres.NewAlertStore(db)
	} else {
		log.Println("no DATABASE_URL configured; using in-memory stores")
		observations = store.NewMemoryObservationStore()
		aggregates = store.NewMemoryAggregateStore()
		alerts = store.NewMemoryAlertStore()
	}

	ingestor, err := ingest.NewIngestor(observations, cfg.IngestMaxSkew, log.Default())
	if err != nil {
		log.Fatalf("failed to build ingestor: %v", err)
	}

	// Inbound MQTT transport and outbound alert sink share the broker.
	var source *ingest.MQTTSource
	var sink alert.Publisher = alert.NewLogPublisher(log.Default())
	if cfg.MQTTBrokerURL != "" {
		source, err = ingest.NewMQTTSource(cfg.MQTTBrokerURL, cfg.MQTTUsername, cfg.MQTTPassword, ingestor, log.Default())
		if err != nil {
			log.Fatalf("failed to build mqtt source: %v", err)
		}
		if err := source.Start(); err != nil {
			log.Printf("mqtt source connect pending: %v", err)
		}
		defer source.Stop()

		publisher, err := alert.NewMQTTPublisher(cfg.MQTTBrokerURL, cfg.MQTTUsername, cfg.MQTTPassword)
		if err != nil {
			log.Fatalf("failed to build mqtt publisher: %v", err)
		}
		if err := publisher.Start(); err != nil {
			log.Printf("mqtt publisher connect pending: %v", err)
		}
		defer publisher.Stop()
		sink = alert.NewMultiPublisher(publisher, alert.NewLogPublisher(log.Default()))
	}

	aggregator, err := aggregate.New(observations, aggregates, cfg.BucketWidths, cfg.TrailingBuckets, log.Default())
	if err != nil {
		log.Fatalf("failed to build aggregator: %v", err)
	}

	engine, err := alert.NewEngine(aggregates, alerts, sink, alert.DefaultRules(), cfg.AlertCooldown, log.Default())
	if err != nil {
		log.Fatalf("failed to build alert engine: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.ForecastTimeout}

	var provider forecast.Provider
	if cfg.ForecastAPIKey != "" {
		provider = forecast.NewOpenWeatherProvider(httpClient, cfg.ForecastAPIKey, cfg.ForecastBaseURL)
	}
	cache := forecast.NewCache(provider, cfg.ForecastTTL, log.Default(),
		forecast.WithFetchTimeout(cfg.ForecastTimeout))

	var pol *poller.OpenWeatherPoller
	if cfg.ForecastAPIKey != "" && len(cfg.PollCities) > 0 {
		pol, err = poller.NewOpenWeatherPoller(httpClient, cfg.ForecastAPIKey, cfg.ForecastBaseURL, cfg.PollCities, ingestor, log.Default())
		if err != nil {
			log.Fatalf("failed to build poller: %v", err)
		}
	}

	sched := scheduler.New(aggregator, engine, pol, cfg.AggregateInterval, cfg.PollInterval, log.Default())
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-aggregator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-aggregator",
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		dbOK := true
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
			defer cancel()
			dbOK = db.PingContext(ctx) == nil
		}
		mqttOK := source == nil || source.Connected()
		if !dbOK || !mqttOK {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"db": dbOK, "mqtt": mqttOK})
		}
		return c.JSON(fiber.Map{"status": "ready", "db": dbOK, "mqtt": mqttOK})
	})

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := &httpapi.API{
		Observations: observations,
		Aggregates:   aggregates,
		Alerts:       alerts,
		Forecasts:    cache,
		MaxRange:     cfg.MaxQueryRange,
	}
	api.RegisterRoutes(app)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
