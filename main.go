package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/go-playground/validator/v10"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ratepulse/ratepulse/config"
	"github.com/ratepulse/ratepulse/internal/reconciler"
	"github.com/ratepulse/ratepulse/internal/repositories/competitor"
	"github.com/ratepulse/ratepulse/internal/repositories/property"
	"github.com/ratepulse/ratepulse/internal/repositories/rate"
	"github.com/ratepulse/ratepulse/internal/repositories/upload"
	"github.com/ratepulse/ratepulse/internal/scrape"
	"github.com/ratepulse/ratepulse/pkg/blob"
	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/httpclient"
	"github.com/ratepulse/ratepulse/pkg/kafka"
	"github.com/ratepulse/ratepulse/pkg/middleware"
	"github.com/ratepulse/ratepulse/pkg/routes/health"
	ratesroutes "github.com/ratepulse/ratepulse/pkg/routes/rates"
	scraperoutes "github.com/ratepulse/ratepulse/pkg/routes/scrape"
	uploadsroutes "github.com/ratepulse/ratepulse/pkg/routes/uploads"
	webhookroutes "github.com/ratepulse/ratepulse/pkg/routes/webhook"
	"github.com/ratepulse/ratepulse/pkg/startup"
	"github.com/ratepulse/ratepulse/pkg/tracing"
	"github.com/ratepulse/ratepulse/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, cfg.AppName, exporters.OTLPConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: cfg.TracingInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing")
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build application")
		os.Exit(1)
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(app.databaseDep)
	if app.kafkaDep != nil {
		boot.AddDependency(app.kafkaDep)
	}
	boot.AddDependency(app.serverDep)

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	app.health.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	app.health.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// app holds the wired components and their startup dependencies.
type app struct {
	health      *health.Checker
	databaseDep startup.Dependency
	kafkaDep    startup.Dependency
	serverDep   startup.Dependency
}

func buildApp(cfg config.Config, logger ectologger.Logger) (*app, error) {
	blobs, err := blob.NewFSStore(cfg.BlobStorePath, logger)
	if err != nil {
		return nil, err
	}

	var db database.DB
	var producer *kafka.Producer

	databaseDep := &dependency{
		name: "database",
		start: func(ctx context.Context) error {
			conn, err := database.Connect(ctx, database.ConnectConfig{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				UserName:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			db = conn

			driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
			if err != nil {
				return err
			}
			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.Migrate(cfg.DatabaseName, driver)
		},
		stop: func(_ context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	}

	var kafkaDep startup.Dependency
	if cfg.KafkaEnabled {
		kafkaDep = &dependency{
			name: "kafka-producer",
			start: func(_ context.Context) error {
				producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, logger)
				return nil
			},
			stop: func(_ context.Context) error {
				if producer == nil {
					return nil
				}
				return producer.Close()
			},
		}
	}

	healthChecker := health.NewChecker(pingerFunc(func() error {
		if db == nil {
			return fmt.Errorf("database not connected")
		}
		return db.Ping()
	}), cfg.Version)

	var server *echo.Echo
	serverDependsOn := []string{"database"}
	if cfg.KafkaEnabled {
		serverDependsOn = append(serverDependsOn, "kafka-producer")
	}

	serverDep := &dependency{
		name:      "http-server",
		dependsOn: serverDependsOn,
		start: func(ctx context.Context) error {
			rateRepo := rate.NewRepository(db, logger)
			uploadRepo := upload.NewRepository(db, logger)
			propertyRepo := property.NewRepository(db, logger)
			competitorRepo := competitor.NewRepository(db, logger)

			var events reconciler.EventPublisher
			var webhookEvents webhookroutes.EventPublisher
			if producer != nil {
				events = producer
				webhookEvents = producer
			}

			rec := reconciler.New(db, rateRepo, uploadRepo, blobs, events, logger)

			httpClient := httpclient.NewClient(httpclient.Config{
				Timeout:         time.Duration(cfg.ScrapeWorkerTimeoutSeconds) * time.Second,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			}, logger)
			worker := scrape.NewWorkerClient(httpClient, cfg.ScrapeWorkerURL, logger)
			tracker := scrape.NewTracker(worker, scrape.Config{
				PollInterval: time.Duration(cfg.ScrapePollIntervalSeconds) * time.Second,
				MaxRounds:    cfg.ScrapePollMaxRounds,
			}, logger)

			server = echo.New()
			server.HideBanner = true
			server.HidePort = true
			server.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
			server.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
			server.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
			server.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
			server.Validator = &requestValidator{validator: validator.New()}
			server.HTTPErrorHandler = middleware.Error(logger)

			server.Use(echomw.Recover())
			server.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowOrigins: cfg.AllowOrigins,
				AllowMethods: cfg.AllowMethods,
			}))
			server.Use(otelecho.Middleware(cfg.AppName))
			server.Use(middleware.Context())
			server.Use(middleware.Logger(logger))

			server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			healthChecker.RegisterRoutes(server)

			api := server.Group("/api/v1")
			ratesroutes.NewHandler(rec, rateRepo, propertyRepo, competitorRepo, logger).Register(api)
			uploadsroutes.NewHandler(uploadRepo, rec, logger).Register(api)
			scraperoutes.NewHandler(worker, tracker, propertyRepo, competitorRepo, logger).Register(api)

			webhookGroup := server.Group("/api/v1/webhook", middleware.WebhookSecret(cfg.WebhookSecret))
			webhookroutes.NewHandler(rateRepo, webhookEvents, logger).Register(webhookGroup)

			go func() {
				if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error {
			if server == nil {
				return nil
			}
			return server.Shutdown(ctx)
		},
	}

	return &app{
		health:      healthChecker,
		databaseDep: databaseDep,
		kafkaDep:    kafkaDep,
		serverDep:   serverDep,
	}, nil
}

// dependency adapts start/stop funcs to the startup.Dependency interface.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string                 { return d.name }
func (d *dependency) DependsOn() []string             { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error  { return d.stop(ctx) }

type pingerFunc func() error

func (f pingerFunc) Ping() error { return f() }

// requestValidator plugs go-playground/validator into echo's c.Validate.
type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validator.Struct(i)
}
