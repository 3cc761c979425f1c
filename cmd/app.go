package cmd

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/events"
	"github.com/vibast-solutions/ms-go-esim/app/lease"
	"github.com/vibast-solutions/ms-go-esim/app/mailer"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
	"github.com/vibast-solutions/ms-go-esim/app/migration"
	"github.com/vibast-solutions/ms-go-esim/app/payment"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"github.com/vibast-solutions/ms-go-esim/app/settings"
	"github.com/vibast-solutions/ms-go-esim/app/vendor"
	"github.com/vibast-solutions/ms-go-esim/config"
)

// application holds every long-lived component shared by serve and the job commands.
type application struct {
	cfg      *config.Config
	db       *sql.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	settingsRepo  *repository.SettingsRepository
	settingsStore *settings.Store
	provisioning  *service.ProvisioningService
	gate          *service.NotificationGate
	notifications *service.NotificationService
	topUps        *service.TopUpService
	webhooks      *service.WebhookService

	publisher events.Publisher
	redis     *redis.Client
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func mustCreateApplication() (*application, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	if cfg.MySQL.AutoMigrate {
		if err := migration.Run(db); err != nil {
			_ = db.Close()
			logrus.WithError(err).Fatal("Failed to apply migrations")
		}
	}

	app := &application{
		cfg:      cfg,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leaser := app.mustCreateLeaser(ctx)
	app.publisher = app.mustCreatePublisher()

	app.settingsRepo = repository.NewSettingsRepository(db)
	app.settingsStore = settings.NewStore(app.settingsRepo)
	if _, err := app.settingsStore.Refresh(ctx); err != nil {
		logrus.WithError(err).Warn("Initial settings load failed, using defaults")
	}

	orderRepo := repository.NewOrderRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	vendorClient := vendor.NewSwitch(
		vendor.NewHTTPClient(vendor.HTTPConfig{
			BaseURL:           cfg.Vendor.BaseURL,
			AccessCode:        cfg.Vendor.AccessCode,
			SecretKey:         cfg.Vendor.SecretKey,
			HTTPTimeout:       cfg.Vendor.HTTPTimeout,
			RequestsPerSecond: cfg.Vendor.RequestsPerSecond,
		}),
		vendor.NewMockClient(),
		app.settingsStore.MockMode,
	)

	app.gate = service.NewNotificationGate(
		orderRepo,
		profileRepo,
		eventRepo,
		newMailSender(cfg.Email),
		app.settingsStore,
		leaser,
		cfg.Provisioning.LeaseTTL,
		cfg.Email.ReadyTemplateID,
		app.metrics,
	)

	app.provisioning = service.NewProvisioningService(
		service.Repositories{
			Orders:        orderRepo,
			Profiles:      profileRepo,
			Usage:         repository.NewUsageRepository(db),
			Events:        eventRepo,
			Notifications: notificationRepo,
		},
		vendorClient,
		leaser,
		app.gate,
		cfg.Provisioning,
		cfg.Notifications,
		cfg.Vendor.PriceMultiplier,
		app.metrics,
	)

	app.notifications = service.NewNotificationService(
		notificationRepo,
		orderRepo,
		profileRepo,
		app.gate,
		app.publisher,
		cfg.Notifications,
		app.metrics,
	)

	app.topUps = service.NewTopUpService(
		repository.NewTopUpRepository(db),
		orderRepo,
		profileRepo,
		eventRepo,
		vendorClient,
		cfg.Provisioning.TransactionIDPrefix,
		app.metrics,
	)

	app.webhooks = service.NewWebhookService(
		payment.NewStripeVerifier(payment.StripeConfig{
			WebhookSecret:             cfg.Stripe.WebhookSecret,
			SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
		}),
		app.provisioning,
		repository.NewPaymentWebhookRepository(db),
	)

	return app, app.close
}

func (a *application) mustCreateLeaser(ctx context.Context) lease.Leaser {
	if a.cfg.Redis.Addr == "" {
		logrus.Info("REDIS_ADDR not set, using in-process order leases")
		return lease.NewLocalLeaser()
	}

	client, err := lease.Connect(ctx, a.cfg.Redis.Addr)
	if err != nil {
		_ = a.db.Close()
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	a.redis = client
	return lease.NewRedisLeaser(client)
}

func (a *application) mustCreatePublisher() events.Publisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return events.NoopPublisher{}
	}

	publisher, err := events.NewKafkaPublisher(
		a.cfg.Kafka.Brokers,
		map[string]string{events.EventOrderProvisioned: a.cfg.Kafka.ProvisionedTopic},
		a.cfg.Kafka.PublishTimeout,
	)
	if err != nil {
		_ = a.db.Close()
		logrus.WithError(err).Fatal("Failed to create kafka publisher")
	}
	return publisher
}

func newMailSender(cfg config.EmailConfig) mailer.Sender {
	if cfg.BaseURL == "" {
		logrus.Warn("EMAIL_BASE_URL not set, ready emails are dropped")
		return mailer.NewNoOpSender()
	}
	return mailer.NewHTTPSender(mailer.HTTPConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		From:        cfg.From,
		HTTPTimeout: cfg.HTTPTimeout,
	})
}

func (a *application) close() {
	a.provisioning.Wait()

	if err := a.publisher.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close event publisher")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database")
	}
}
