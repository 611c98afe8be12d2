package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackoliverdev/centrus/accounting"
	"github.com/jackoliverdev/centrus/addon"
	"github.com/jackoliverdev/centrus/auth"
	"github.com/jackoliverdev/centrus/billing"
	"github.com/jackoliverdev/centrus/broker"
	"github.com/jackoliverdev/centrus/db"
	"github.com/jackoliverdev/centrus/external"
	"github.com/jackoliverdev/centrus/organization"
	"github.com/jackoliverdev/centrus/plan"
	"github.com/jackoliverdev/centrus/subscription"
	"github.com/jackoliverdev/centrus/usage"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var paymentMode plan.Mode
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		paymentMode = plan.ModeLive
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		paymentMode = plan.ModeDev
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	dbConn, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	planManager, err := plan.NewManager(plan.ManagerOptions{
		DB:             dbConn,
		Logger:         logger,
		PathToPlanJSON: os.Getenv("PLANS_JSON"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize PlanManager",
			zap.Error(err),
		)
	}

	organizationManager, err := organization.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize OrganizationManager",
			zap.Error(err),
		)
	}

	addonManager, err := addon.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize AddonManager",
			zap.Error(err),
		)
	}

	usageManager, err := usage.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize UsageManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		StripeClient: stripeClient,
		DB:           dbConn,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	accountingManager, err := accounting.NewManager(accounting.ManagerOptions{
		Catalog:       planManager,
		Subscriptions: subscriptionManager,
		Ledger:        addonManager,
		Organizations: organizationManager,
		Usage:         usageManager,
		Events:        amqpBroker,
		Logger:        logger,
		Mode:          paymentMode,
	})
	if err != nil {
		logger.Fatal("Cannot initialize AccountingManager",
			zap.Error(err),
		)
	}

	accountingService, err := accounting.NewService(accounting.ServiceOptions{
		AccountingManager: accountingManager,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Plan Accounting Service Router",
			zap.Error(err),
		)
	}

	billingService, err := billing.NewService(billing.ServiceOptions{
		StripeClient:       stripeClient,
		AccountingManager:  accountingManager,
		Catalog:            planManager,
		Subscriptions:      subscriptionManager,
		Ledger:             addonManager,
		Redis:              rdb,
		Logger:             logger,
		Mode:               paymentMode,
		WebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL: os.Getenv("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:  os.Getenv("CHECKOUT_CANCEL_URL"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// webhook is authenticated by its signature, not by a Bearer token
	router.Post("/stripe/webhook", billingService.WebhookHandler())

	router.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Use(authManager.ClaimCheck())
		r.Mount("/plan", accountingService.Router())
		r.Mount("/stripe", billingService.Router())
	})

	srv := &http.Server{
		Handler: router,
		Addr:    os.Getenv("API_ADDR"),
	}

	go func() {
		logger.Info("API listening",
			zap.String("Addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed",
			zap.Error(err),
		)
	}
}
