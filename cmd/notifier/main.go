package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackoliverdev/centrus/broker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = ""
)

const notifierQueue = "billing_notifications"

// The notifier consumes billing lifecycle events published by the API and
// records them as the operator audit trail. Consumer side effects live here
// so a notification outage never slows down a webhook handler.
func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := amqpBroker.ReceiveBillingEvents(ctx, notifierQueue,
		broker.EventSubscriptionActivated,
		broker.EventSubscriptionPaused,
		broker.EventSubscriptionResumed,
		broker.EventSubscriptionCancelled,
		broker.EventPlanChanged,
		broker.EventAddonGranted,
	)
	if err != nil {
		logger.Fatal("Cannot subscribe to billing events",
			zap.Error(err),
		)
	}

	go func() {
		for e := range events {
			logger.Info("Billing event received",
				zap.String("EventType", string(e.Type)),
				zap.String("OrganizationID", e.OrganizationID),
				zap.String("SubscriptionID", e.SubscriptionID),
				zap.String("PlanSlug", e.PlanSlug),
				zap.Time("At", e.At),
			)
		}
	}()

	logger.Info("Notifier listening for billing events",
		zap.String("Queue", notifierQueue),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
	cancel()
}
