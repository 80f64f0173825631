package main

import (
	"context"
	"strings"
	"time"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/clients"
	"smsgate/billing/internal/clients/carrier"
	"smsgate/billing/internal/clients/routing"
	"smsgate/billing/internal/dispatch"
	"smsgate/billing/internal/handlers"
	"smsgate/billing/internal/reconcile"
	"smsgate/billing/internal/smsparts"
	"smsgate/billing/pkg/config"
	"smsgate/billing/pkg/database"
	"smsgate/billing/pkg/kafka"
	"smsgate/billing/pkg/logging"
	"smsgate/billing/pkg/middleware"
	"smsgate/billing/pkg/monitoring"
	"smsgate/billing/pkg/server"
	"smsgate/billing/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("teller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Teller (SMS Billing API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	brokersEnv := config.RequireEnv("KAFKA_BROKERS")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	routingURL := config.RequireEnv("ROUTING_URL")
	carrierURL := config.RequireEnv("CARRIER_URL")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("APPLY_SCHEMA", false) {
		if err := database.ApplySchema(db, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("teller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("teller", version.Version, version.GitCommit)

	// Custom billing metrics
	chargeMetrics := &billing.Metrics{
		Charges: metricsCollector.NewCounter("charges_total", "Charge attempts", []string{"status"}),
		Credits: metricsCollector.NewCounter("credits_total", "Credit attempts", []string{"status"}),
	}
	reconcileMetrics := &reconcile.Metrics{
		DLREvents:  metricsCollector.NewCounter("dlr_events_total", "Delivery receipt events processed", []string{"status"}),
		SubmitAcks: metricsCollector.NewCounter("submit_acks_total", "Submission acknowledgements processed", []string{"status"}),
	}
	dispatchMetrics := &dispatch.Metrics{
		Batches:  metricsCollector.NewCounter("batch_dispatches_total", "Batch dispatch attempts", []string{"status"}),
		Messages: metricsCollector.NewCounter("batch_messages_total", "Batch message outcomes", []string{"status"}),
	}

	// Stores and charge engine
	ledgerStore := billing.NewLedgerStore(db, logger)
	cdrStore := billing.NewCDRStore(db, logger)
	engine := billing.NewChargeEngine(db, ledgerStore, cdrStore, logger, chargeMetrics)

	// Collaborator clients
	retryConfig := clients.DefaultRetryConfig()
	routingClient := routing.NewClient(routing.Config{
		BaseURL: routingURL,
		Timeout: time.Duration(config.GetEnvInt("ROUTING_TIMEOUT_SECONDS", 5)) * time.Second,
		Retry:   retryConfig,
		Logger:  logger,
	})
	carrierClient := carrier.NewClient(carrier.Config{
		BaseURL:  carrierURL,
		Username: config.GetEnv("CARRIER_USERNAME", ""),
		Password: config.GetEnv("CARRIER_PASSWORD", ""),
		Timeout:  time.Duration(config.GetEnvInt("CARRIER_TIMEOUT_SECONDS", 10)) * time.Second,
		Retry:    retryConfig,
		Logger:   logger,
	})

	// Dispatch controller
	dispatcher := dispatch.NewController(routingClient, carrierClient, engine, smsparts.Calculate, dispatch.Config{
		Concurrency: config.GetEnvInt("BATCH_CONCURRENCY", dispatch.DefaultConcurrency),
		DLRCallback: config.GetEnv("DLR_CALLBACK_URL", ""),
		Logger:      logger,
		Metrics:     dispatchMetrics,
	})

	// Kafka producer for the DLQ
	brokers := strings.Split(brokersEnv, ",")
	producer, err := kafka.NewProducer(brokers, "teller", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	// Reconciliation consumers
	dlrTopic := config.GetEnv("DLR_TOPIC", "dlr_events")
	submitAckTopic := config.GetEnv("SUBMIT_ACK_TOPIC", "billing_events")
	dlqTopic := config.GetEnv("DLQ_TOPIC", "billing_dlq")

	reconcileHandlers := reconcile.NewHandlers(cdrStore, producer, dlqTopic, logger, reconcileMetrics)

	groupID := config.GetEnv("KAFKA_GROUP_ID", "teller")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "teller")
	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	consumer.AddHandler(dlrTopic, reconcileHandlers.HandleDLR)
	consumer.AddHandler(submitAckTopic, reconcileHandlers.HandleSubmitAck)

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbURL,
		"KAFKA_BROKERS": brokersEnv,
		"ROUTING_URL":   routingURL,
		"CARRIER_URL":   carrierURL,
	}))

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	// Initialize handlers
	h := handlers.New(engine, cdrStore, ledgerStore, dispatcher, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "teller", healthChecker, metricsCollector)

	// API routes (service-to-service, behind the shared token)
	serviceAPI := router.Group("")
	serviceAPI.Use(middleware.ServiceAuthMiddleware(serviceToken))
	{
		serviceAPI.POST("/v1/charges", h.ApplyCharge)

		serviceAPI.GET("/v1/accounts/:id/balance", h.GetBalance)
		serviceAPI.POST("/v1/accounts/:id/check-balance", h.CheckBalance)
		serviceAPI.POST("/v1/accounts/:id/credits", h.Credit)
		serviceAPI.GET("/v1/accounts/:id/ledger", h.ListLedger)

		serviceAPI.GET("/v1/messages/:id", h.GetMessage)
		serviceAPI.POST("/v1/messages/send", h.SendMessage)
		serviceAPI.POST("/v1/messages/send-batch", h.SendBatch)
		serviceAPI.POST("/v1/messages/check", h.CheckMessage)

		serviceAPI.GET("/v1/dispatches/:id", h.GetDispatch)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("teller", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
