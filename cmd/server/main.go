package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"clinic-service/config"
	"clinic-service/internal/api"
	"clinic-service/internal/broker"
	"clinic-service/internal/events"
	"clinic-service/internal/models"
	"clinic-service/internal/notify"
	"clinic-service/internal/otp"
	"clinic-service/internal/payment"
	"clinic-service/internal/redisclient"
	"clinic-service/internal/service"
	"clinic-service/internal/store"
	"clinic-service/internal/timezone"
	"clinic-service/internal/util"
	"clinic-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting clinic service")

	tp, err := util.InitTracer("clinic-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	taxRate, err := decimal.NewFromString(cfg.Business.TaxRate)
	if err != nil {
		log.Fatalf("Invalid TAX_RATE %q: %v", cfg.Business.TaxRate, err)
	}
	loc := timezone.Location(cfg.Business.Timezone)

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	log.Println("Database connected")

	probes := map[string]api.Pinger{"postgres": db}

	var (
		dedup notify.Deduper
		quota notify.Quota
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")

		dedup = redisClient
		quota = notify.NewRedisQuota(redisClient, cfg.Notify.PerRecipientPerHour, time.Hour)
		probes["redis"] = redisClient
	} else {
		logger.Info("REDIS_ADDR not set, notification dedup and quotas stay in memory")
	}

	bus := events.NewBus(cfg.Notify.MaxListeners)
	templates := notify.NewTemplates(cfg.Business.AdminEmail)

	dispatcher := notify.NewDispatcher(notify.Config{
		Enabled:             cfg.Notify.Enabled,
		EmailEnabled:        cfg.Notify.EmailEnabled,
		SMSEnabled:          cfg.Notify.SMSEnabled,
		DedupTTL:            cfg.Notify.DedupTTL,
		PerRecipientPerHour: cfg.Notify.PerRecipientPerHour,
		GlobalRatePerSecond: cfg.Notify.GlobalRatePerSecond,
		GlobalBurst:         cfg.Notify.GlobalBurst,
		MaxRetries:          cfg.Notify.MaxRetries,
		BackoffBase:         cfg.Notify.BackoffBase,
		BackoffUnit:         cfg.Notify.BackoffUnit,
		QueueSize:           cfg.Notify.QueueSize,
		Workers:             cfg.Notify.Workers,
	}, newSenders(cfg, logger), dedup, quota)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Stop drains the queue, so delivery is not tied to workerCtx
	dispatcher.Start(context.Background(), time.Minute)

	var alertWorker *worker.AlertWorker
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, true)
		defer producer.Close()
		log.Println("Kafka producer initialized")

		if err := bus.SubscribeAll(broker.NewRelay(producer).Handle); err != nil {
			log.Fatalf("Failed to register event relay: %v", err)
		}

		// admin alerts go out through the consumer so every replica does not mail them
		if err := dispatcher.Subscribe(bus, templates, withoutEvent(templates.Names(), models.EventAdminAlert)...); err != nil {
			log.Fatalf("Failed to subscribe notifications: %v", err)
		}

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		alertWorker = worker.NewAlertWorker(consumer, templates, dispatcher)
		go func() {
			if err := alertWorker.Start(workerCtx); err != nil {
				log.Printf("Alert worker error: %v", err)
			}
		}()
	} else if err := dispatcher.Subscribe(bus, templates); err != nil {
		log.Fatalf("Failed to subscribe notifications: %v", err)
	}

	otps, err := otp.NewManager[service.PendingRegistration](otp.Config{
		CodeTTL:            cfg.OTP.CodeTTL,
		MaxAttempts:        cfg.OTP.MaxAttempts,
		MinAttemptInterval: cfg.OTP.MinAttemptInterval,
		RequestLimit:       cfg.OTP.RequestLimit,
		RequestWindow:      cfg.OTP.RequestWindow,
		MaxEntries:         cfg.OTP.MaxEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OTP manager: %v", err)
	}

	providers := payment.NewFactory(cfg.Payment)
	appointmentService := service.NewAppointmentService(db, providers, bus, loc, cfg.Business.Currency)
	paymentService := service.NewPaymentService(db, providers, bus, service.PaymentConfig{
		Provider:        cfg.Payment.Provider,
		TaxRate:         taxRate,
		Currency:        cfg.Business.Currency,
		ProviderTimeout: time.Duration(cfg.Payment.TimeoutSeconds) * time.Second,
	})
	registrationService := service.NewRegistrationService(db, otps, bus, cfg.Business.PublicURL)

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		otps.Run(workerCtx, cfg.OTP.SweepInterval)
	}()
	go func() {
		defer background.Done()
		sweepResets(workerCtx, registrationService, cfg.OTP.SweepInterval)
	}()

	if cfg.Reminder.Enabled {
		scheduler := worker.NewReminderScheduler(worker.ReminderConfig{
			Window:       cfg.Reminder.Window,
			Interval:     cfg.Reminder.Interval,
			InitialDelay: cfg.Reminder.InitialDelay,
		}, db, templates, dispatcher, loc)
		background.Add(1)
		go func() {
			defer background.Done()
			scheduler.Start(workerCtx)
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(appointmentService, paymentService, registrationService, cfg.Auth.JWTSecret, probes)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if alertWorker != nil {
		if err := alertWorker.Stop(); err != nil {
			logger.Warn("Failed to stop alert worker", zap.Error(err))
		}
	}
	background.Wait()
	dispatcher.Stop()

	log.Println("Server exited")
}

// newSenders picks real transports when configured and log senders otherwise
func newSenders(cfg *config.Config, logger *zap.Logger) map[notify.Channel]notify.Sender {
	senders := make(map[notify.Channel]notify.Sender, 2)

	if cfg.Email.SMTPHost != "" {
		senders[notify.ChannelEmail] = notify.NewEmailSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.SenderEmail, cfg.Email.SenderName)
	} else {
		logger.Info("SMTP_HOST not set, emails are logged only")
		senders[notify.ChannelEmail] = notify.NewLogSender(notify.ChannelEmail)
	}

	if cfg.SMS.GatewayURL != "" {
		senders[notify.ChannelSMS] = notify.NewSMSSender(cfg.SMS.GatewayURL, cfg.SMS.AccountID, cfg.SMS.Token, cfg.SMS.From)
	} else {
		logger.Info("SMS_GATEWAY_URL not set, SMS are logged only")
		senders[notify.ChannelSMS] = notify.NewLogSender(notify.ChannelSMS)
	}

	return senders
}

func withoutEvent(names []string, skip string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != skip {
			out = append(out, n)
		}
	}
	return out
}

func sweepResets(ctx context.Context, s *service.RegistrationService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepResets()
		}
	}
}
