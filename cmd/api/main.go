package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	openai "github.com/sashabaranov/go-openai"

	"github.com/abraan16/dr-sonrisa-backend/internal/analytics"
	"github.com/abraan16/dr-sonrisa-backend/internal/api/router"
	appconfig "github.com/abraan16/dr-sonrisa-backend/internal/config"
	"github.com/abraan16/dr-sonrisa-backend/internal/conversation"
	"github.com/abraan16/dr-sonrisa-backend/internal/handoff"
	"github.com/abraan16/dr-sonrisa-backend/internal/inbound"
	"github.com/abraan16/dr-sonrisa-backend/internal/interactions"
	"github.com/abraan16/dr-sonrisa-backend/internal/messaging"
	"github.com/abraan16/dr-sonrisa-backend/internal/notify"
	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/internal/reactivation"
	"github.com/abraan16/dr-sonrisa-backend/internal/scheduling"
	"github.com/abraan16/dr-sonrisa-backend/internal/settings"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dr-sonrisa-backend API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	clinicTZ, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "tz", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres unreachable", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	openaiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		openaiCfg.BaseURL = cfg.OpenAIBaseURL
	}
	openaiClient := openai.NewClientWithConfig(openaiCfg)

	// Stores and domain services.
	patientStore := patients.NewStore(pool)
	ledger := interactions.NewLedger(pool)
	settingsStore := settings.NewStore(pool, logger)
	scheduler := scheduling.NewService(pool, cfg.WorkStartHour, cfg.WorkEndHour, cfg.SlotDuration, cfg.Blackouts, logger)
	analyticsSvc := analytics.NewService(pool)
	handoffSvc := handoff.NewService(patientStore, cfg.HandoffTimeout, logger)

	var alerter notify.Alerter = notify.NewStubAlerter(logger)
	if tg := notify.NewTelegramAlerter(notify.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		ChatIDs:  cfg.TelegramChatIDs,
	}, logger); tg != nil {
		alerter = tg
	}

	var gateway messaging.Gateway = messaging.NewStubGateway(logger)
	if cfg.GatewayBaseURL != "" {
		gateway = messaging.NewEvolutionSender(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayInstanceName, logger)
	}
	transcriber := messaging.NewWhisperTranscriber(openaiClient, cfg.WhisperModel, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	pipelineMetrics := metrics.NewPipelineMetrics(reg)

	// Agent personas.
	registry := conversation.NewRegistry(logger).WithMetrics(pipelineMetrics)
	registry.Register(conversation.NewCheckAvailabilityTool(scheduler, clinicTZ))
	registry.Register(conversation.NewBookAppointmentTool(scheduler, alerter, clinicTZ, logger).WithMetrics(pipelineMetrics))
	agent := conversation.NewAgent(conversation.AgentConfig{
		Client:       openaiClient,
		Registry:     registry,
		Memory:       ledger,
		Knowledge:    settingsStore,
		Model:        cfg.ChatModel,
		ClinicName:   cfg.ClinicName,
		Location:     clinicTZ,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	manager := conversation.NewManager(conversation.ManagerConfig{
		Client:      openaiClient,
		Reporter:    analyticsSvc,
		Settings:    settingsStore,
		Model:       cfg.ChatModel,
		Location:    clinicTZ,
		FollowUpMax: cfg.FollowUpMax,
		Logger:      logger,
	})

	pipeline := inbound.NewPipeline(inbound.PipelineConfig{
		Resolver:    patientStore,
		Ledger:      ledger,
		Handoff:     handoffSvc,
		Agent:       agent,
		Manager:     manager,
		Transcriber: transcriber,
		Gateway:     gateway,
		Alerter:     alerter,
		Metrics:     pipelineMetrics,
		AdminPhones: cfg.AdminPhones,
		Logger:      logger,
	})

	reactivationSweep := reactivation.NewScheduler(
		patientStore, agent, gateway, ledger, redisClient, alerter,
		reactivation.Config{
			Hour:        cfg.ReactivationHour,
			BatchSize:   cfg.ReactivationBatchSize,
			FollowUpMax: cfg.FollowUpMax,
			FirstAfter:  cfg.FirstFollowUpAfter,
			FinalAfter:  cfg.FinalFollowUpAfter,
			Location:    clinicTZ,
		}, logger).WithMetrics(pipelineMetrics)

	// Background jobs.
	jobs := cron.New(cron.WithLocation(clinicTZ))
	if _, err := jobs.AddFunc("@hourly", func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		reactivationSweep.TickHourly(jobCtx)
	}); err != nil {
		logger.Error("failed to register reactivation job", "error", err)
		os.Exit(1)
	}
	if _, err := jobs.AddFunc(fmt.Sprintf("@every %s", cfg.HandoffSweepInterval), func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		handoffSvc.SweepTimeouts(jobCtx)
		pipelineMetrics.ObserveHandoffSweep()
	}); err != nil {
		logger.Error("failed to register handoff sweep", "error", err)
		os.Exit(1)
	}
	jobs.Start()
	defer jobs.Stop()

	r := router.New(&router.Config{
		Logger:           logger,
		WebhookHandler:   inbound.NewHandler(pipeline, logger),
		AnalyticsHandler: analytics.NewHandler(analyticsSvc),
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
