package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"afroboost/access"
	"afroboost/campaign"
	"afroboost/channels"
	"afroboost/chat"
	"afroboost/config"
	"afroboost/identity"
	"afroboost/middleware"
	"afroboost/routes"
	"afroboost/worker"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logrus.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logrus.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	st, err := config.ConnectDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := access.NewCore(cfg.SuperAdminEmails, st)
	hub := chat.NewHub()
	chatService := chat.NewService(st, hub, chat.Config{
		MaxMessageSize: cfg.MaxMessageSize,
		NonceWindow:    cfg.NonceWindow,
	})
	resolver := identity.NewResolver(st, cfg.DefaultCoachID)
	campaigns := campaign.NewService(st, cfg.Location)

	registry := channels.Build(ctx, channels.Settings{
		EmailProvider: cfg.EmailProvider,
		SMTP: channels.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		},
		WhatsAppProvider: cfg.WhatsApp.Provider,
		WhatsApp: channels.WhatsAppConfig{
			APIURL:        cfg.WhatsApp.APIURL,
			Token:         cfg.WhatsApp.Token,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			Timeout:       cfg.Scheduler.ChannelTimeout,
		},
		AWSRegion: cfg.AWSRegion,
	})

	// Initialize and start the campaign scheduler
	campaignWorker := worker.NewCampaignWorker(st, registry, worker.CampaignWorkerConfig{
		WorkerID:       cfg.Scheduler.WorkerID,
		Tick:           cfg.Scheduler.Tick,
		StartDelay:     5 * time.Second,
		Lease:          cfg.Scheduler.Lease,
		ChannelTimeout: cfg.Scheduler.ChannelTimeout,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		Location:       cfg.Location,
	}, logrus.WithField("component", "campaign_worker"))
	go campaignWorker.Start(ctx)

	limiterStorage := middleware.RateLimitStorage(cfg.Redis)

	app := routes.NewApp(routes.Dependencies{
		Config:           cfg,
		Store:            st,
		Access:           core,
		Identity:         resolver,
		Chat:             chatService,
		Campaigns:        campaigns,
		RateLimitStorage: limiterStorage,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("Shutting down...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Warn("Server shutdown incomplete")
		}
	}()

	// Start server
	logrus.WithField("port", cfg.ServerPort).Info("Server starting")
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}

	if limiterStorage != nil {
		_ = limiterStorage.Close()
	}
	if sqlDB, err := st.DB().DB(); err == nil {
		_ = sqlDB.Close()
	}
	logrus.Info("Goodbye!")
}
