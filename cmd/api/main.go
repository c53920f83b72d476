package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/auth"
	"github.com/advocacyflow/server/internal/config"
	"github.com/advocacyflow/server/internal/db"
	"github.com/advocacyflow/server/internal/delivery"
	"github.com/advocacyflow/server/internal/dispatch"
	"github.com/advocacyflow/server/internal/engagement"
	"github.com/advocacyflow/server/internal/feed"
	httphandler "github.com/advocacyflow/server/internal/http"
	"github.com/advocacyflow/server/internal/http/handlers"
	"github.com/advocacyflow/server/internal/identity"
	"github.com/advocacyflow/server/internal/logging"
	"github.com/advocacyflow/server/internal/model"
	"github.com/advocacyflow/server/internal/otp"
	"github.com/advocacyflow/server/internal/repo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "advocacyflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.DevMode)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied", zap.String("target", cfg.DatabaseTarget()))

	// Repositories
	userRepo := repo.NewUserRepo(database)
	postRepo := repo.NewPostRepo(database)
	eventRepo := repo.NewEventRepo(database)

	// Core workflow
	identityStore := identity.NewStore(userRepo, logger)
	otpManager := otp.NewManager(codeDelivery(cfg, logger), identityStore, otp.Config{
		TTL:            cfg.OTPTTL,
		ResendInterval: cfg.OTPResendInterval,
		MaxAttempts:    cfg.OTPMaxAttempts,
		Salt:           cfg.OTPSalt,
		DevMode:        cfg.OTPDevMode,
	}, logger)

	recorder := engagement.NewRecorder(eventRepo, cfg.EventQueueSize, logger)
	recorder.Start()
	defer recorder.Close()

	dispatcher := dispatch.NewDispatcher(identityStore, channelSenders(cfg, logger), recorder, logger)
	posts := feed.NewSource(postRepo, logger)

	jwtService := auth.NewJWTService(cfg.SessionSecret, cfg.SessionTTL)
	sessions := auth.NewSessionService(jwtService, userRepo, identityStore, logger)

	h := httphandler.Handlers{
		Session:      handlers.NewSessionHandler(sessions, logger),
		Phone:        handlers.NewPhoneHandler(otpManager, identityStore, logger),
		Distribution: handlers.NewDistributionHandler(dispatcher, posts, logger),
		Engagement:   handlers.NewEngagementHandler(recorder, posts, logger),
	}
	defer h.Stop()

	router := httphandler.NewRouter(h, sessions, cfg.CORSOrigins, logger)

	// Write timeout leaves room for one outbound send at OutboundTimeout
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.OutboundTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.Bool("otp_dev_mode", cfg.OTPDevMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// codeDelivery picks the SMS gateway when configured, otherwise a log-only stand-in
func codeDelivery(cfg *config.Config, logger *zap.Logger) otp.Delivery {
	if cfg.SMSGatewayURL == "" {
		logger.Warn("SMS_GATEWAY_URL not set, verification codes are not delivered")
		return delivery.NewLogDelivery(logger)
	}
	return delivery.NewSMSDelivery(cfg.SMSGatewayURL, cfg.OutboundTimeout, logger)
}

func channelSenders(cfg *config.Config, logger *zap.Logger) map[model.Channel]dispatch.Sender {
	senders := make(map[model.Channel]dispatch.Sender, 3)
	for ch, url := range map[model.Channel]string{
		model.ChannelWhatsApp: cfg.WhatsAppWebhookURL,
		model.ChannelTwitter:  cfg.TwitterWebhookURL,
		model.ChannelLinkedIn: cfg.LinkedInWebhookURL,
	} {
		if url == "" {
			senders[ch] = delivery.NewLogSender(logger.With(zap.String("sender", "log")))
			continue
		}
		senders[ch] = delivery.NewWebhookSender(url, cfg.OutboundTimeout)
	}
	return senders
}
