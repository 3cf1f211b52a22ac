package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"libraryweb/internal/app"
	"libraryweb/internal/config"
	"libraryweb/internal/server"
	"libraryweb/internal/token"
	"libraryweb/internal/util"
	"libraryweb/pkg/notify"
	"libraryweb/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokens, err := token.New(token.Options{Secret: cfg.TokenSecret})
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	var objects storage.CoverStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	}

	var (
		notifier notify.Notifier = notify.Nop{}
		queue    *notify.RedisNoticeQueue
		mailer   notify.Notifier
	)
	if cfg.RedisAddr != "" && cfg.SMTPAddr != "" {
		queue, err = notify.NewRedisNoticeQueue(notify.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NoticeStream,
		})
		if err != nil {
			log.Fatalf("failed to init notice queue: %v", err)
		}
		mailer, err = notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPPassword)
		if err != nil {
			log.Fatalf("failed to init mailer: %v", err)
		}
		notifier = queue
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Notifier:    notifier,
		Objects:     objects,
		Tokens:      tokens,
		LoanPeriod:  time.Duration(cfg.LoanPeriodDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	srv := server.New(server.Config{App: appCore, Tokens: tokens})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("library service listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if queue != nil {
		group.Go(func() error {
			err := queue.Run(ctx, mailer, "mailer-"+util.NewID())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("service stopped: %v", err)
	}
}
