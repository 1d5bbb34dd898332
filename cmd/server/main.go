package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"microblog/internal/config"
	apphttp "microblog/internal/http"
	"microblog/internal/mail"
	"microblog/internal/metrics"
	"microblog/internal/repository/sqlite"
	"microblog/internal/service"
	"microblog/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		logger.Warnf("unknown log level %q, keeping %s", cfg.Log.Level, logger.GetLevel())
	} else {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	postRepo := sqlite.NewPostRepository(db)
	followRepo := sqlite.NewFollowRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := postRepo.Init(ctx); err != nil {
		logger.Fatalf("init post repository: %v", err)
	}
	if err := followRepo.Init(ctx); err != nil {
		logger.Fatalf("init follow repository: %v", err)
	}

	m := metrics.New()

	dispatcher := mail.NewDispatcher(mail.Config{
		MaxConcurrent: cfg.Mail.Workers,
		SendTimeout:   30 * time.Second,
		Logger:        logger,
		OnResult:      m.Mail,
	}, mail.LogSender{Logger: logger})
	// deliveries drained on shutdown must outlive the signal context
	if err := dispatcher.Start(context.Background()); err != nil {
		logger.Fatalf("start mail dispatcher: %v", err)
	}

	userService := service.NewUserService(
		userRepo,
		service.NewResetTokens(cfg.Auth.SecretKey),
		time.Duration(cfg.Auth.ResetTokenTTLMinutes)*time.Minute,
		mail.NewResetMailer(dispatcher, cfg.Mail.Sender, cfg.Server.BaseURL),
	)
	followService := service.NewFollowService(followRepo, postRepo, cfg.Feed.PostsPerPage)
	postService := service.NewPostService(postRepo, cfg.Feed.PostsPerPage)

	gate := session.NewGate(session.Options{
		Secret:      cfg.Auth.SecretKey,
		RememberFor: time.Duration(cfg.Auth.RememberDays) * 24 * time.Hour,
		SessionFor:  time.Duration(cfg.Auth.SessionHours) * time.Hour,
		Secure:      cfg.Auth.SecureCookie,
	}, userService, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		userService,
		followService,
		postService,
		gate,
		apphttp.JSONRenderer{},
		m,
		logger,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	dispatcher.Shutdown()

	logger.Info("bye")
}
