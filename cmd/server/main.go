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

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Skotchmaster/bookly/internal/config"
	"github.com/Skotchmaster/bookly/internal/db"
	"github.com/Skotchmaster/bookly/internal/guard"
	"github.com/Skotchmaster/bookly/internal/handlers"
	"github.com/Skotchmaster/bookly/internal/hash"
	"github.com/Skotchmaster/bookly/internal/identity"
	"github.com/Skotchmaster/bookly/internal/logging"
	"github.com/Skotchmaster/bookly/internal/mailer"
	"github.com/Skotchmaster/bookly/internal/mykafka"
	"github.com/Skotchmaster/bookly/internal/repo"
	"github.com/Skotchmaster/bookly/internal/revocation"
	"github.com/Skotchmaster/bookly/internal/service"
	"github.com/Skotchmaster/bookly/internal/tokens"
	httpserver "github.com/Skotchmaster/bookly/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	l, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = l.Sync() }()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		l.Fatalw("db init error", "error", err)
	}

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		l.Fatalw("invalid REDIS_URL", "error", err)
	}
	rdb := goredis.NewClient(redisOpts)
	cache := revocation.NewRedisCache(rdb)

	secret := []byte(cfg.JWTSecret)
	codec, err := tokens.NewCodec(secret, cfg.JWTAlgorithm, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	if err != nil {
		l.Fatalw("token codec error", "error", err)
	}
	verification, err := tokens.NewPurposeCodec(secret, tokens.PurposeEmailVerification, cfg.PurposeTokenExpiry)
	if err != nil {
		l.Fatalw("token codec error", "error", err)
	}
	reset, err := tokens.NewPurposeCodec(secret, tokens.PurposePasswordReset, cfg.PurposeTokenExpiry)
	if err != nil {
		l.Fatalw("token codec error", "error", err)
	}

	var prod *mykafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod, err = mykafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			l.Fatalw("kafka producer error", "error", err)
		}
	}

	store := revocation.NewStore(cache, revocation.WithTimeout(cfg.StoreTimeout))
	users := repo.NewGormRepo(gdb)

	svc := &service.AuthService{
		Repo:         users,
		Hasher:       hash.NewHasher(cfg.BcryptCost),
		Tokens:       codec,
		Verification: verification,
		Reset:        reset,
		Revocations:  store,
		Mailer:       newMailer(cfg, prod),
		Opts: service.Options{
			Domain:       cfg.Domain,
			EventsTopic:  cfg.EventsTopic,
			MailTimeout:  cfg.Mail.Timeout,
			StoreTimeout: cfg.StoreTimeout,
			JTIExpiry:    cfg.JTIExpiry,
		},
	}
	if prod != nil {
		svc.Events = prod
	}

	e := httpserver.New(l, &httpserver.Deps{
		AuthHandler:  &handlers.AuthHandler{Svc: svc},
		AdminHandler: &handlers.AdminHandler{Svc: svc},
		AccessGuard:  guard.New(guard.Access, codec, store),
		RefreshGuard: guard.New(guard.Refresh, codec, store),
		Resolver:     identity.NewResolver(users, cfg.StoreTimeout),
		Ready: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
			defer cancel()
			if err := db.Ping(ctx, gdb); err != nil {
				return err
			}
			return cache.Ping(ctx)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		l.Infow("http server started", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorw("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	go func() {
		<-quit
		l.Warnw("force exit")
		os.Exit(1)
	}()

	l.Infow("shutting down...")
	shutdown(l, srv, gdb, rdb, prod)
	l.Infow("shutdown complete")
}

func newMailer(cfg config.Config, prod *mykafka.Producer) mailer.Mailer {
	switch cfg.Mail.Transport {
	case "kafka":
		return mailer.NewKafkaMailer(prod, cfg.Mail.Topic, cfg.Mail.From)
	case "smtp":
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Server:   cfg.Mail.Server,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	default:
		return mailer.LogMailer{From: cfg.Mail.From}
	}
}

func shutdown(l *zap.SugaredLogger, srv *http.Server, gdb *gorm.DB, rdb *goredis.Client, prod *mykafka.Producer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Errorw("server shutdown error", "error", err)
	}

	if sqlDB, err := gdb.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			l.Errorw("db close error", "error", err)
		}
	} else {
		l.Errorw("db() error", "error", err)
	}

	if err := rdb.Close(); err != nil {
		l.Errorw("redis close error", "error", err)
	}

	if prod != nil {
		if err := prod.Close(); err != nil {
			l.Errorw("kafka close error", "error", err)
		}
	}
}
