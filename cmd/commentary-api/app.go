package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/commentary/internal/auth"
	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/MarcoPoloResearchLab/commentary/internal/config"
	"github.com/MarcoPoloResearchLab/commentary/internal/database"
	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderation"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderators"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dispatcherBufferSize = 256

// application holds every long-lived component of one process.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	dispatcher *events.Dispatcher
	captcha    *captcha.Service
	comments   *comments.Service
	threads    *comments.ThreadCache
	policy     *moderation.Policy
	worker     *moderation.Worker
	moderators *moderators.Service
	tokens     *auth.TokenIssuer

	closers []func() error
}

func newApplication(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) build(ctx context.Context) error {
	cfg := a.config

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, a.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, sqlDB.Close)

	limiter, err := a.newLimiter(ctx)
	if err != nil {
		return err
	}

	a.captcha, err = captcha.NewService(captcha.ServiceConfig{
		Database:  db,
		Limiter:   limiter,
		Policies:  cfg.RateLimits,
		TTL:       cfg.CaptchaTTL,
		Retention: cfg.CaptchaRetention,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	a.dispatcher = events.NewDispatcher(dispatcherBufferSize)
	publishers := []events.Publisher{a.dispatcher}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewAsyncProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		kafkaPublisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Producer: producer,
			Topic:    cfg.KafkaTopic,
			Logger:   a.logger,
		})
		if err != nil {
			_ = producer.Close()
			return err
		}
		a.closers = append(a.closers, kafkaPublisher.Close)
		publishers = append(publishers, kafkaPublisher)
		a.logger.Info("kafka event sink enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	a.comments, err = comments.NewService(comments.ServiceConfig{
		Database:  db,
		Captcha:   a.captcha,
		Limiter:   limiter,
		Policies:  cfg.RateLimits,
		Publisher: events.NewFanout(a.logger, publishers...),
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	a.threads = a.comments.EnableThreadCache(cfg.ThreadCacheSize, cfg.ThreadCacheTTL)

	a.policy, err = moderation.NewPolicy(moderation.PolicyConfig{
		Store:          a.comments,
		Threshold:      cfg.AutoHideThreshold,
		VelocityWindow: cfg.VelocityWindow,
		VelocityLimit:  cfg.VelocityLimit,
		Lookback:       cfg.SweepLookback,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	a.worker, err = moderation.NewWorker(moderation.WorkerConfig{
		Source:    a.dispatcher,
		Evaluator: a.policy,
		Workers:   cfg.ModerationWorkers,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	a.moderators, err = moderators.NewService(moderators.ServiceConfig{
		Database: db,
		CacheTTL: cfg.ModeratorCacheTTL,
	})
	if err != nil {
		return err
	}
	a.tokens, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(cfg.SigningSecret),
		Issuer:        cfg.TokenIssuer,
		Audience:      cfg.TokenAudience,
		TokenTTL:      cfg.TokenTTL,
	})
	return err
}

// newLimiter prefers Redis so that several instances share counters.
func (a *application) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if a.config.RedisAddress == "" {
		a.logger.Info("rate limits kept in memory")
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.config.RedisAddress,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.config.RedisAddress, err)
	}
	a.logger.Info("rate limits kept in redis", zap.String("address", a.config.RedisAddress))
	return ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{Client: client})
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() error {
	var failures []error
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			failures = append(failures, err)
		}
	}
	a.closers = nil
	return errors.Join(failures...)
}
