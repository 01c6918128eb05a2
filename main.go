package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/cache"
	"smm-publisher/infrastructure/clients/directus"
	"smm-publisher/infrastructure/clients/facebook"
	"smm-publisher/infrastructure/clients/instagram"
	"smm-publisher/infrastructure/clients/socialhttp"
	"smm-publisher/infrastructure/clients/telegram"
	"smm-publisher/infrastructure/clients/vk"
	"smm-publisher/infrastructure/configuration"
	"smm-publisher/infrastructure/logger"
	"smm-publisher/infrastructure/persistence"
	"smm-publisher/infrastructure/pubsub"
	"smm-publisher/infrastructure/realtime"
	"smm-publisher/infrastructure/servicebus"
	httpHandler "smm-publisher/interfaces/http"
	"smm-publisher/server"
	"smm-publisher/usecase"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// OS env keeps precedence over env files
	configuration.LoadEnvFromFile("config.env", ".env")
	configuration.Init()
	cfg := configuration.C

	psqlDb, err := initiatePostgres()
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("PostgreSQL not available - continuing without it")
	}
	if psqlDb != nil {
		defer psqlDb.Close()
	}

	lock := initiateLock(ctx, cfg, psqlDb)
	audit, mongoClient := initiateAudit(ctx, cfg, psqlDb)
	if mongoClient != nil {
		defer mongoClient.Disconnect(context.Background())
	}

	hub := realtime.NewPublicationHub()
	notifiers := []repository.IPublicationNotifier{hub}

	if cfg.Pubsub.ProjectID != "" {
		pubSubClient, err := pubsub.NewPubSub(ctx, cfg.Pubsub.ProjectID)
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while instantiate PubSub")
		} else {
			defer pubSubClient.Close()
			events := pubsub.NewPublicationEvents(pubSubClient, cfg.Pubsub.TopicID)
			defer events.Stop()
			notifiers = append(notifiers, events)
		}
	}
	if cfg.ServiceBus.Namespace != "" {
		sbClient, err := servicebus.NewServiceBus(ctx, cfg.ServiceBus.Namespace)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - continuing without Service Bus events")
		} else {
			defer sbClient.Close(context.Background())
			notifiers = append(notifiers, servicebus.NewPublicationEvents(sbClient, cfg.ServiceBus.QueueName))
		}
	}

	content := directus.NewClient(directus.Config{
		URL:         cfg.Directus.URL,
		StaticToken: cfg.Directus.Token,
		Email:       cfg.Directus.Email,
		Password:    cfg.Directus.Password,
		Collection:  cfg.Directus.Collection,
		Timeout:     time.Duration(cfg.Directus.TimeoutSeconds) * time.Second,
	}, nil)
	state := persistence.NewPublicationStateRepository(content, lock)

	var store repository.ICredentialWriter
	if psqlDb != nil {
		store = persistence.NewPlatformCredentialsRepository(psqlDb)
	}
	creds := usecase.NewCredentialsProvider(store, configuredCredentials(cfg))

	httpClient := socialhttp.NewHTTPClient(time.Duration(cfg.Publish.TimeoutSeconds) * time.Second)
	publishers := []repository.IPublisher{
		telegram.NewClient(cfg.Telegram.BaseURL, httpClient),
		vk.NewClient(cfg.VK.BaseURL, cfg.VK.APIVersion, httpClient),
		instagram.NewClient(cfg.Instagram.BaseURL, httpClient, time.Duration(cfg.Instagram.ContainerDelayMs)*time.Millisecond),
		facebook.NewClient(cfg.Facebook.BaseURL, httpClient),
	}

	publishUsecase := usecase.NewPublishUsecase(content, state, lock, creds, publishers, usecase.PublishOptions{
		MaxAttempts: cfg.Publish.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Publish.BaseDelaySeconds) * time.Second,
		LeaseTTL:    time.Duration(cfg.Publish.LeaseTTLSeconds) * time.Second,
		Audit:       audit,
		Notifier:    usecase.NewMultiNotifier(notifiers...),
	})

	if cfg.Scheduler.Enabled {
		scheduler := usecase.NewSchedulerUsecase(content, publishUsecase, cfg.Scheduler.BatchSize, time.Duration(cfg.Publish.LeaseTTLSeconds)*time.Second)
		g.Go(func() error {
			return scheduler.Run(ctx, time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second)
		})
	}
	if pgLock, ok := lock.(*persistence.PublishLockRepository); ok {
		g.Go(func() error {
			purgeExpiredLeases(ctx, pgLock)
			return nil
		})
	}

	publishHandler := httpHandler.NewPublishHandler(publishUsecase)
	credentialsHandler := httpHandler.NewCredentialsHandler(store, creds)
	router := server.InitiateRouter(publishHandler, credentialsHandler, hub.Serve, cfg.App.AllowOrigins, cfg.App.SecretKey)

	app := cfg.App
	logger.GetLogger().WithFields(map[string]interface{}{
		"port":          app.Port,
		"tls":           app.TLSEnabled,
		"lock_backend":  cfg.Publish.LockBackend,
		"audit_backend": cfg.Publish.AuditBackend,
		"scheduler":     cfg.Scheduler.Enabled,
	}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", app.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if app.TLSEnabled && app.TLSCertFile != "" && app.TLSKeyFile != "" {
			logger.GetLogger().WithFields(map[string]interface{}{"cert": app.TLSCertFile, "key": app.TLSKeyFile}).Info("Serving HTTPS")
			if err := httpServer.ListenAndServeTLS(app.TLSCertFile, app.TLSKeyFile); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
		if app.TLSEnabled {
			logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

func initiatePostgres() (*sql.DB, error) {
	if configuration.C.Database.Psql.Host == "" {
		return nil, nil
	}
	db, err := persistence.NewPostgreSQLDB()
	if err != nil {
		return nil, err
	}
	if err := persistence.EnsurePublicationSchema(db); err != nil {
		logger.GetLogger().WithField("error", err).Error("failed ensuring publication schema")
	}
	logger.GetLogger().Info("PostgreSQL connected successfully")
	return db, nil
}

// initiateLock picks the lease backend. Anything that cannot be reached
// falls back to the in-process table, which only protects one instance.
func initiateLock(ctx context.Context, cfg configuration.Config, psqlDb *sql.DB) repository.IPublishLock {
	switch cfg.Publish.LockBackend {
	case configuration.LockBackendRedis:
		redisClient, err := cache.NewCache(
			ctx,
			fmt.Sprintf("%s:%s", cfg.RedisClient.Host, cfg.RedisClient.Port),
			cfg.RedisClient.Username,
			cfg.RedisClient.Password,
		)
		if err == nil {
			logger.GetLogger().Info("Redis client initialized successfully.")
			return cache.NewRedisLocker(redisClient)
		}
		logger.GetLogger().WithField("error", err).Error("Redis not available, using in-process publish lock")
	case configuration.LockBackendPostgres:
		if psqlDb != nil {
			return persistence.NewPublishLockRepository(psqlDb)
		}
		logger.GetLogger().Error("PostgreSQL not available, using in-process publish lock")
	}
	return cache.NewLocalLocker()
}

func initiateAudit(ctx context.Context, cfg configuration.Config, psqlDb *sql.DB) (repository.IPublicationAudit, *mongo.Client) {
	switch cfg.Publish.AuditBackend {
	case configuration.AuditBackendPostgres:
		if psqlDb != nil {
			return persistence.NewPublicationAuditRepository(psqlDb), nil
		}
		logger.GetLogger().Warn("PostgreSQL not available - publication audit disabled")
	case configuration.AuditBackendMongo:
		m := cfg.Database.Mongo
		client, err := persistence.NewMongoDb(m.Host, m.Port, m.User, m.Password, m.Name)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("MongoDB not available - publication audit disabled")
			return nil, nil
		}
		repo := persistence.NewPublicationAuditMongoRepository(client, m.Name)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Warn("failed ensuring publication audit indexes")
		}
		logger.GetLogger().Info("MongoDB connected successfully")
		return repo, client
	}
	return nil, nil
}

func configuredCredentials(cfg configuration.Config) map[model.Platform]model.PlatformCredentials {
	return map[model.Platform]model.PlatformCredentials{
		model.PlatformTelegram:  {Token: cfg.Telegram.BotToken, ChatID: cfg.Telegram.ChatID},
		model.PlatformVK:        {Token: cfg.VK.AccessToken, GroupID: cfg.VK.GroupID},
		model.PlatformInstagram: {Token: cfg.Instagram.AccessToken, AccountID: cfg.Instagram.AccountID},
		model.PlatformFacebook:  {Token: cfg.Facebook.AccessToken, PageID: cfg.Facebook.PageID},
	}
}

func purgeExpiredLeases(ctx context.Context, locks *persistence.PublishLockRepository) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := locks.PurgeExpired(ctx)
			if err != nil {
				logger.GetLogger().WithField("error", err).Warn("Unable to purge expired publish leases")
			} else if n > 0 {
				logger.GetLogger().WithField("count", n).Info("Purged expired publish leases")
			}
		}
	}
}
