package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/client"
	"bulletin-service/internal/config"
	"bulletin-service/internal/encryption"
	"bulletin-service/internal/events"
	"bulletin-service/internal/handler"
	"bulletin-service/internal/hashing"
	"bulletin-service/internal/metrics"
	"bulletin-service/internal/repository"
	"bulletin-service/internal/repository/redis"
	"bulletin-service/internal/repository/scylla"
	"bulletin-service/internal/service"
	"bulletin-service/internal/tls"
	"bulletin-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Storage
	users    repository.UserStore
	comments repository.CommentStore

	// Admission control
	metrics   *metrics.AdmissionMetrics
	publisher *events.Publisher
	admission *admission.Controller
	janitor   *admission.Janitor

	hasher         *hashing.Hasher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory(cfg *config.Config) (*Factory, error) {
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		logger: logger,
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction(), logger)
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeStorage(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := f.initializeAdmission(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize admission control: %w", err)
	}

	f.hasher = hashing.NewHasher(cfg.Hashing)
	f.serviceFactory = service.NewServiceFactory(
		f.users,
		redis.NewSessionCache(f.redisClient),
		f.comments,
		f.hasher,
		f.admission,
		cfg.Session.TTL,
		logger,
	)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage", cfg.Storage.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.Encryption.KMSEnabled),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
	)

	return f, nil
}

// initializeStorage builds the field cipher and the user and comment stores
// of the configured backend.
func (f *Factory) initializeStorage() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	em, err := encryption.NewEncryptionManager(ctx, f.config.Encryption, f.config.IsDevelopment())
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	if f.config.Storage.Backend != config.StorageScylla {
		f.users = redis.NewUserRepository(f.redisClient, em)
		f.comments = redis.NewCommentRepository(f.redisClient, f.config.Redis.CommentRetention)
		return nil
	}

	sc, err := scylla.NewScyllaClient(ctx, f.config.Scylla, f.config.IsDevelopment())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = sc
	f.users = scylla.NewUserRepository(sc, em)
	f.comments = scylla.NewCommentRepository(sc)
	return nil
}

// initializeClients connects to redis (required) and kafka (optional)
func (f *Factory) initializeClients() error {
	rc, err := client.NewRedisClient(f.config.Redis, f.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = rc

	if !f.config.Kafka.Enabled {
		return nil
	}

	producer, err := client.NewKafkaProducer(f.config.Kafka, f.logger)
	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("kafka: %w", err)
		}
		util.Warn("Kafka producer initialization failed - proceeding without security events", util.ErrorField(err))
		return nil
	}
	f.kafkaProducer = producer
	return nil
}

func (f *Factory) initializeAdmission() error {
	f.metrics = metrics.NewAdmissionMetrics()

	observers := admission.Observers{f.metrics}
	if f.kafkaProducer != nil {
		f.publisher = events.NewPublisher(f.kafkaProducer, f.config.Kafka.SecurityTopic, f.logger)
		observers = append(observers, f.publisher)
	}

	ctrl, err := admission.New(
		admission.Config{
			DailyCap:             f.config.Admission.DailyCap,
			PostInterval:         f.config.Admission.PostInterval,
			RetrievalInterval:    f.config.Admission.RetrievalInterval,
			RegistrationCap:      f.config.Admission.RegistrationCap,
			RegistrationInterval: f.config.Admission.RegistrationInterval,
		},
		admission.WithLogger(f.logger),
		admission.WithObserver(observers),
		admission.WithShards(f.config.Admission.Shards),
	)
	if err != nil {
		return err
	}
	f.admission = ctrl
	f.metrics.TrackEntries(ctrl)

	f.janitor = admission.NewJanitor(
		f.metrics.InstrumentSweeper(ctrl),
		f.config.Admission.JanitorInterval,
		f.logger,
	)

	util.Info("Admission control initialized",
		util.Int("daily_cap", f.config.Admission.DailyCap),
		util.Duration("post_interval", f.config.Admission.PostInterval),
		util.Duration("retrieval_interval", f.config.Admission.RetrievalInterval),
		util.Int("registration_cap", f.config.Admission.RegistrationCap),
		util.Duration("janitor_interval", f.config.Admission.JanitorInterval),
	)
	return nil
}

// Router builds the HTTP handler with every API route
func (f *Factory) Router() http.Handler {
	auth := f.serviceFactory.AuthService()
	return handler.NewRouter(
		handler.RouterOptions{
			AllowedOrigins: f.config.CORS.AllowedOrigins,
			RequireHTTPS:   f.config.Server.EnableTLS && f.config.IsProduction(),
			Metrics:        f.metrics.Handler(),
			Health:         f.HealthCheck,
		},
		f.logger,
		handler.NewAuthHandler(auth, f.logger),
		handler.NewCommentHandler(f.serviceFactory.CommentService(), auth, f.logger),
		handler.NewAdmissionHandler(f.admission, f.config.Operator.Token, f.logger),
	)
}

// Workers returns the background loops that run alongside the server
func (f *Factory) Workers() []func(ctx context.Context) error {
	workers := []func(ctx context.Context) error{f.janitor.Run}
	if f.publisher != nil {
		workers = append(workers, f.publisher.Run)
	}
	return workers
}

// HealthCheck reports unhealthy dependencies. Kafka is advisory.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed", util.ErrorField(err))
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			if err := f.scyllaClient.Close(); err != nil {
				util.Error("Failed to close Scylla client", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
