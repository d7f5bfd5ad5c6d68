package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"coroner-assist/internal/ai"
	"coroner-assist/internal/app"
	"coroner-assist/internal/cache"
	"coroner-assist/internal/config"
	"coroner-assist/internal/metrics"
	"coroner-assist/internal/model"
	"coroner-assist/internal/pkg/upload"
	mysqlClient "coroner-assist/internal/platform/mysql"
	rabbitmqClient "coroner-assist/internal/platform/rabbitmq"
	redisClient "coroner-assist/internal/platform/redis"
	"coroner-assist/internal/repository"
	"coroner-assist/internal/store"
	"coroner-assist/internal/worker"
)

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Store        *store.ThreadStore
	Threads      *app.ThreadService
	Documents    *app.DocumentService
	Orchestrator *app.Orchestrator

	MySQL           *gorm.DB
	Redis           *redis.Client
	MQConn          *amqp.Connection
	ThreadPublisher *rabbitmqClient.ThreadEventPublisher
	ThreadWorker    *worker.ThreadPersistWorker

	StartedAt time.Time
}

// New validates cfg, connects the enabled backends and talks to the
// configured completion endpoint.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithClient(ctx, cfg, logger, ai.NewOpenAICompatibleClient(cfg.LLMTimeout()))
}

// NewWithClient is New with the completion transport supplied by the
// caller. Rate limiting, metrics and the redis cache are still layered on.
func NewWithClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, llm ai.Client) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := app.ParseMode(cfg.Orchestrator.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		Store:     store.New(),
		StartedAt: time.Now(),
	}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	sink, err := a.threadSink(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Threads = app.NewThreadService(a.Store, sink, logger.With("component", "threads"))
	if err := a.restore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Metrics.TrackThreads(a.Store.Len)

	storage, err := upload.New(cfg.App.UploadDir)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	client := ai.NewLimitedClient(llm, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	client = ai.NewInstrumentedClient(client, a.Metrics)
	if a.Redis != nil {
		ttl := time.Duration(cfg.Redis.CompletionTTLSeconds) * time.Second
		client = ai.NewCachedClient(client, cache.NewCompletionCache(a.Redis, ttl), logger.With("component", "llm-cache"))
	}

	a.Orchestrator = app.NewOrchestrator(client, ChatConfig(cfg), cfg.Orchestrator.ChunkSize, mode, logger.With("component", "orchestrator"))
	a.Documents = app.NewDocumentService(a.Threads, storage, a.Orchestrator, a.Metrics, logger.With("component", "documents"))
	return a, nil
}

// ChatConfig maps the llm section onto the per-call endpoint settings.
func ChatConfig(cfg *config.Config) ai.ChatConfig {
	out := ai.ChatConfig{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
	}
	if cfg.LLM.Provider == ai.ProviderAzure {
		out.BaseURL = cfg.LLM.Endpoint
	}
	return out
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), &model.ThreadRecord{})
		if err != nil {
			return err
		}
		a.MySQL = db
	}
	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = client
	}
	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.ThreadPersistQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
	}
	return nil
}

// threadSink picks how store changes reach MySQL: through the queue and
// worker when RabbitMQ is enabled, directly otherwise.
func (a *App) threadSink(ctx context.Context) (app.ThreadSink, error) {
	if a.MySQL == nil {
		return nil, nil
	}
	repo := repository.NewThreadRepository(a.MySQL)
	if a.MQConn == nil {
		return repo, nil
	}

	queue := a.Config.RabbitMQ.ThreadPersistQueue
	a.ThreadWorker = worker.NewThreadPersistWorker(a.MQConn, repo, queue, a.Logger.With("component", "thread-worker"))
	if err := a.ThreadWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start thread worker failed: %w", err)
	}
	a.ThreadPublisher = rabbitmqClient.NewThreadEventPublisher(a.MQConn, queue)
	return a.ThreadPublisher, nil
}

func (a *App) restore(ctx context.Context) error {
	if a.MySQL == nil {
		return nil
	}
	threads, err := repository.NewThreadRepository(a.MySQL).ListAll(ctx)
	if err != nil {
		return fmt.Errorf("restore threads failed: %w", err)
	}
	n := a.Threads.Restore(threads)
	a.Logger.Info("threads restored", "count", n)
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.ThreadWorker != nil {
		a.ThreadWorker.Close()
	}
	if a.ThreadPublisher != nil {
		if err := a.ThreadPublisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
