package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/analyses"
	"jobtracker-backend/internal/applications"
	"jobtracker-backend/internal/cache"
	"jobtracker-backend/internal/engine"
	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/events/kafka"
	"jobtracker-backend/internal/events/rabbit"
	sqsevents "jobtracker-backend/internal/events/sqs"
	"jobtracker-backend/internal/llm"
	"jobtracker-backend/internal/llm/gemini"
	"jobtracker-backend/internal/llm/openai"
	"jobtracker-backend/internal/resumes"
	"jobtracker-backend/internal/services/health"
	"jobtracker-backend/internal/shared/config"
	"jobtracker-backend/internal/shared/server"
	"jobtracker-backend/internal/shared/storage/db"
	"jobtracker-backend/internal/shared/storage/object"
	"jobtracker-backend/internal/shared/storage/object/local"
	s3store "jobtracker-backend/internal/shared/storage/object/s3"
	"jobtracker-backend/internal/shared/telemetry"
	"jobtracker-backend/internal/worker"
)

// Role selects pool defaults for the process being built.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// App holds shared dependencies. Clients are built once here and injected;
// Close releases them.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB

	CacheBackend     string
	Cache            *cache.Cache
	Files            object.Store
	Broker           events.Broker
	LLM              llm.Client
	Engine           *engine.Engine
	ApplicationsRepo applications.Repo
	ResumesRepo      resumes.Repo
	AnalysesRepo     analyses.Repo

	ApplicationsService *applications.Service
	ResumesService      *resumes.Service
	AnalysesService     *analyses.Service
	Processor           *worker.Processor

	closers []func() error
}

// Build prepares shared dependencies and the HTTP router.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	app := &App{Config: cfg}

	sqlDB, err := buildDB(ctx, cfg, role)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		app.DB = sqlDB
		app.closers = append(app.closers, sqlDB.Close)
	}

	app.buildCache(ctx, role)

	files, err := buildObjectStore(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Files = files

	broker, err := buildBroker(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Broker = broker
	app.closers = append(app.closers, broker.Close)

	client, err := buildLLM(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.LLM = client
	app.Engine = engine.New(client, cfg.EngineTimeout)

	app.buildServices()

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              cfg,
		Health:              health.NewService(pingerOrNil(app.DB), app.CacheBackend, broker.Name()),
		ApplicationsHandler: applications.NewHandler(app.ApplicationsService, app.AnalysesService),
		ResumesHandler:      resumes.NewHandler(app.ResumesService),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"role":          string(role),
		"env":           cfg.Env,
		"database":      databaseName(app.DB),
		"cache":         app.CacheBackend,
		"events":        broker.Name(),
		"object_store":  cfg.ObjectStore,
		"llm_provider":  cfg.LLMProvider,
		"failure_state": app.Processor.FailureStatus,
	})
	return app, nil
}

// NewRunner builds a consume loop over the app's broker and processor.
func (a *App) NewRunner() *worker.Runner {
	return worker.NewRunner(a.Broker, a.Broker, a.Processor, worker.RunnerConfig{
		Topic:        a.Config.EventTopic,
		Group:        a.Config.ConsumerGroup,
		DLQTopic:     a.Config.EventDLQTopic,
		MaxAttempts:  a.Config.WorkerMaxAttempts,
		BaseDelay:    a.Config.WorkerRetryBaseDelay,
		EventTimeout: a.Config.WorkerEventTimeout,
	})
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.database_missing", map[string]any{"fallback": "memory"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if role == RoleWorker {
		defaults = db.DefaultWorkerOptions()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.database_connect_failed", map[string]any{"fallback": "memory", "error": err})
			return nil, nil
		}
		return nil, err
	}

	if cfg.IsDevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

// buildCache never fails: the cache is advisory, so an unreachable Redis
// degrades to a local or no-op backend.
func (a *App) buildCache(ctx context.Context, role Role) {
	cfg := a.Config
	var backend cache.Backend
	switch {
	case strings.TrimSpace(cfg.RedisURL) != "":
		rb, err := cache.NewRedisBackend(ctx, cfg.RedisURL)
		if err == nil {
			backend = rb
			a.CacheBackend = "redis"
			a.closers = append(a.closers, rb.Close)
			break
		}
		telemetry.Warn("bootstrap.redis_unavailable", map[string]any{"error": err})
		fallthrough
	default:
		if localCacheAllowed(cfg, role) {
			backend = cache.NewMemoryBackend()
			a.CacheBackend = "memory"
		} else {
			backend = cache.NoopBackend{}
			a.CacheBackend = "noop"
		}
		telemetry.Info("bootstrap.cache_selected", map[string]any{
			"cache":             a.CacheBackend,
			"role":              string(role),
			"worker_in_process": cfg.WorkerInProcess,
		})
	}
	a.Cache = cache.New(backend, cfg.ResumeCacheTTL, cfg.AnalysisCacheTTL)
}

// localCacheAllowed reports whether a process-local cache stays coherent: the
// API invalidates entries that workers read, so both must share the process.
func localCacheAllowed(cfg config.Config, role Role) bool {
	return cfg.IsDevLike() && role == RoleAPI && cfg.WorkerInProcess
}

// buildObjectStore returns nil when archiving is disabled.
func buildObjectStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStore {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.S3KMSKeyID)
	case "local":
		return local.New(cfg.ObjectStoreDir), nil
	default:
		return nil, nil
	}
}

func buildBroker(ctx context.Context, cfg config.Config) (events.Broker, error) {
	switch cfg.EventBackend {
	case "kafka":
		return kafka.New(cfg.KafkaBrokers)
	case "rabbit":
		return rabbit.Dial(cfg.RabbitMQURL)
	case "sqs":
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, fmt.Errorf("SQS_QUEUE_URL is required for EVENT_BACKEND=sqs")
		}
		return sqsevents.NewFromEnv(ctx, cfg.AWSRegion, map[string]string{
			cfg.EventTopic:    cfg.SQSQueueURL,
			cfg.EventDLQTopic: cfg.SQSDLQURL,
		})
	default:
		if !cfg.WorkerInProcess {
			telemetry.Warn("bootstrap.memory_broker_without_worker", map[string]any{
				"hint": "events published by this process are only consumed in-process",
			})
		}
		return events.NewMemoryBroker(events.DefaultMemoryPartitions), nil
	}
}

func buildLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return missingKey(cfg, "OPENAI_API_KEY")
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return missingKey(cfg, "GEMINI_API_KEY")
		}
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	default:
		return llm.PlaceholderClient{}, nil
	}
}

// missingKey lets dev environments run with the placeholder client, whose
// calls all produce the engine fallback.
func missingKey(cfg config.Config, key string) (llm.Client, error) {
	if cfg.IsDevLike() {
		telemetry.Warn("bootstrap.llm_key_missing", map[string]any{"provider": cfg.LLMProvider, "key": key})
		return llm.PlaceholderClient{}, nil
	}
	return nil, fmt.Errorf("%s is required for LLM_PROVIDER=%s", key, cfg.LLMProvider)
}

func (a *App) buildServices() {
	if a.DB != nil {
		a.ApplicationsRepo = &applications.PGRepo{DB: a.DB}
		a.ResumesRepo = &resumes.PGRepo{DB: a.DB}
		a.AnalysesRepo = &analyses.PGRepo{DB: a.DB}
	} else {
		appRepo := applications.NewMemoryRepo()
		analysisRepo := analyses.NewMemoryRepo()
		appRepo.OnDelete = analysisRepo.DeleteByApplicationID
		a.ApplicationsRepo = appRepo
		a.ResumesRepo = resumes.NewMemoryRepo()
		a.AnalysesRepo = analysisRepo
	}

	a.ApplicationsService = applications.NewService(a.ApplicationsRepo, a.Broker, a.Config.EventTopic)
	a.ApplicationsService.PublishTimeout = a.Config.EventPublishTimeout
	a.ResumesService = resumes.NewService(a.ResumesRepo, a.Cache)
	a.ResumesService.Files = a.Files
	a.AnalysesService = analyses.NewService(a.AnalysesRepo)
	a.Processor = worker.NewProcessor(a.ApplicationsRepo, a.ResumesRepo, a.AnalysesRepo, a.Cache, a.Engine, a.Config.EngineFailureStatus)
}

func pingerOrNil(sqlDB *sql.DB) health.Pinger {
	if sqlDB == nil {
		return nil
	}
	return sqlDB
}

func databaseName(sqlDB *sql.DB) string {
	if sqlDB == nil {
		return "memory"
	}
	return "postgres"
}
