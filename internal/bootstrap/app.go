package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/ai"
	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/config"
	"github.com/dnaforca/backend/internal/ingest"
	"github.com/dnaforca/backend/internal/model"
	rabbitmqClient "github.com/dnaforca/backend/internal/platform/rabbitmq"
	redisClient "github.com/dnaforca/backend/internal/platform/redis"
	sqliteClient "github.com/dnaforca/backend/internal/platform/sqlite"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/storage"
	"github.com/dnaforca/backend/internal/vectorstore"
	"github.com/dnaforca/backend/internal/worker"
)

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	VectorStore *vectorstore.Store
	Files       *storage.FileStore
	LLMClient   *ai.Client

	MessageWorker *worker.MessagePersistWorker
	IngestWorker  *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	db, err := sqliteClient.New(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Material{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.AssistantConfig{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, redisClient.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL,
		cfg.RabbitMQ.MessagePersistQueue,
		cfg.RabbitMQ.IngestQueue,
	)
	if err != nil {
		return nil, err
	}

	files, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	llmClient := ai.NewClient()
	embCfg := embeddingConfig(cfg)
	store, err := vectorstore.New(
		cfg.Vector.Path,
		cfg.Vector.Collection,
		cfg.Vector.Compress,
		func(embedCtx context.Context, text string) ([]float32, error) {
			return llmClient.Embed(embedCtx, embCfg, text)
		},
	)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	messageRepo := repository.NewChatMessageRepository(db)
	configRepo := repository.NewAssistantConfigRepository(db)

	if err := seedUsers(cfg, userRepo, logger); err != nil {
		return nil, err
	}

	pipeline := ingest.NewPipeline(materialRepo, configRepo, files, store, llmClient, embCfg, logger)

	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue, logger)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}
	ingestWorker := worker.NewIngestWorker(mqConn, pipeline, cfg.RabbitMQ.IngestQueue, logger)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         redisCli,
		MQConn:        mqConn,
		VectorStore:   store,
		Files:         files,
		LLMClient:     llmClient,
		MessageWorker: messageWorker,
		IngestWorker:  ingestWorker,
		StartedAt:     time.Now(),
	}, nil
}

// ChatConfig returns the base chat-completion settings; the chat service
// overlays the assistant's model and temperature per request.
func (a *App) ChatConfig() ai.ChatConfig {
	return ai.ChatConfig{
		BaseURL: a.Config.LLM.BaseURL,
		APIKey:  a.Config.LLM.APIKey,
		Model:   a.Config.LLM.Model,
	}
}

func (a *App) EmbeddingConfig() ai.EmbeddingConfig {
	return embeddingConfig(a.Config)
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func embeddingConfig(cfg *config.Config) ai.EmbeddingConfig {
	return ai.EmbeddingConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		APIKey:  cfg.Embeddings.APIKey,
		Model:   cfg.Embeddings.Model,
	}
}

// seedUsers runs the admin bootstrap and the optional JSON user import.
func seedUsers(cfg *config.Config, userRepo *repository.UserRepository, logger *zap.Logger) error {
	authService := app.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)

	if cfg.Auth.AdminPassword == "" {
		logger.Warn("admin bootstrap skipped: auth.admin_password not set")
	} else {
		created, err := authService.EnsureAdmin(cfg.Auth.AdminUsername, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("ensure admin failed: %w", err)
		}
		if created {
			logger.Info("admin account created", zap.String("username", cfg.Auth.AdminUsername))
		}
	}

	if cfg.Auth.UsersSeedFile == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Auth.UsersSeedFile); err != nil {
		return nil
	}
	imported, err := authService.ImportSeedUsers(cfg.Auth.UsersSeedFile)
	if err != nil {
		return fmt.Errorf("import seed users failed: %w", err)
	}
	if imported > 0 {
		logger.Info("seed users imported",
			zap.Int("count", imported),
			zap.String("file", cfg.Auth.UsersSeedFile))
	}
	return nil
}
