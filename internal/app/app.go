// Package app 根据配置装配全部组件，供 HTTP 服务与命令行工具共用。
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"kbqa-go/internal/config"
	"kbqa-go/internal/handler"
	"kbqa-go/internal/pipeline"
	"kbqa-go/internal/repository"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/database"
	"kbqa-go/pkg/embedding"
	"kbqa-go/pkg/kafka"
	"kbqa-go/pkg/llm"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/storage"
	"kbqa-go/pkg/tika"
	"kbqa-go/pkg/token"
	"kbqa-go/pkg/vector"
)

// App 持有装配好的依赖。testing 模式下 Redis、Kafka 与 MinIO 均为空。
type App struct {
	Config *config.Config

	DB       *gorm.DB
	Redis    *redis.Client
	Index    vector.Index
	Store    storage.ObjectStore
	Producer *kafka.Producer
	Consumer *kafka.Consumer

	Processor *pipeline.Processor
	JWT       *token.JWTManager
	Users     service.UserService
	Sessions  service.SessionService
	Knowledge service.KnowledgeService
	Contexts  service.ContextService
	History   service.HistoryService
	Chat      service.ChatService
}

// New 按配置创建全部组件。失败时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	// 1. 数据库
	if a.DB, err = database.Open(cfg.Database); err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	// 2. 向量化与向量库
	embedder := embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	if a.Index, err = vector.New(cfg.Vector, embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("初始化向量库失败: %w", err)
	}

	// 3. 对象存储
	if cfg.Testing {
		a.Store = storage.NewMemoryStore()
	} else if a.Store, err = storage.NewMinIOStore(ctx, cfg.MinIO); err != nil {
		return nil, fmt.Errorf("初始化 MinIO 失败: %w", err)
	}

	// 4. Repository
	userRepo := repository.NewUserRepository(a.DB)
	kbRepo := repository.NewKnowledgeBaseRepository(a.DB)
	docRepo := repository.NewDocumentRepository(a.DB)
	chunkRepo := repository.NewChunkRepository(a.DB)
	sessionRepo := repository.NewChatSessionRepository(a.DB)
	convRepo := repository.NewConversationRepository(a.DB)

	// 5. 文档处理管道
	var binary pipeline.BinaryExtractor
	if !cfg.Testing {
		binary = tika.NewClient(cfg.Tika)
	}
	a.Processor = pipeline.NewProcessor(a.Store, pipeline.NewExtractor(binary), embedder, a.Index, docRepo, chunkRepo, cfg.RAG)

	var dispatcher pipeline.Dispatcher = pipeline.NewInlineDispatcher(a.Processor)
	if !cfg.Testing {
		if a.Redis, err = database.NewRedis(ctx, cfg.Database.Redis); err != nil {
			return nil, fmt.Errorf("初始化 Redis 失败: %w", err)
		}
		a.Producer = kafka.NewProducer(cfg.Kafka)
		a.Consumer = kafka.NewConsumer(cfg.Kafka, a.Processor, kafka.NewRedisAttempts(a.Redis))
		dispatcher = a.Producer
	}

	// 6. Service
	a.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	a.Users = service.NewUserService(userRepo, a.JWT)
	a.Sessions = service.NewSessionService(sessionRepo, convRepo)
	a.Knowledge = service.NewKnowledgeService(kbRepo, docRepo, chunkRepo, a.Index, a.Store, dispatcher, cfg.RAG)
	a.Contexts = service.NewContextService(embedder, a.Index, chunkRepo, cfg.RAG, cfg.Vector.Backend)
	a.History = service.NewHistoryService(convRepo, cfg.RAG)
	a.Chat = service.NewChatService(a.Sessions, a.Contexts, a.History, convRepo, llm.NewClient(cfg.LLM, cfg.Testing), cfg.LLM)

	ready = true
	log.Infof("[App] 组件初始化完成, vector: %s, database: %s, testing: %v", cfg.Vector.Backend, cfg.Database.Driver, cfg.Testing)
	return a, nil
}

// Router 返回注册了全部路由的 gin 引擎。
func (a *App) Router() *gin.Engine {
	checks := map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return handler.NewRouter(a.Config.Server.Mode, handler.Services{
		JWT:          a.JWT,
		Users:        a.Users,
		Sessions:     a.Sessions,
		Knowledge:    a.Knowledge,
		Contexts:     a.Contexts,
		Chat:         a.Chat,
		HealthChecks: checks,
	})
}

// RunWorkers 在非 testing 模式下运行 Kafka 消费者，直到 ctx 结束。
func (a *App) RunWorkers(ctx context.Context) error {
	if a.Consumer == nil {
		<-ctx.Done()
		return nil
	}
	return a.Consumer.Run(ctx)
}

// Close 释放所有外部连接。
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			log.Warnf("[App] 关闭 Kafka 生产者失败: %v", err)
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			log.Warnf("[App] 关闭向量库失败: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
