package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/madcadaver/dbot/internal/agent"
	"github.com/madcadaver/dbot/internal/api"
	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/database/kafka"
	"github.com/madcadaver/dbot/internal/database/milvus"
	"github.com/madcadaver/dbot/internal/database/minio"
	"github.com/madcadaver/dbot/internal/database/neo4j"
	redisdb "github.com/madcadaver/dbot/internal/database/redis"
	"github.com/madcadaver/dbot/internal/embedding"
	"github.com/madcadaver/dbot/internal/llm"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/memory/store"
	"github.com/madcadaver/dbot/internal/tools"
	httpkit "github.com/madcadaver/dbot/pkg/http"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/gin-gonic/gin"
	redis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	level, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level)
	appLogger := logger.New(cfg.App.Name, "", "")

	ctx := context.Background()

	// Initialize database clients
	neo4jClient, err := neo4j.GetClient(ctx, &cfg.Databases.Neo4j)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer neo4jClient.Close(ctx)
	if err := neo4jClient.EnsureSchema(ctx); err != nil {
		appLogger.Fatal(err.Error())
	}

	milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer milvusClient.Close()
	if err := milvusClient.EnsureCollection(ctx); err != nil {
		appLogger.Fatal(err.Error())
	}

	var redisClient *redis.Client
	if cfg.Databases.Redis.Enabled {
		redisClient, err = redisdb.GetClient(&cfg.Databases.Redis)
		if err != nil {
			appLogger.Fatal(err.Error())
		}
		defer redisdb.Close()
	}

	var publisher *kafka.TurnPublisher
	if cfg.Databases.Kafka.Enabled {
		kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
		if err != nil {
			appLogger.Fatal(err.Error())
		}
		publisher = kafka.NewTurnPublisher(kafkaClient)
		defer publisher.Close()
	}

	var minioClient *minio.MinIOClient
	if cfg.Databases.MinIO.Enabled {
		minioClient, err = minio.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			appLogger.Fatal(err.Error())
		}
		if err := minioClient.EnsureBucket(ctx); err != nil {
			appLogger.Fatal(err.Error())
		}
	}

	// Embedding model and memory stores
	embedder, err := embedding.NewEmdModel(cfg.Embedding)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	graphStore := store.NewNeo4jStore(neo4jClient)
	vectorStore := store.NewMilvusStore(milvusClient, embedder)
	factStore := memory.NewFactStore(graphStore, vectorStore)
	writer := memory.NewTurnWriter(graphStore, factStore)

	profileTTL, err := time.ParseDuration(cfg.Memory.ProfileCacheTTL)
	if err != nil {
		profileTTL = 5 * time.Minute
	}
	profiles, err := memory.NewProfiles(graphStore, cfg.Memory.ProfileCacheSize, profileTTL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	// Tool registry
	toolTimeout, err := time.ParseDuration(cfg.Agent.ToolTimeout)
	if err != nil {
		toolTimeout = 60 * time.Second
	}
	registry := tools.NewRegistry(toolTimeout)

	storeKnowledge, err := tools.NewStoreKnowledge(factStore, profiles)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	if err := registry.Register(storeKnowledge); err != nil {
		appLogger.Fatal(err.Error())
	}
	if err := registry.Register(tools.NewOverthinkInput()); err != nil {
		appLogger.Fatal(err.Error())
	}
	if err := registry.Register(tools.NewInquireForDetails()); err != nil {
		appLogger.Fatal(err.Error())
	}

	// LLM client carries the full tool manifest. The web_search tool needs
	// its own model handle, so build a plain one first for it.
	extractorModel, err := llm.NewClient(cfg.LLM, llm.Options{
		Temperature: cfg.Agent.Temperature,
		MaxOutput:   cfg.Agent.MaxOutput,
	}, nil)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	if cfg.Tools.WebSearch.Enabled {
		fetchClient, err := httpkit.NewClient(cfg.Middleware.CircuitBreaker)
		if err != nil {
			appLogger.Fatal(err.Error())
		}
		webSearch := tools.NewWebSearch(cfg.Tools.WebSearch, fetchClient, extractorModel, factStore)
		if err := registry.Register(webSearch); err != nil {
			appLogger.Fatal(err.Error())
		}
	}

	if cfg.Tools.Image.Enabled {
		if minioClient == nil {
			appLogger.Fatal("the image tool requires MinIO to be enabled")
		}
		if err := registry.Register(tools.NewGenerateImage(cfg.Tools.Image, minioClient)); err != nil {
			appLogger.Fatal(err.Error())
		}
	}

	llmClient, err := llm.NewClient(cfg.LLM, llm.Options{
		Temperature: cfg.Agent.Temperature,
		MaxOutput:   cfg.Agent.MaxOutput,
	}, registry.Manifests())
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	// Decision loop and session coordination
	assembler := agent.NewAssembler(graphStore, factStore, profiles, cfg.Memory)
	loop := agent.NewLoop(llmClient, registry, assembler, writer, graphStore, profiles, publisher, cfg.Agent, cfg.Persona)
	coordinator := agent.NewCoordinator(loop, cfg.Agent.SessionMode, redisClient)

	// Gateway
	conns := api.NewConnectionManager()
	health := map[string]api.HealthCheck{
		"neo4j":  neo4jClient.HealthCheck,
		"milvus": milvusClient.HealthCheck,
	}
	if redisClient != nil {
		health["redis"] = redisdb.HealthCheck
	}
	handlers := api.NewAPI(coordinator, conns, health)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.RegisterRoutes(router, handlers)

	srv, err := httpkit.NewServer(cfg,
		httpkit.WithAddress(cfg.App.Address),
		httpkit.WithHandler(router),
	)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			appLogger.Error(err.Error())
		}
	}()
	appLogger.Info("dbot started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err.Error())
	}
	appLogger.Info("dbot stopped")
}
