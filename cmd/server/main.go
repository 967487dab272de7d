// Package main 是应用程序的入口点。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/internal/handler"
	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/middleware"
	"fitcoach-go/internal/model"
	"fitcoach-go/internal/pipeline"
	"fitcoach-go/internal/repository"
	"fitcoach-go/internal/service"
	"fitcoach-go/pkg/database"
	"fitcoach-go/pkg/embedding"
	"fitcoach-go/pkg/es"
	"fitcoach-go/pkg/kafka"
	"fitcoach-go/pkg/llm"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"
	"fitcoach-go/pkg/storage"
	"fitcoach-go/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	knowledgeCacheTTL = time.Minute
	seedFile          = "initfile/knowledge_base.json"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("FITCOACH_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	m := metrics.New()

	// 3. 初始化数据库、Redis 和对象存储
	db, err := database.InitMySQL(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	if err := db.AutoMigrate(&model.BehaviorMemoryRecord{}, &model.ConversationTurn{}); err != nil {
		log.Fatal("数据表迁移失败", err)
	}
	rdb, err := database.InitRedis(cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	minioClient, err := storage.InitMinIO(cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}

	// Elasticsearch 只用于后台全文检索，不可用时对话照常工作
	var knowledgeIndex es.KnowledgeIndex
	if esClient, err := es.NewClient(cfg.Elasticsearch); err != nil {
		log.Warnf("Elasticsearch 初始化失败，知识库全文检索不可用: %v", err)
	} else {
		knowledgeIndex = es.NewKnowledgeIndex(esClient, cfg.Elasticsearch.IndexName)
	}

	lex := lexicon.Default()
	if cfg.Assistant.LexiconPath != "" {
		if lex, err = lexicon.Load(cfg.Assistant.LexiconPath); err != nil {
			log.Fatal("加载词库失败", err)
		}
	}

	// 4. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(rdb)
	memoryRepo := repository.NewBehaviorMemoryRepository(db)
	archiveRepo := repository.NewTurnArchiveRepository(db)
	knowledgeRepo := repository.NewKnowledgeRepository(
		storage.NewMinioStore(minioClient, cfg.MinIO.BucketName), cfg.MinIO.KnowledgeObject, knowledgeCacheTTL)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	embeddingClient := embedding.NewClient(cfg.Embedding, m)
	llmClient := llm.NewClient(cfg.LLM, m)
	producer := kafka.NewProducer(cfg.Kafka)

	assistant := cfg.Assistant
	conversationService := service.NewConversationService(conversationRepo, m)
	memoryService := service.NewBehaviorMemoryService(memoryRepo, lex)
	knowledgeService := service.NewKnowledgeService(knowledgeRepo, embeddingClient, llmClient, lex, assistant, cfg.LLM.Generation, m)
	knowledgeAdminService := service.NewKnowledgeAdminService(knowledgeRepo, knowledgeIndex)
	adminService := service.NewAdminService(archiveRepo, memoryService)
	chatService := service.NewChatService(service.ChatServiceDeps{
		Conversations: conversationService,
		Memory:        memoryService,
		Knowledge:     knowledgeService,
		Emotion:       service.NewEmotionDetector(lex, assistant.Thresholds.EmotionScoreFloor),
		Churn:         service.NewChurnScorer(assistant.Thresholds, assistant.ContactHandle),
		Sales:         service.NewSalesIntelligence(lex, assistant.ContactHandle, assistant.PlatformName),
		Safety:        service.NewSafetyGuard(lex, assistant.ContactHandle),
		Lexicon:       lex,
		Publisher:     producer,
		Metrics:       m,
		Assistant:     assistant,
	})

	// 6. 启动后台 Kafka 消费者，把对话轮次归档到 MySQL
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	go kafka.StartConsumer(bgCtx, cfg.Kafka, pipeline.NewProcessor(archiveRepo), rdb)

	// 6.1 知识库为空时从 initfile 导入初始条目
	go seedKnowledge(bgCtx, seedFile, knowledgeAdminService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(m), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "redis unavailable", "data": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": nil})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	chatHandler := handler.NewChatHandler(chatService, jwtManager)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeAdminService)
	adminHandler := handler.NewAdminHandler(adminService)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.OptionalAuthMiddleware(jwtManager))
	{
		apiV1.POST("/chat/messages", chatHandler.SendMessage)
		apiV1.GET("/chat/ws", chatHandler.Handle)
		apiV1.GET("/conversations", handler.NewConversationHandler(conversationService).GetConversations)
	}

	admin := r.Group("/api/v1/admin")
	// 管理接口需要管理密钥或 ADMIN 角色的 token
	admin.Use(middleware.AdminAuthMiddleware(jwtManager, cfg.Admin.KeyHash))
	{
		knowledge := admin.Group("/knowledge")
		{
			knowledge.GET("", knowledgeHandler.ListEntries)
			knowledge.POST("", knowledgeHandler.UpsertEntry)
			knowledge.GET("/search", knowledgeHandler.Search)
			knowledge.POST("/reindex", knowledgeHandler.Reindex)
			knowledge.GET("/:id", knowledgeHandler.GetEntry)
			knowledge.PUT("/:id", knowledgeHandler.UpsertEntry)
			knowledge.DELETE("/:id", knowledgeHandler.DeleteEntry)
		}
		admin.GET("/turns", adminHandler.ListTurns)
		admin.GET("/memory/:userId", adminHandler.GetUserMemory)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	cancelBg()
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Errorf("关闭 Redis 连接失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// seedKnowledge 在知识库为空时导入种子文件中的条目（幂等）。
func seedKnowledge(ctx context.Context, path string, admin service.KnowledgeAdminService) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("seedKnowledge: 种子文件 '%s' 不存在或不可读，跳过初始化导入", path)
		return
	}

	existing, err := admin.List(ctx)
	if err != nil {
		log.Warnf("seedKnowledge: 读取知识库失败，跳过初始化导入: %v", err)
		return
	}
	if len(existing) > 0 {
		log.Infof("seedKnowledge: 知识库已有 %d 条，跳过初始化导入", len(existing))
		return
	}

	var entries []model.KnowledgeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warnf("seedKnowledge: 解析种子文件失败: %v", err)
		return
	}
	imported := 0
	for _, e := range entries {
		if _, err := admin.Upsert(ctx, e); err != nil {
			log.Warnf("seedKnowledge: 导入条目失败: %s, err=%v", e.ID, err)
			continue
		}
		imported++
	}
	log.Infof("seedKnowledge: 导入完成, 共 %d 条", imported)
}
