package main

import (
  "context"
  "fmt"
  "os"
  "time"

  "github.com/yungbote/callbridge-backend/internal/clients/gcp"
  "github.com/yungbote/callbridge-backend/internal/clients/openai"
  "github.com/yungbote/callbridge-backend/internal/clients/redis"
  "github.com/yungbote/callbridge-backend/internal/clients/twilio"
  "github.com/yungbote/callbridge-backend/internal/db"
  "github.com/yungbote/callbridge-backend/internal/handlers"
  "github.com/yungbote/callbridge-backend/internal/jobs/pipeline/call_process"
  "github.com/yungbote/callbridge-backend/internal/jobs/pipeline/call_sync_dispatch"
  "github.com/yungbote/callbridge-backend/internal/jobs/runtime"
  "github.com/yungbote/callbridge-backend/internal/jobs/scheduler"
  "github.com/yungbote/callbridge-backend/internal/jobs/worker"
  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/observability"
  "github.com/yungbote/callbridge-backend/internal/repos"
  "github.com/yungbote/callbridge-backend/internal/server"
  "github.com/yungbote/callbridge-backend/internal/services"
  "github.com/yungbote/callbridge-backend/internal/utils"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  ctx := context.Background()

  // Tracing
  shutdownTracing := observability.InitOTel(ctx, log, observability.OtelConfig{
    ServiceName: "callbridge",
    Environment: utils.GetEnv("ENVIRONMENT", "development", log),
    Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
  })
  defer func() {
    _ = shutdownTracing(context.Background())
  }()

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Error("Postgres auto migration failed", "error", err)
    os.Exit(1)
  }
  thePG := postgresService.DB()

  // Repos
  log.Info("Setting up Repos from main...")
  callRepo := repos.NewCallRepo(thePG, log)
  agentRepo := repos.NewAgentRepo(thePG, log)
  companyRepo := repos.NewCompanyRepo(thePG, log)
  callAnalysisRepo := repos.NewCallAnalysisRepo(thePG, log)
  embeddingRepo := repos.NewCallTranscriptEmbeddingRepo(thePG, log)
  processingLogRepo := repos.NewProcessingLogRepo(thePG, log)
  jobRunRepo := repos.NewJobRunRepo(thePG, log)

  // Clients
  log.Info("Setting up Clients from main...")
  recordingsClient, err := twilio.NewFromEnv(log)
  if err != nil {
    log.Error("Could not init Twilio client", "error", err)
    os.Exit(1)
  }
  bucketService, err := gcp.NewBucketService(log)
  if err != nil {
    log.Error("Could not init BucketService", "error", err)
    os.Exit(1)
  }
  speechService, err := gcp.NewSpeech(log)
  if err != nil {
    log.Error("Could not init Speech client", "error", err)
    os.Exit(1)
  }
  defer speechService.Close()
  openaiClient, err := openai.NewClient(log)
  if err != nil {
    log.Error("Could not init OpenAIClient", "error", err)
    os.Exit(1)
  }
  cacheClient, err := redis.NewCache(log)
  if err != nil {
    // The cache is an optimization; run without it rather than refuse to start.
    log.Warn("Could not init Redis cache, continuing without it", "error", err)
    cacheClient = nil
  }

  // Services
  log.Info("Setting up Services from main...")
  syncIntervalMinutes := utils.GetEnvAsInt("SYNC_INTERVAL_MINUTES", 15, log)
  jobService := services.NewJobService(log, jobRunRepo, time.Duration(syncIntervalMinutes)*time.Minute)
  jobNotifier := services.NewLogJobNotifier(log)
  companyResolver := services.NewCompanyResolverService(log, companyRepo, cacheClient)
  chunkerService := services.NewChunkerService(log)
  analysisService := services.NewAnalysisService(log, openaiClient)
  groupingService := services.NewCallGroupingService(thePG, log, callRepo)

  // Jobs
  log.Info("Setting up job system from main...")
  registry := runtime.NewRegistry()
  if err := registry.Register(call_sync_dispatch.New(thePG, log, recordingsClient, callRepo, processingLogRepo, jobService)); err != nil {
    log.Error("Could not register dispatch pipeline", "error", err)
    os.Exit(1)
  }
  if err := registry.Register(call_process.New(
    thePG,
    log,
    recordingsClient,
    bucketService,
    speechService,
    openaiClient,
    chunkerService,
    analysisService,
    companyResolver,
    groupingService,
    callRepo,
    agentRepo,
    callAnalysisRepo,
    embeddingRepo,
    processingLogRepo,
  )); err != nil {
    log.Error("Could not register call process pipeline", "error", err)
    os.Exit(1)
  }

  jobWorker := worker.NewWorker(thePG, log, jobRunRepo, registry, jobNotifier)
  jobWorker.Start(ctx)

  syncScheduler := scheduler.New(log, jobService, jobRunRepo)
  syncScheduler.Start(ctx)

  // Handlers
  log.Info("Setting up handlers from main...")
  queueHandler := handlers.NewQueueHandler(jobService)
  callsHandler := handlers.NewCallsHandler(callRepo, embeddingRepo, processingLogRepo, groupingService)
  cacheHandler := handlers.NewCacheHandler(cacheClient)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    QueueHandler: queueHandler,
    CallsHandler: callsHandler,
    CacheHandler: cacheHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}
