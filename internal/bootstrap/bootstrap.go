package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docqa-assistant/internal/config"
	"github.com/kirillkom/docqa-assistant/internal/conversation"
	"github.com/kirillkom/docqa-assistant/internal/core/usecase"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/classifier/rules"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/docqa-assistant/internal/observability/logging"
	"github.com/kirillkom/docqa-assistant/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue      *nats.Queue
	Snapshots  *postgres.ConversationStore
	StateCache *conversation.Cache
	Metrics    *metrics.HTTPServerMetrics
	AskUC      *usecase.AskUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	metadataStore := postgres.NewMetadataStore(db)
	if err := metadataStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure metadata schema: %w", err)
	}
	snapshotStore := postgres.NewConversationStore(db)
	if err := snapshotStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	detector, err := rules.NewDetector()
	if err != nil {
		return nil, fmt.Errorf("init domain detector: %w", err)
	}
	reranker := usecase.NewReranker(detector.BoostProfiles())

	semanticLimiter := rate.NewLimiter(rate.Limit(cfg.GroundingSemanticRPS), cfg.GroundingSemanticBurst)
	grounding := usecase.NewGroundingValidator(generator, semanticLimiter, usecase.GroundingConfig{
		MinKeywordOverlap:    cfg.GroundingMinOverlap,
		KeywordConfidenceCap: cfg.GroundingConfidenceCap,
		MinMappingConfidence: cfg.GroundingMinMapConfidence,
	}, logger)

	stateCache := conversation.NewCache(
		time.Duration(cfg.ConversationTTLMinutes)*time.Minute,
		conversation.WithLogger(logger),
	)
	stateCache.StartSweeper(ctx, time.Duration(cfg.CacheSweepIntervalSecond)*time.Second)

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	stageFloor := time.Duration(cfg.StageFloorMillis) * time.Millisecond

	askUC := usecase.NewAskUseCase(usecase.AskDeps{
		Lexical:    vectorDB,
		Vector:     vectorDB,
		Embedder:   embedder,
		Generator:  generator,
		Classifier: detector,
		Metadata:   metadataStore,
		States:     stateCache,
		Snapshots:  snapshotStore,
		Queue:      queue,
		Reranker:   reranker,
		Grounding:  grounding,
		Logger:     logger,
		Observer: func(stage string, elapsed time.Duration, softExceeded bool) {
			httpMetrics.RecordStage(service, stage, elapsed, softExceeded)
		},
	}, usecase.AskConfig{
		RetrievalLimit: cfg.RetrievalLimit,
		FinalK:         cfg.FinalTopK,
		MMRLambda:      cfg.MMRLambda,
		Fusion: usecase.FusionConfig{
			RRFK:          cfg.FusionRRFK,
			LexicalWeight: cfg.FusionLexicalWeight,
			VectorWeight:  cfg.FusionVectorWeight,
		},
		StageFloors: map[string]time.Duration{
			usecase.StageDomainDetect: stageFloor,
			usecase.StageRetrieval:    stageFloor,
			usecase.StageGeneration:   stageFloor,
			usecase.StageGrounding:    stageFloor,
		},
	})

	return &App{
		Config:     cfg,
		Queue:      queue,
		Snapshots:  snapshotStore,
		StateCache: stateCache,
		Metrics:    httpMetrics,
		AskUC:      askUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
