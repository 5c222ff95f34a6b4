package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/template-mapper/internal/ai"
	"github.com/ignite/template-mapper/internal/api"
	"github.com/ignite/template-mapper/internal/config"
	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/dictionary"
	"github.com/ignite/template-mapper/internal/mapping"
	"github.com/ignite/template-mapper/internal/pkg/logger"
	"github.com/ignite/template-mapper/internal/pkg/retry"
	"github.com/ignite/template-mapper/internal/store"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// checkPortAvailable verifies that the target port is not already in use.
// workbookOpener returns a sheet-opening closure over one XLSX workbook,
// re-opening the file per sheet; SheetProvider caches the parsed terms.
func workbookOpener(path string) func(sheet string) (*dataset.Table, error) {
	return func(sheet string) (*dataset.Table, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataset.ReadXLSX(f, sheet)
	}
}

func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %v", port, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		logger.Error("port check", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-memory caches", "error", err.Error())
			redisClient = nil
		}
	}

	caps, err := buildCapabilities(ctx, cfg, redisClient)
	if err != nil {
		logger.Error("ai provider", "error", err.Error())
		os.Exit(1)
	}

	var templates api.TemplateStore
	var corrections api.CorrectionStore
	var dictProviders dictionary.Chain

	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Error("open database", "error", err.Error())
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Error("ping database", "error", err.Error())
			os.Exit(1)
		}
		templates = store.NewTemplateStore(db)
		dictProviders = append(dictProviders, dictionary.NewSQLProvider(db, ""))
		logger.Info("template store ready")
	}
	if redisClient != nil {
		corrections = store.NewCorrectionStore(redisClient, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	}
	if len(cfg.Dictionaries) > 0 {
		dictProviders = append(dictProviders, dictionary.Static(cfg.Dictionaries))
	}
	if cfg.DictionaryWorkbook != "" {
		dictProviders = append(dictProviders, dictionary.NewSheetProvider(workbookOpener(cfg.DictionaryWorkbook)))
		logger.Info("dictionary workbook ready", "path", cfg.DictionaryWorkbook)
	}

	var fetcher api.SourceFetcher
	if cfg.S3.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			logger.Error("aws config", "error", err.Error())
			os.Exit(1)
		}
		fetcher = dataset.NewS3Fetcher(s3.NewFromConfig(awsCfg), cfg.S3.Bucket)
		logger.Info("s3 source fetcher ready", "bucket", cfg.S3.Bucket)
	}

	engineCfg := mapping.DefaultConfig()
	engineCfg.LookupThreshold = cfg.Engine.LookupThreshold
	engineCfg.GenerativeConfidence = cfg.Engine.GenerativeConfidence
	engineCfg.SampleRows = cfg.Engine.SampleRows
	engineCfg.Retry = retry.Policy{
		Attempts:  cfg.Engine.RetryAttempts,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}

	handlers := api.NewHandlers(templates, corrections, fetcher, caps, dictProviders, engineCfg)
	server := api.NewServer(cfg.Server, handlers)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Stop(shutdownCtx)
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server", "error", err.Error())
		os.Exit(1)
	}
}

// buildCapabilities constructs the embedding/completion providers from
// config, fronting the embedder with a cache (Redis when available).
func buildCapabilities(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (mapping.Capabilities, error) {
	var embedder ai.Embedder
	var completer ai.Completer

	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIAPIKey == "" {
			return mapping.Capabilities{}, fmt.Errorf("OPENAI_API_KEY not set")
		}
		client := ai.NewOpenAIClient(cfg.AI.OpenAIAPIKey,
			ai.WithModels(cfg.AI.OpenAIChatModel, cfg.AI.OpenAIEmbedModel))
		embedder, completer = client, client
	case "bedrock":
		client, err := ai.NewBedrockClient(ctx, cfg.AI.BedrockRegion, cfg.AI.BedrockEmbedModel, cfg.AI.BedrockChatModel)
		if err != nil {
			return mapping.Capabilities{}, err
		}
		embedder, completer = client, client
	default:
		return mapping.Capabilities{}, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}

	var cache ai.EmbeddingCache
	if redisClient != nil {
		cache = ai.NewRedisCache(redisClient, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	} else {
		cache = ai.NewMemoryCache()
	}

	return mapping.Capabilities{
		Embedder:  ai.NewCachingEmbedder(embedder, cache, cfg.Engine.EmbedBatchSize, mapping.Normalize),
		Completer: completer,
	}, nil
}
