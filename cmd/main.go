package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-relay/handler"
	"chat-relay/internal/config"
	"chat-relay/internal/integrations/gemini"
	"chat-relay/internal/integrations/line"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/observability"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	var awsCfg aws.Config
	if cfg.HistoryBackend == config.BackendDynamoDB || cfg.ParamPrefix != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}

	// ---- Secrets ----
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		secrets, err := paramstore.NewSecrets(ssmClient, cfg.ParamPrefix)
		if err != nil {
			slog.Error("failed to create secret resolver", "err", err)
			os.Exit(1)
		}
		if err := cfg.ResolveSecrets(ctx, secrets); err != nil {
			slog.Error("failed to resolve secrets", "prefix", cfg.ParamPrefix, "err", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	store, closeStore := mustHistoryStore(ctx, cfg, awsCfg)
	defer closeStore()

	model := mustModelClient(ctx, cfg)

	lineClient, err := line.New(cfg.LineChannelSecret, cfg.LineChannelToken)
	if err != nil {
		slog.Error("failed to create LINE client", "err", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	// ---- Handler ----
	conversation, err := usecase.NewConversationService(store, model, usecase.Config{
		Scope:           cfg.HistoryScope,
		MaxContextTurns: cfg.MaxContextTurns,
	}, usecase.WithLogger(logger), usecase.WithRecorder(metrics))
	if err != nil {
		slog.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(lineClient, conversation, handler.Config{
		ReplyMode: handler.ReplyMode(cfg.ReplyMode),
	}, handler.WithLogger(logger), handler.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting chat relay",
		"lambda", cfg.Lambda(),
		"provider", cfg.ModelProvider,
		"backend", cfg.HistoryBackend,
		"scope", cfg.HistoryScope,
		"reply_mode", cfg.ReplyMode,
	)
	if cfg.Lambda() {
		lambda.Start(h.Handle)
		return
	}
	serveHTTP(cfg.Addr(), h.Router())
}

func mustHistoryStore(ctx context.Context, cfg config.Config, awsCfg aws.Config) (repository.Store, func()) {
	if cfg.HistoryBackend == config.BackendGCS {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			slog.Error("failed to create GCS client", "err", err)
			os.Exit(1)
		}
		store, err := repository.NewGCS(client.Bucket(cfg.HistoryBucket))
		if err != nil {
			slog.Error("failed to create GCS history store", "err", err)
			os.Exit(1)
		}
		return store, func() { _ = client.Close() }
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.HistoryTable)
	if err != nil {
		slog.Error("failed to create DynamoDB history store", "err", err)
		os.Exit(1)
	}
	return store, func() {}
}

func mustModelClient(ctx context.Context, cfg config.Config) usecase.ModelClient {
	if cfg.ModelProvider == config.ProviderOpenAI {
		client, err := openai.NewClient(cfg.OpenAIAPIKey, nil,
			openai.WithModel(cfg.ModelName),
			openai.WithBaseURL(cfg.OpenAIBaseURL),
		)
		if err != nil {
			slog.Error("failed to create OpenAI client", "err", err)
			os.Exit(1)
		}
		return client
	}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.WithModel(cfg.ModelName))
	if err != nil {
		slog.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}
	return client
}

func serveHTTP(addr string, router http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
	}
	slog.Info("shutdown complete")
}
