package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"datachat-agent/handler"
	"datachat-agent/internal/integrations/paramstore"
	"datachat-agent/internal/integrations/queryengine"
	"datachat-agent/internal/repository"
	"datachat-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	engineBaseURL := mustEnv("ENGINE_BASE_URL")
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 500)
	maxSessions := envInt("MAX_SESSIONS", 100)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	archiveClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create archive client", "err", err)
		os.Exit(1)
	}

	engineClient, err := queryengine.NewClient(ssmClient, paramPrefix, engineBaseURL)
	if err != nil {
		slog.Error("failed to create query engine client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	svc, err := usecase.NewService(ssmClient, engineClient, archiveClient, paramPrefix, maxQuestionLen, maxSessions)
	if err != nil {
		slog.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
