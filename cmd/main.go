package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-agent/handler"
	"support-agent/internal/config"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/paramstore"
	"support-agent/internal/knowledge"
	"support-agent/internal/repository"
	"support-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	profilePath := mustEnv("PROFILE_PATH")

	profile, err := config.Load(profilePath)
	if err != nil {
		slog.Error("failed to load agent profile", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
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
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// Personality can be hot-swapped through SSM without redeploying the
	// bundled profile.
	profile.PersonalityText = ssmClient.GetParameterOrDefault(ctx, paramPrefix+"/personality", profile.PersonalityText)

	km := knowledge.NewManager()
	if err := km.LoadSources(ctx, profile.KnowledgeSources()); err != nil {
		slog.Warn("some knowledge sources failed to load", "err", err)
	}

	// ---- Agent service ----
	svc, err := usecase.NewAgentService(usecase.ServiceConfig{
		Oracle:              openaiClient,
		Store:               stateClient,
		Profile:             profile,
		Knowledge:           km,
		Model:               profile.Model,
		ConfidenceThreshold: profile.ConfidenceThreshold,
	})
	if err != nil {
		slog.Error("failed to create agent service", "err", err)
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
