package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds all configuration for the pentagent relay server.
type Config struct {
	Port        int
	MetricsAddr string

	// Database
	DatabaseURL string // PostgreSQL connection string

	// Auth
	JWTSecret    string // Secret for connection-scoped JWTs
	ConnectToken string // Static connect token (dev / single-user mode)

	// Redis for connection liveness
	RedisURL string

	// NATS for lifecycle events ("" disables events)
	NATSURL string

	// Cloud sandbox provider
	SandboxTemplate string // template used when creating cloud sandboxes

	// AWS Secrets Manager — if set, secrets are fetched at startup using
	// IAM credentials. The secret is a JSON object with keys matching env
	// var names (e.g. PENTAGENT_JWT_SECRET). Env vars take precedence.
	SecretsARN string
}

// Load reads configuration from environment variables with sensible
// defaults. If PENTAGENT_SECRETS_ARN is set, secrets are fetched from AWS
// Secrets Manager first, then environment variables are applied on top.
func Load() (*Config, error) {
	if arn := os.Getenv("PENTAGENT_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		Port:        8080,
		MetricsAddr: envOrDefault("PENTAGENT_METRICS_ADDR", ":9091"),

		DatabaseURL: envOrDefault("PENTAGENT_DATABASE_URL", os.Getenv("DATABASE_URL")),

		JWTSecret:    os.Getenv("PENTAGENT_JWT_SECRET"),
		ConnectToken: os.Getenv("PENTAGENT_CONNECT_TOKEN"),

		RedisURL: envOrDefault("PENTAGENT_REDIS_URL", "redis://localhost:6379"),
		NATSURL:  os.Getenv("PENTAGENT_NATS_URL"),

		SandboxTemplate: envOrDefault("PENTAGENT_SANDBOX_TEMPLATE", "pentest-base"),

		SecretsARN: os.Getenv("PENTAGENT_SECRETS_ARN"),
	}

	if portStr := os.Getenv("PENTAGENT_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PENTAGENT_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}
