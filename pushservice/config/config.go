package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/orchestrator"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	StoreMemory    = "memory"
	StoreFirestore = "firestore"

	DefaultVapidSubject = "mailto:example@example.com"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact URL.
	Subject string
}

type FCMConfig struct {
	ProjectID       string
	ClientEmail     string
	PrivateKey      string
	CredentialsFile string
}

// Configured reports whether enough credentials are present to build a client.
func (c FCMConfig) Configured() bool {
	return c.CredentialsFile != "" || (c.ProjectID != "" && c.ClientEmail != "" && c.PrivateKey != "")
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	KeyPath    string
	Production bool
}

type IngestionConfig struct {
	Enabled                bool
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID   string
	ListenAddr  string
	Environment string

	SuccessPolicy       orchestrator.SuccessPolicy
	TokenStore          string
	FirestoreCollection string
	IdentityServiceURL  string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	FCM        FCMConfig
	APNS       APNSConfig
	Ingestion  IngestionConfig
}

func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("APP_ENV", func(v string) { cfg.Environment = strings.ToLower(v) })
	override("SUCCESS_POLICY", func(v string) { cfg.SuccessPolicy = orchestrator.SuccessPolicy(strings.ToLower(v)) })
	override("TOKEN_STORE", func(v string) { cfg.TokenStore = strings.ToLower(v) })
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityServiceURL = v })

	// Web push
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUBJECT", func(v string) { cfg.Vapid.Subject = v })

	// FCM. Private keys pasted into env files usually carry escaped newlines.
	override("FCM_PROJECT_ID", func(v string) { cfg.FCM.ProjectID = v })
	override("FCM_CLIENT_EMAIL", func(v string) { cfg.FCM.ClientEmail = v })
	override("FCM_PRIVATE_KEY", func(v string) { cfg.FCM.PrivateKey = strings.ReplaceAll(v, `\n`, "\n") })
	override("FCM_CREDENTIALS_FILE", func(v string) { cfg.FCM.CredentialsFile = v })

	// APNs
	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_KEY_PATH", func(v string) { cfg.APNS.KeyPath = v })
	override("APNS_PRODUCTION", func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.APNS.Production = b
		}
	})

	// Redis Overrides
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Redis.Enabled = enabled
	})

	// Ingestion
	override("INGESTION_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Ingestion.Enabled = enabled
	})
	override("TOPIC_ID", func(v string) { cfg.Ingestion.TopicID = v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.Ingestion.SubscriptionID = v
		cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.Ingestion.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.Ingestion.NumPipelineWorkers = workers
		}
	})

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.TokenStore == "" {
		cfg.TokenStore = StoreMemory
	}
	if cfg.Vapid.Subject == "" {
		cfg.Vapid.Subject = DefaultVapidSubject
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Ingestion.NumPipelineWorkers <= 0 {
		cfg.Ingestion.NumPipelineWorkers = 1
	}
	if cfg.FCM.ProjectID == "" {
		cfg.FCM.ProjectID = cfg.ProjectID
	}

	// 3. Final Validation
	policy, err := orchestrator.ParseSuccessPolicy(string(cfg.SuccessPolicy))
	if err != nil {
		return nil, fmt.Errorf("success_policy: %w", err)
	}
	cfg.SuccessPolicy = policy

	switch cfg.TokenStore {
	case StoreMemory, StoreFirestore:
	default:
		return nil, fmt.Errorf("token_store must be %q or %q, got %q", StoreMemory, StoreFirestore, cfg.TokenStore)
	}

	if cfg.TokenStore == StoreFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for the firestore token store (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Ingestion.Enabled {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when ingestion is enabled (set via YAML or PROJECT_ID env var)")
		}
		if cfg.Ingestion.SubscriptionID == "" {
			return nil, fmt.Errorf("subscription_id is required when ingestion is enabled (set via YAML or SUBSCRIPTION_ID env var)")
		}
		if cfg.Ingestion.PubsubConsumerConfig == nil {
			cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingestion.SubscriptionID)
		}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
