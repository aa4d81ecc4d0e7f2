package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/orchestrator"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	Subject    string `yaml:"subject"`
}

type YamlFCMConfig struct {
	ProjectID       string `yaml:"project_id"`
	ClientEmail     string `yaml:"client_email"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	KeyPath    string `yaml:"key_path"`
	Production bool   `yaml:"production"`
}

type YamlIngestionConfig struct {
	Enabled                bool   `yaml:"enabled"`
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (private keys, passwords) are expected from the environment.
type YamlConfig struct {
	ProjectID           string              `yaml:"project_id"`
	ListenAddr          string              `yaml:"listen_addr"`
	Environment         string              `yaml:"environment"`
	SuccessPolicy       string              `yaml:"success_policy"`
	TokenStore          string              `yaml:"token_store"`
	FirestoreCollection string              `yaml:"firestore_collection"`
	IdentityServiceURL  string              `yaml:"identity_service_url"`
	CorsConfig          YamlCorsConfig      `yaml:"cors"`
	RedisConfig         YamlRedisConfig     `yaml:"redis"`
	VapidConfig         YamlVapidConfig     `yaml:"vapid"`
	FCMConfig           YamlFCMConfig       `yaml:"fcm"`
	APNSConfig          YamlAPNSConfig      `yaml:"apns"`
	IngestionConfig     YamlIngestionConfig `yaml:"ingestion"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.RedisConfig.TTL != "" {
		parsed, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("redis.ttl: %w", err)
		}
		ttl = parsed
	}

	cfg := &Config{
		ProjectID:           baseCfg.ProjectID,
		ListenAddr:          baseCfg.ListenAddr,
		Environment:         baseCfg.Environment,
		SuccessPolicy:       orchestrator.SuccessPolicy(baseCfg.SuccessPolicy),
		TokenStore:          baseCfg.TokenStore,
		FirestoreCollection: baseCfg.FirestoreCollection,
		IdentityServiceURL:  baseCfg.IdentityServiceURL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      ttl,
		},
		Vapid: VapidConfig{
			PublicKey:  baseCfg.VapidConfig.PublicKey,
			PrivateKey: baseCfg.VapidConfig.PrivateKey,
			Subject:    baseCfg.VapidConfig.Subject,
		},
		FCM: FCMConfig{
			ProjectID:       baseCfg.FCMConfig.ProjectID,
			ClientEmail:     baseCfg.FCMConfig.ClientEmail,
			CredentialsFile: baseCfg.FCMConfig.CredentialsFile,
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			KeyPath:    baseCfg.APNSConfig.KeyPath,
			Production: baseCfg.APNSConfig.Production,
		},
		Ingestion: IngestionConfig{
			Enabled:                baseCfg.IngestionConfig.Enabled,
			TopicID:                baseCfg.IngestionConfig.TopicID,
			SubscriptionID:         baseCfg.IngestionConfig.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.IngestionConfig.SubscriptionDLQTopicID,
			NumPipelineWorkers:     baseCfg.IngestionConfig.NumPipelineWorkers,
		},
	}

	if cfg.Ingestion.SubscriptionID != "" {
		cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingestion.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"token_store", cfg.TokenStore,
		"ingestion", cfg.Ingestion.Enabled,
	)

	return cfg, nil
}
