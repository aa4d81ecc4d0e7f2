package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/orchestrator"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:     "yaml-project",
			ListenAddr:    ":9000",
			Environment:   "production",
			SuccessPolicy: "any",
			TokenStore:    "firestore",
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			RedisConfig: config.YamlRedisConfig{Addr: "redis:6379", Enabled: true, TTL: "15m"},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:  "yaml-public-key",
				PrivateKey: "yaml-private-key",
				Subject:    "mailto:ops@yaml.com",
			},
			FCMConfig:  config.YamlFCMConfig{ProjectID: "fcm-project", ClientEmail: "sa@fcm.iam"},
			APNSConfig: config.YamlAPNSConfig{KeyID: "K", TeamID: "T", BundleID: "com.yaml.app", Production: true},
			IngestionConfig: config.YamlIngestionConfig{
				Enabled:                true,
				TopicID:                "yaml-topic",
				SubscriptionID:         "yaml-subscription",
				SubscriptionDLQTopicID: "yaml-dlq",
				NumPipelineWorkers:     5,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.True(t, cfg.Production())
		assert.Equal(t, orchestrator.PolicyAnySuccess, cfg.SuccessPolicy)
		assert.Equal(t, config.StoreFirestore, cfg.TokenStore)

		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.Equal(t, 15*time.Minute, cfg.Redis.TTL)
		assert.Equal(t, "mailto:ops@yaml.com", cfg.Vapid.Subject)
		assert.Equal(t, "fcm-project", cfg.FCM.ProjectID)
		assert.Equal(t, "com.yaml.app", cfg.APNS.BundleID)
		assert.True(t, cfg.APNS.Production)

		assert.Equal(t, "yaml-topic", cfg.Ingestion.TopicID)
		assert.Equal(t, "yaml-dlq", cfg.Ingestion.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.Ingestion.NumPipelineWorkers)
		assert.NotNil(t, cfg.Ingestion.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{ProjectID: "minimal-project"}, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Vapid.PublicKey)
		assert.Nil(t, cfg.Ingestion.PubsubConsumerConfig)
	})

	t.Run("Failure - Bad Redis TTL", func(t *testing.T) {
		_, err := config.NewConfigFromYaml(&config.YamlConfig{RedisConfig: config.YamlRedisConfig{TTL: "soon"}}, logger)
		assert.Error(t, err)
	})
}
