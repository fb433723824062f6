package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUBSUB_DRIVER", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis", cfg.PubSubDriver)
	assert.Equal(t, 50, cfg.HistoryPageSize)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Origins())
	assert.Empty(t, cfg.Kafka())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", " Production ")
	t.Setenv("PUBSUB_DRIVER", "NATS")
	t.Setenv("ALLOWED_ORIGINS", "https://bisoncoders.dev, https://www.bisoncoders.dev,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CHAT_HISTORY_LIMIT", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "nats", cfg.PubSubDriver)
	assert.Equal(t, []string{"https://bisoncoders.dev", "https://www.bisoncoders.dev"}, cfg.Origins())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka())
	assert.Equal(t, 50, cfg.HistoryPageSize)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PUBSUB_DRIVER", "pusher")
	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "chat", DatabaseName("mongodb://localhost:27017/chat"))
	assert.Equal(t, "prod", DatabaseName("mongodb+srv://u:p@cluster0.x.mongodb.net/prod?retryWrites=true"))
	assert.Equal(t, "bisoncoders", DatabaseName("mongodb://localhost:27017"))
	assert.Equal(t, "bisoncoders", DatabaseName("mongodb://localhost:27017/?tls=true"))
}
