package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/config"
	"erpmigrate/internal/logger"
)

func TestOpenStoresWithNothingConfigured(t *testing.T) {
	s, err := OpenStores(context.Background(), config.DatabaseConfig{}, logger.NopLogger())
	require.NoError(t, err)
	assert.Nil(t, s.Redis)
	assert.Nil(t, s.Mongo)
	assert.Nil(t, s.LN)
	assert.Nil(t, s.Results)
	assert.Nil(t, s.Runs)
	assert.Empty(t, s.Close(context.Background()))
}

func TestOpenStoresFallsBackWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// port 1 refuses connections on loopback
	cfg := config.DatabaseConfig{
		Redis:    config.RedisConfig{Host: "127.0.0.1", Port: 1},
		Postgres: config.PostgresConfig{Host: "127.0.0.1", Port: 1, User: "ln", DBName: "ln"},
	}
	s, err := OpenStores(ctx, cfg, logger.NopLogger())
	require.NoError(t, err)
	assert.Nil(t, s.Redis)
	assert.Nil(t, s.Results)
	assert.Nil(t, s.LN)
	assert.Empty(t, s.Close(ctx))
}

func TestCloseOnNilStores(t *testing.T) {
	var s *Stores
	assert.Empty(t, s.Close(context.Background()))
}
