package server

import (
	"testing"

	"dispatch/pkg/config"
	"dispatch/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func init() {
	logger.Init("error")
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{Name: "test-app"},
		GRPC: config.GRPCConfig{
			Port:      50051,
			KeepAlive: config.KeepAliveConfig{},
		},
	}

	srv := New(cfg)
	assert.NotNil(t, srv)
	assert.Equal(t, "test-app", srv.serviceName)
}

func TestNewServer_Development(t *testing.T) {
	cfg := &config.Config{
		App:  config.AppConfig{Name: "test-app", Environment: "development"},
		GRPC: config.GRPCConfig{Port: 50052},
	}

	srv := New(cfg)
	assert.NotNil(t, srv)
}
