// Package config provides configuration management for the structprod
// services.
package config

import (
	"time"
)

// ServerConfig holds configuration for the evaluation HTTP service.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	DatabaseURL    string
	RedisURL       string
	CacheTTL       time.Duration
	EvalWorkers    int
}

// DefaultServerConfig returns configuration with default values.
// SQLite on local disk and no Redis cache, so a single-desk install runs
// with zero configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		RequestTimeout: 30 * time.Second,
		DatabaseURL:    "sqlite://./structprod.db",
		RedisURL:       "",
		CacheTTL:       15 * time.Minute,
		EvalWorkers:    8,
	}
}
