package config

import (
	"time"
)

// Development secrets are fine to hardcode; production must provide its own.
const developmentCookieSecret = "development-cookie-secret-do-not-use-in-prod"

func loadDevelopmentConfig(cfg *Config) {
	cfg.Environment = EnvironmentDevelopment
	cfg.DatabaseDebug = true
	cfg.ServerHost = "127.0.0.1"
	cfg.PublicURL = "http://127.0.0.1:8080"
	cfg.DatabaseFilePath = "./tmp/db.sqlite"
	cfg.KVDirectory = "./tmp/kv"
	cfg.SearchIndexDirectory = "./tmp/search"
	cfg.CookieSecret = developmentCookieSecret
	cfg.AdminExportToken = "development-export-token"
}

func loadTestConfig(cfg *Config) {
	cfg.Environment = EnvironmentTest
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
	cfg.PublicURL = "http://127.0.0.1:8080"
	cfg.DatabaseFilePath = ":memory:"
	cfg.DatabaseConnectRetryCount = 1
	cfg.DatabaseConnectRetryDelay = 10 * time.Millisecond
	cfg.KVDirectory = ""
	cfg.SearchIndexDirectory = ""
	cfg.CookieSecret = "test-cookie-secret-test-cookie-secret"
	cfg.AdminExportToken = "test-export-token"
	cfg.FirehoseEnabled = false
	cfg.FirehoseReconnectDelay = 10 * time.Millisecond
	cfg.WorkerProcesses = 1
	cfg.TaskConcurrency = 2
	cfg.GoodreadsRequestsPerSecond = 1000
}
