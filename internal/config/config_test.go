package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "./orders",
		},
		Database: DatabaseConfig{
			DSN:        "postgres://localhost/geodata",
			Schema:     "geodata",
			TargetSRID: 4326,
			BatchSize:  1000,
		},
		Processing: ProcessingConfig{
			DownloadDir: "./downloads",
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(_ *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "missing schema",
			mutate:  func(c *Config) { c.Database.Schema = "" },
			wantErr: "schema",
		},
		{
			name:    "invalid target srid",
			mutate:  func(c *Config) { c.Database.TargetSRID = -1 },
			wantErr: "SRID",
		},
		{
			name:    "invalid batch size",
			mutate:  func(c *Config) { c.Database.BatchSize = 0 },
			wantErr: "batch size",
		},
		{
			name:    "missing download dir",
			mutate:  func(c *Config) { c.Processing.DownloadDir = "" },
			wantErr: "download directory",
		},
		{
			name:    "local storage without path",
			mutate:  func(c *Config) { c.Storage.LocalPath = "" },
			wantErr: "local storage path",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Storage.Type = "s3"
				c.Storage.S3.Region = "eu-north-1"
			},
			wantErr: "bucket",
		},
		{
			name: "azure without credentials",
			mutate: func(c *Config) {
				c.Storage.Type = "azure"
				c.Storage.Azure.Container = "orders"
			},
			wantErr: "account name",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "ftp" },
			wantErr: "unknown storage type",
		},
		{
			name:    "sync enabled without interval",
			mutate:  func(c *Config) { c.Sync.Interval = 0 },
			wantErr: "sync interval",
		},
		{
			name: "missing DSN is allowed",
			mutate: func(c *Config) {
				c.Database.DSN = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 9090}
	if got := cfg.Address(); got != "0.0.0.0:9090" {
		t.Errorf("Address() = %q, want 0.0.0.0:9090", got)
	}
}
