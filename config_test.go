// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

package giphyproxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: "GIPHYPROXY_"})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 8443 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8443)
	}
	if cfg.TargetHost != "api.giphy.com" {
		t.Errorf("TargetHost = %q, want %q", cfg.TargetHost, "api.giphy.com")
	}
	if cfg.TargetPort != 443 {
		t.Errorf("TargetPort = %d, want %d", cfg.TargetPort, 443)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
	if time.Duration(cfg.ShutdownWait) != 5*time.Second {
		t.Errorf("ShutdownWait = %s, want %s", time.Duration(cfg.ShutdownWait), 5*time.Second)
	}
}

func TestNewConfig_Environment(t *testing.T) {
	t.Setenv("GIPHYPROXY_PORT", "9000")
	t.Setenv("GIPHYPROXY_TARGET_HOST", "backend.local")
	t.Setenv("GIPHYPROXY_TARGET_PORT", "9100")
	t.Setenv("GIPHYPROXY_LOG_LEVEL", "debug")

	cfg, err := NewConfig(env.Options{Prefix: "GIPHYPROXY_"})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9000)
	}
	if cfg.TargetHost != "backend.local" {
		t.Errorf("TargetHost = %q, want %q", cfg.TargetHost, "backend.local")
	}
	if cfg.TargetPort != 9100 {
		t.Errorf("TargetPort = %d, want %d", cfg.TargetPort, 9100)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestNewConfig_InvalidTargetPort(t *testing.T) {
	t.Setenv("GIPHYPROXY_TARGET_PORT", "70000")

	if _, err := NewConfig(env.Options{Prefix: "GIPHYPROXY_"}); err == nil {
		t.Error("expected error for out-of-range target port")
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  bool
		validate func(t *testing.T, cfg Config)
	}{
		{
			name: "valid file",
			content: `host: "127.0.0.1"
port: 9000
target_host: "backend.local"
target_port: 9100
log_level: "debug"
log_format: "text"
shutdown_wait: "2s"
`,
			validate: func(t *testing.T, cfg Config) {
				if cfg.Port != 9000 {
					t.Errorf("Port = %d, want %d", cfg.Port, 9000)
				}
				if cfg.TargetHost != "backend.local" {
					t.Errorf("TargetHost = %q, want %q", cfg.TargetHost, "backend.local")
				}
				if cfg.LogFormat != "text" {
					t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
				}
				if cfg.Address() != "127.0.0.1:9000" {
					t.Errorf("Address() = %q, want %q", cfg.Address(), "127.0.0.1:9000")
				}
				if cfg.TargetAddress() != "backend.local:9100" {
					t.Errorf("TargetAddress() = %q, want %q", cfg.TargetAddress(), "backend.local:9100")
				}
				if time.Duration(cfg.ShutdownWait) != 2*time.Second {
					t.Errorf("ShutdownWait = %s, want %s", time.Duration(cfg.ShutdownWait), 2*time.Second)
				}
			},
		},
		{
			name: "defaults fill gaps",
			content: `port: 9000
target_host: "backend.local"
target_port: 9100
`,
			validate: func(t *testing.T, cfg Config) {
				if cfg.Host != "127.0.0.1" {
					t.Errorf("Host = %q, want default %q", cfg.Host, "127.0.0.1")
				}
				if cfg.LogLevel != "info" {
					t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
				}
				if cfg.MetricsPort != 9090 {
					t.Errorf("MetricsPort = %d, want default %d", cfg.MetricsPort, 9090)
				}
			},
		},
		{
			name: "missing target host",
			content: `port: 9000
target_port: 9100
`,
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			content: "port: [not a port",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			cfg, err := LoadFile(path, env.Options{Prefix: "GIPHYPROXY_"})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFile failed: %v", err)
			}
			tt.validate(t, cfg)
		})
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	t.Setenv("GIPHYPROXY_PORT", "9999")
	t.Setenv("GIPHYPROXY_SHUTDOWN_WAIT", "2s")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `port: 9000
target_host: "backend.local"
target_port: 9100
metrics_port: 9191
shutdown_wait: "30s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFile(path, env.Options{Prefix: "GIPHYPROXY_"})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// Set variables win over the file.
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want env override %d", cfg.Port, 9999)
	}
	if time.Duration(cfg.ShutdownWait) != 2*time.Second {
		t.Errorf("ShutdownWait = %s, want env override %s", time.Duration(cfg.ShutdownWait), 2*time.Second)
	}
	// Unset variables leave file values alone; defaults must not
	// clobber them either.
	if cfg.TargetHost != "backend.local" {
		t.Errorf("TargetHost = %q, want file value %q", cfg.TargetHost, "backend.local")
	}
	if cfg.MetricsPort != 9191 {
		t.Errorf("MetricsPort = %d, want file value %d", cfg.MetricsPort, 9191)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), env.Options{Prefix: "GIPHYPROXY_"}); err == nil {
		t.Error("expected error for missing file")
	}
}
