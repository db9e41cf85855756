package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "SWEEP_INTERVAL", "SWEEP_SCHEDULE",
		"SWEEP_TIMEOUT", "WARNING_WINDOW", "NOTIFIER_DRIVER", "SMTP_SERVER", "SMTP_PORT",
		"RABBITMQ_URL", "REDIS_RATE_LIMIT_PREFIX", "DB_MAX_CONNS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Fatalf("expected default sweep interval 24h, got %s", cfg.SweepInterval)
	}
	if cfg.WarningWindow != 72*time.Hour {
		t.Fatalf("expected default warning window 72h, got %s", cfg.WarningWindow)
	}
	if cfg.NotifierDriver != NotifierDriverLog {
		t.Fatalf("expected log notifier by default, got %q", cfg.NotifierDriver)
	}
	if cfg.SweepSpec() != "@every 24h0m0s" {
		t.Fatalf("unexpected sweep spec %q", cfg.SweepSpec())
	}
}

func TestLoadConfig_ExplicitScheduleWins(t *testing.T) {
	resetEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SWEEP_SCHEDULE", "0 3 * * *")
	t.Setenv("SWEEP_INTERVAL", "6h")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SweepInterval != 6*time.Hour {
		t.Fatalf("expected interval 6h, got %s", cfg.SweepInterval)
	}
	if cfg.SweepSpec() != "0 3 * * *" {
		t.Fatalf("expected explicit schedule, got %q", cfg.SweepSpec())
	}
}

func TestLoadConfig_ScheduleSkipsIntervalTimeoutCheck(t *testing.T) {
	resetEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SWEEP_SCHEDULE", "*/5 * * * *")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("SWEEP_TIMEOUT", "2m")

	if _, err := LoadConfig(t.TempDir()); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	resetEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without database url",
			env:     map[string]string{"STORE_DRIVER": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown store driver",
			env:     map[string]string{"STORE_DRIVER": "mongo"},
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "smtp without server",
			env:     map[string]string{"STORE_DRIVER": "memory", "NOTIFIER_DRIVER": "smtp"},
			wantErr: "SMTP_SERVER",
		},
		{
			name:    "rabbitmq without url",
			env:     map[string]string{"STORE_DRIVER": "memory", "NOTIFIER_DRIVER": "rabbitmq"},
			wantErr: "RABBITMQ_URL",
		},
		{
			name:    "timeout not shorter than interval",
			env:     map[string]string{"STORE_DRIVER": "memory", "SWEEP_INTERVAL": "30m", "SWEEP_TIMEOUT": "30m"},
			wantErr: "SWEEP_TIMEOUT",
		},
		{
			name:    "timeout longer than short interval",
			env:     map[string]string{"STORE_DRIVER": "memory", "SWEEP_INTERVAL": "10m"},
			wantErr: "SWEEP_TIMEOUT",
		},
		{
			name:    "non-positive warning window",
			env:     map[string]string{"STORE_DRIVER": "memory", "WARNING_WINDOW": "0s"},
			wantErr: "WARNING_WINDOW",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(t.TempDir())
			if err == nil {
				t.Fatalf("expected error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error to mention %s, got %v", tt.wantErr, err)
			}
		})
	}
}
