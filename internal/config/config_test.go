package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
database:
  path: "test.db"
gateway:
  base_url: "https://wallet.example.com"
  secret_key: "sk_test_123"
booking:
  hold_timeout_minutes: 20
api:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Gateway.SecretKey != "sk_test_123" {
		t.Errorf("expected secret key sk_test_123, got %s", cfg.Gateway.SecretKey)
	}
	if cfg.Booking.HoldTimeoutMinutes != 20 {
		t.Errorf("expected hold timeout 20, got %d", cfg.Booking.HoldTimeoutMinutes)
	}

	// Defaults applied where the file says nothing.
	if cfg.API.HTTP.Port != 8080 {
		t.Errorf("expected default http port 8080, got %d", cfg.API.HTTP.Port)
	}
	if cfg.Booking.CancelWindowHours != 24 {
		t.Errorf("expected default cancel window 24h, got %d", cfg.Booking.CancelWindowHours)
	}
	if cfg.Booking.PollSeconds != 5 {
		t.Errorf("expected default poll interval 5s, got %d", cfg.Booking.PollSeconds)
	}
	if cfg.API.Auth.HeaderAPIKey != "x-api-key" {
		t.Errorf("expected default api key header, got %s", cfg.API.Auth.HeaderAPIKey)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("GATEWAY_SECRET", "sk_from_env")

	yamlContent := `
database:
  path: "test.db"
gateway:
  base_url: "https://wallet.example.com"
  secret_key: "${GATEWAY_SECRET}"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Gateway.SecretKey != "sk_from_env" {
		t.Errorf("expected env-expanded secret, got %s", cfg.Gateway.SecretKey)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Gateway:  GatewayConfig{BaseURL: "https://wallet.example.com", SecretKey: "sk"},
			},
			wantErr: false,
		},
		{
			name: "missing database path",
			cfg: Config{
				Gateway: GatewayConfig{BaseURL: "https://wallet.example.com", SecretKey: "sk"},
			},
			wantErr: true,
		},
		{
			name: "missing gateway url",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Gateway:  GatewayConfig{SecretKey: "sk"},
			},
			wantErr: true,
		},
		{
			name: "placeholder secret",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Gateway:  GatewayConfig{BaseURL: "https://wallet.example.com", SecretKey: "YOUR_SECRET_KEY_HERE"},
			},
			wantErr: true,
		},
		{
			name: "negative cancel window",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Gateway:  GatewayConfig{BaseURL: "https://wallet.example.com", SecretKey: "sk"},
				Booking:  BookingConfig{CancelWindowHours: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
