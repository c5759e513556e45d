/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NodeID != "node-1" {
		t.Errorf("Expected default node_id 'node-1', got '%s'", cfg.NodeID)
	}
	if cfg.BindAddr != "127.0.0.1:7400" {
		t.Errorf("Expected default bind_addr '127.0.0.1:7400', got '%s'", cfg.BindAddr)
	}
	if cfg.DataDir != "raft-data" {
		t.Errorf("Expected default data_dir 'raft-data', got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log_level 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != false {
		t.Errorf("Expected default log_json false, got %v", cfg.LogJSON)
	}
	if cfg.DiscoveryEnabled != false {
		t.Errorf("Expected default discovery_enabled false, got %v", cfg.DiscoveryEnabled)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "valid config with peers",
			cfg: &Config{
				NodeID:   "node-a",
				BindAddr: "127.0.0.1:7401",
				DataDir:  "data",
				Peers:    "node-b=127.0.0.1:7402,node-c=127.0.0.1:7403",
				LogLevel: "info",
			},
			wantErr: false,
		},
		{
			name: "empty node_id",
			cfg: &Config{
				NodeID:   "",
				BindAddr: "127.0.0.1:7400",
				DataDir:  "data",
				LogLevel: "info",
			},
			wantErr: true,
		},
		{
			name: "empty bind_addr",
			cfg: &Config{
				NodeID:   "node-1",
				BindAddr: "",
				DataDir:  "data",
				LogLevel: "info",
			},
			wantErr: true,
		},
		{
			name: "empty data_dir",
			cfg: &Config{
				NodeID:   "node-1",
				BindAddr: "127.0.0.1:7400",
				DataDir:  "",
				LogLevel: "info",
			},
			wantErr: true,
		},
		{
			name: "malformed peer entry",
			cfg: &Config{
				NodeID:   "node-1",
				BindAddr: "127.0.0.1:7400",
				DataDir:  "data",
				Peers:    "node-b",
				LogLevel: "info",
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: &Config{
				NodeID:   "node-1",
				BindAddr: "127.0.0.1:7400",
				DataDir:  "data",
				LogLevel: "invalid",
			},
			wantErr: true,
		},
		{
			name: "tls cert without key",
			cfg: &Config{
				NodeID:      "node-1",
				BindAddr:    "127.0.0.1:7400",
				DataDir:     "data",
				LogLevel:    "info",
				TLSCertFile: "server.crt",
			},
			wantErr: true,
		},
		{
			name: "discovery enabled without service name",
			cfg: &Config{
				NodeID:           "node-1",
				BindAddr:         "127.0.0.1:7400",
				DataDir:          "data",
				LogLevel:         "info",
				DiscoveryEnabled: true,
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

func TestPeerList(t *testing.T) {
	cfg := &Config{Peers: "node-b=127.0.0.1:7402, node-c=127.0.0.1:7403"}
	peers, err := cfg.PeerList()
	if err != nil {
		t.Fatalf("PeerList failed: %v", err)
	}
	if peers["node-b"] != "127.0.0.1:7402" {
		t.Errorf("Expected node-b address, got %q", peers["node-b"])
	}
	if peers["node-c"] != "127.0.0.1:7403" {
		t.Errorf("Expected node-c address, got %q", peers["node-c"])
	}

	if _, err := (&Config{Peers: "node-b"}).PeerList(); err == nil {
		t.Error("Expected error for malformed peer entry")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "raftd_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `# Test configuration
node_id = "node-a"
bind_addr = "127.0.0.1:7401"
peers = "node-b=127.0.0.1:7402"
data_dir = "/tmp/raft-a"
log_level = "debug"
log_json = true
discovery_enabled = true
discovery_service = "_raft._tcp"
`

	configPath := filepath.Join(tmpDir, "raftd.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()

	if cfg.NodeID != "node-a" {
		t.Errorf("Expected node_id 'node-a', got '%s'", cfg.NodeID)
	}
	if cfg.BindAddr != "127.0.0.1:7401" {
		t.Errorf("Expected bind_addr '127.0.0.1:7401', got '%s'", cfg.BindAddr)
	}
	if cfg.Peers != "node-b=127.0.0.1:7402" {
		t.Errorf("Expected peers 'node-b=127.0.0.1:7402', got '%s'", cfg.Peers)
	}
	if cfg.DataDir != "/tmp/raft-a" {
		t.Errorf("Expected data_dir '/tmp/raft-a', got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true, got %v", cfg.LogJSON)
	}
	if !cfg.DiscoveryEnabled {
		t.Error("Expected discovery_enabled true")
	}
	if cfg.ConfigFile != configPath {
		t.Errorf("Expected ConfigFile '%s', got '%s'", configPath, cfg.ConfigFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	origNodeID := os.Getenv(EnvNodeID)
	origBindAddr := os.Getenv(EnvBindAddr)
	origLogLevel := os.Getenv(EnvLogLevel)
	origLogJSON := os.Getenv(EnvLogJSON)
	origAdminPass := os.Getenv(EnvAdminPassword)

	defer func() {
		os.Setenv(EnvNodeID, origNodeID)
		os.Setenv(EnvBindAddr, origBindAddr)
		os.Setenv(EnvLogLevel, origLogLevel)
		os.Setenv(EnvLogJSON, origLogJSON)
		os.Setenv(EnvAdminPassword, origAdminPass)
	}()

	os.Setenv(EnvNodeID, "node-env")
	os.Setenv(EnvBindAddr, "127.0.0.1:7777")
	os.Setenv(EnvLogLevel, "debug")
	os.Setenv(EnvLogJSON, "true")
	os.Setenv(EnvAdminPassword, "testpassword")

	mgr := NewManager()
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	if cfg.NodeID != "node-env" {
		t.Errorf("Expected node_id 'node-env' from env, got '%s'", cfg.NodeID)
	}
	if cfg.BindAddr != "127.0.0.1:7777" {
		t.Errorf("Expected bind_addr '127.0.0.1:7777' from env, got '%s'", cfg.BindAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug' from env, got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true from env, got %v", cfg.LogJSON)
	}
	if cfg.AdminPassword != "testpassword" {
		t.Errorf("Expected admin_password 'testpassword' from env, got '%s'", cfg.AdminPassword)
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "raftd_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// Config file sets bind_addr to a file-provided value.
	configContent := `node_id = "node-file"
bind_addr = "127.0.0.1:9000"
data_dir = "data"
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "raftd.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	origBindAddr := os.Getenv(EnvBindAddr)
	defer os.Setenv(EnvBindAddr, origBindAddr)
	os.Setenv(EnvBindAddr, "127.0.0.1:7777")

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	// Env var should override file value.
	if cfg.BindAddr != "127.0.0.1:7777" {
		t.Errorf("Expected bind_addr '127.0.0.1:7777' (env override), got '%s'", cfg.BindAddr)
	}
	if cfg.NodeID != "node-file" {
		t.Errorf("Expected node_id 'node-file' (file value untouched by env), got '%s'", cfg.NodeID)
	}
}

func TestToTOML(t *testing.T) {
	cfg := &Config{
		NodeID:           "node-a",
		BindAddr:         "127.0.0.1:7401",
		Peers:            "node-b=127.0.0.1:7402",
		DataDir:          "/var/lib/raftd/data",
		DiscoveryService: "_raft._tcp",
		LogLevel:         "info",
		LogJSON:          false,
	}

	toml := cfg.ToTOML()

	if !contains(toml, `node_id = "node-a"`) {
		t.Error("TOML output missing node_id")
	}
	if !contains(toml, `bind_addr = "127.0.0.1:7401"`) {
		t.Error("TOML output missing bind_addr")
	}
	if !contains(toml, `peers = "node-b=127.0.0.1:7402"`) {
		t.Error("TOML output missing peers")
	}
	if !contains(toml, `data_dir = "/var/lib/raftd/data"`) {
		t.Error("TOML output missing data_dir")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "raftd_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1:7777"
	cfg.NodeID = "node-saved"

	configPath := filepath.Join(tmpDir, "subdir", "raftd.conf")
	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	loaded := mgr.Get()
	if loaded.BindAddr != "127.0.0.1:7777" {
		t.Errorf("Expected bind_addr '127.0.0.1:7777', got '%s'", loaded.BindAddr)
	}
	if loaded.NodeID != "node-saved" {
		t.Errorf("Expected node_id 'node-saved', got '%s'", loaded.NodeID)
	}
}

func TestReload(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "raftd_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `node_id = "node-1"
bind_addr = "127.0.0.1:9000"
data_dir = "data"
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "raftd.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.BindAddr != "127.0.0.1:9000" {
		t.Errorf("Expected initial bind_addr '127.0.0.1:9000', got '%s'", cfg.BindAddr)
	}

	reloadCalled := false
	mgr.OnReload(func(c *Config) {
		reloadCalled = true
	})

	newContent := `node_id = "node-1"
bind_addr = "127.0.0.1:8000"
data_dir = "data"
log_level = "debug"
`
	if err := os.WriteFile(configPath, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cfg = mgr.Get()
	if cfg.BindAddr != "127.0.0.1:8000" {
		t.Errorf("Expected reloaded bind_addr '127.0.0.1:8000', got '%s'", cfg.BindAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected reloaded log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if !reloadCalled {
		t.Error("Reload callback was not called")
	}
}

func TestGlobalManager(t *testing.T) {
	mgr := Global()
	if mgr == nil {
		t.Error("Global() returned nil")
	}

	mgr2 := Global()
	if mgr != mgr2 {
		t.Error("Global() returned different instances")
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	str := cfg.String()

	if !contains(str, "NodeID:") {
		t.Error("String() missing NodeID")
	}
	if !contains(str, "BindAddr:") {
		t.Error("String() missing BindAddr")
	}
	if !contains(str, "node-1") {
		t.Error("String() missing node id value")
	}
}

// Helper function
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
