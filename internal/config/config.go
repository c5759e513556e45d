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

// Package config loads and validates the bootstrap configuration for a
// raftd host process: the fields a host needs before it can construct a
// raft.Node, layered from a TOML-ish file and then environment
// variables (env always wins).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvNodeID       = "RAFT_NODE_ID"
	EnvBindAddr     = "RAFT_BIND_ADDR"
	EnvPeers        = "RAFT_PEERS"
	EnvDataDir      = "RAFT_DATA_DIR"
	EnvLogLevel     = "RAFT_LOG_LEVEL"
	EnvLogJSON      = "RAFT_LOG_JSON"
	EnvDiscovery    = "RAFT_DISCOVERY"
	EnvAdminPassword = "RAFT_ADMIN_PASSWORD"
)

// Config is every field a raftd host reads at startup.
type Config struct {
	NodeID   string `toml:"node_id"`
	BindAddr string `toml:"bind_addr"`
	// Peers is a comma-separated list of id=host:port pairs describing
	// the initial voting membership. It is read on every start; raftd
	// keeps its raft state in memory, so nothing persisted overrides it.
	Peers string `toml:"peers"`
	DataDir string `toml:"data_dir"`

	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	TLSCAFile   string `toml:"tls_ca_file"`

	DiscoveryEnabled bool   `toml:"discovery_enabled"`
	DiscoveryService string `toml:"discovery_service"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	AdminPassword string `toml:"-"`
	ConfigFile    string `toml:"-"`
}

// DefaultConfig returns a Config usable for a single-node development
// cluster.
func DefaultConfig() *Config {
	return &Config{
		NodeID:           "node-1",
		BindAddr:         "127.0.0.1:7400",
		DataDir:          "raft-data",
		DiscoveryService: "_raft._tcp",
		LogLevel:         "info",
		LogJSON:          false,
	}
}

// PeerList parses Peers into id -> address pairs.
func (c *Config) PeerList() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.Peers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("config: invalid peer entry %q, want id=host:port", pair)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}

// Validate rejects a Config that raftd cannot safely start with.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id must not be empty")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("config: bind_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if _, err := c.PeerList(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("config: tls_cert_file and tls_key_file must both be set or both be empty")
	}
	if c.DiscoveryEnabled && c.DiscoveryService == "" {
		return fmt.Errorf("config: discovery_service must be set when discovery_enabled is true")
	}
	return nil
}

// String renders a redacted human-readable summary (AdminPassword is
// never included).
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NodeID: %s\n", c.NodeID)
	fmt.Fprintf(&b, "BindAddr: %s\n", c.BindAddr)
	fmt.Fprintf(&b, "Peers: %s\n", c.Peers)
	fmt.Fprintf(&b, "DataDir: %s\n", c.DataDir)
	fmt.Fprintf(&b, "DiscoveryEnabled: %v\n", c.DiscoveryEnabled)
	fmt.Fprintf(&b, "LogLevel: %s\n", c.LogLevel)
	fmt.Fprintf(&b, "LogJSON: %v\n", c.LogJSON)
	return b.String()
}

// ToTOML renders the config in the minimal `key = value` dialect
// LoadFromFile reads back.
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node_id = %q\n", c.NodeID)
	fmt.Fprintf(&b, "bind_addr = %q\n", c.BindAddr)
	fmt.Fprintf(&b, "peers = %q\n", c.Peers)
	fmt.Fprintf(&b, "data_dir = %q\n", c.DataDir)
	if c.TLSCertFile != "" {
		fmt.Fprintf(&b, "tls_cert_file = %q\n", c.TLSCertFile)
		fmt.Fprintf(&b, "tls_key_file = %q\n", c.TLSKeyFile)
	}
	if c.TLSCAFile != "" {
		fmt.Fprintf(&b, "tls_ca_file = %q\n", c.TLSCAFile)
	}
	fmt.Fprintf(&b, "discovery_enabled = %v\n", c.DiscoveryEnabled)
	fmt.Fprintf(&b, "discovery_service = %q\n", c.DiscoveryService)
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %v\n", c.LogJSON)
	return b.String()
}

// SaveToFile writes ToTOML's output to path, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// Manager owns the active Config and drives file/env layering plus
// hot-reload notification.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	callbacks []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// LoadFromFile parses a `key = value` config file (one assignment per
// line, `#` comments, quoted or bare values) into the Manager's Config,
// overwriting any field the file sets.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := unquote(strings.TrimSpace(kv[1]))
		applyField(cfg, key, val)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func applyField(cfg *Config, key, val string) {
	switch key {
	case "node_id":
		cfg.NodeID = val
	case "bind_addr":
		cfg.BindAddr = val
	case "peers":
		cfg.Peers = val
	case "data_dir":
		cfg.DataDir = val
	case "tls_cert_file":
		cfg.TLSCertFile = val
	case "tls_key_file":
		cfg.TLSKeyFile = val
	case "tls_ca_file":
		cfg.TLSCAFile = val
	case "discovery_enabled":
		cfg.DiscoveryEnabled = val == "true"
	case "discovery_service":
		cfg.DiscoveryService = val
	case "log_level":
		cfg.LogLevel = val
	case "log_json":
		cfg.LogJSON = val == "true"
	// A bare port number is accepted for convenience; it sets bind_addr
	// to 0.0.0.0:<port>, but only when BindAddr is still empty.
	case "port":
		if p, err := strconv.Atoi(val); err == nil && cfg.BindAddr == "" {
			cfg.BindAddr = fmt.Sprintf("0.0.0.0:%d", p)
		}
	}
}

// LoadFromEnv overlays any RAFT_* environment variable onto the
// Manager's Config, taking precedence over whatever LoadFromFile set.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg

	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvBindAddr); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv(EnvPeers); v != "" {
		cfg.Peers = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = v == "true"
	}
	if v := os.Getenv(EnvDiscovery); v != "" {
		cfg.DiscoveryEnabled = v == "true"
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		cfg.AdminPassword = v
	}
}

// Get returns the current Config. Callers must not mutate the returned
// pointer's fields; Reload installs an entirely new one.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(cb func(*Config)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// Reload re-reads ConfigFile (if one was ever loaded) and re-applies
// the environment on top, then fires every OnReload callback.
func (m *Manager) Reload() error {
	m.mu.Lock()
	path := m.cfg.ConfigFile
	fresh := *m.cfg
	m.cfg = &fresh
	m.mu.Unlock()

	if path != "" {
		if err := m.LoadFromFile(path); err != nil {
			return err
		}
	}
	m.LoadFromEnv()

	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager, created on first use.
func Global() *Manager {
	globalOnce.Do(func() { globalMgr = NewManager() })
	return globalMgr
}
