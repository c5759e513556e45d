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

/*
raftd is a reference host binary embedding the raft package behind a
TCP transport: it wires internal/config, internal/logging,
internal/compression, internal/discovery, internal/transport and
internal/memstore around a *raft.Node, and drops into an interactive
inspector (pkg/cli) once running.

Usage:

	raftd --node-id node-a --bind 127.0.0.1:7401 --peers node-b=127.0.0.1:7402,node-c=127.0.0.1:7403
	raftd --config /etc/raftd/raftd.conf
	raftd --node-id node-a --bind 127.0.0.1:7401 --discover
*/
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"raft/internal/compression"
	"raft/internal/config"
	"raft/internal/discovery"
	"raft/internal/logging"
	"raft/internal/memstore"
	"raft/internal/transport"
	tlsutil "raft/internal/tls"
	"raft/pkg/cli"
	"raft/raft"
)

func main() {
	configFile := flag.String("config", "", "Path to a raftd config file")
	nodeID := flag.String("node-id", "", "This node's identity")
	bindAddr := flag.String("bind", "", "RPC listen address")
	peersFlag := flag.String("peers", "", "Comma-separated id=addr peer list")
	dataDir := flag.String("data-dir", "", "Directory for TLS certificates (state is in-memory)")
	discover := flag.Bool("discover", false, "Advertise and browse for peers via mDNS instead of --peers")
	logLevel := flag.String("log-level", "", "debug|info|warn|error")
	logJSON := flag.Bool("log-json", false, "Emit JSON-formatted logs")
	useTLS := flag.Bool("tls", false, "Enable TLS between nodes (self-signed, generated under --data-dir)")
	interactive := flag.Bool("interactive", true, "Drop into the interactive inspector once running")
	flag.Usage = func() { usage().PrintUsage() }
	flag.Parse()

	mgr := config.NewManager()
	if *configFile != "" {
		if err := mgr.LoadFromFile(*configFile); err != nil {
			fatal("load config: %v", err)
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["node-id"] {
		cfg.NodeID = *nodeID
	}
	if explicit["bind"] {
		cfg.BindAddr = *bindAddr
	}
	if explicit["peers"] {
		cfg.Peers = *peersFlag
	}
	if explicit["data-dir"] {
		cfg.DataDir = *dataDir
	}
	if explicit["discover"] {
		cfg.DiscoveryEnabled = *discover
	}
	if explicit["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if explicit["log-json"] {
		cfg.LogJSON = *logJSON
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("raftd").With("node", cfg.NodeID)

	peers, err := resolvePeers(cfg)
	if err != nil {
		fatal("%v", err)
	}

	var tlsConfig *tls.Config
	if *useTLS {
		certPath, keyPath := cfg.TLSCertFile, cfg.TLSKeyFile
		switch {
		case certPath != "" && keyPath != "":
		case cfg.DataDir != "":
			certPath = filepath.Join(cfg.DataDir, "server.crt")
			keyPath = filepath.Join(cfg.DataDir, "server.key")
		default:
			_, certPath, keyPath = tlsutil.GetDefaultCertPaths()
		}
		if err := tlsutil.EnsureCertificates(certPath, keyPath, tlsutil.DefaultCertConfig()); err != nil {
			fatal("ensure TLS certificates: %v", err)
		}
		loaded, err := tlsutil.LoadTLSConfig(certPath, keyPath)
		if err != nil {
			fatal("load TLS config: %v", err)
		}
		tlsConfig = loaded
	}

	var discoverySvc *discovery.Service
	if cfg.DiscoveryEnabled {
		discoverySvc, err = discovery.NewService(discovery.DiscoveryConfig{
			NodeID:      cfg.NodeID,
			BindAddr:    cfg.BindAddr,
			ServiceName: cfg.DiscoveryService,
			Enabled:     true,
		})
		if err != nil {
			fatal("start discovery: %v", err)
		}
		defer discoverySvc.Close()

		found, browseErr := discoverySvc.Browse(3 * time.Second)
		if browseErr != nil {
			log.Warn("mDNS browse failed", "error", browseErr)
		}
		for _, n := range found {
			if n.NodeID != cfg.NodeID {
				peers[raft.NodeID(n.NodeID)] = n.BindAddr
			}
		}
	}

	members := []raft.NodeID{raft.NodeID(cfg.NodeID)}
	for id := range peers {
		members = append(members, id)
	}
	storage := memstore.NewStorage(members...)

	tr, err := transport.New(transport.Config{
		BindAddr:       cfg.BindAddr,
		Peers:          peers,
		TLSConfig:      tlsConfig,
		MaxConnections: 256,
		Compression:    compression.DefaultConfig(),
	})
	if err != nil {
		fatal("construct transport: %v", err)
	}

	raftCfg := raft.DefaultConfig(raft.NodeID(cfg.NodeID))
	raftCfg.Logger = logging.NewAdapter("raft").With("node", cfg.NodeID)

	node, err := raft.NewNode(raftCfg, storage, tr)
	if err != nil {
		fatal("construct node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Start(ctx); err != nil {
		fatal("start node: %v", err)
	}
	defer node.Shutdown()

	go func() {
		if err := tr.Serve(ctx, node); err != nil {
			log.Error("transport serve exited", "error", err)
		}
	}()

	log.Info("raftd started", "bind", cfg.BindAddr, "peers", len(peers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *interactive {
		insp, err := cli.NewInspector(&nodeMetricsSource{node: node})
		if err != nil {
			fatal("start inspector: %v", err)
		}
		go func() {
			<-sigCh
			insp.Close()
		}()
		if err := insp.Run(); err != nil {
			log.Warn("inspector exited", "error", err)
		}
		return
	}

	<-sigCh
	log.Info("shutting down")
}

// nodeMetricsSource adapts *raft.Node.Metrics() to cli.MetricsSource,
// keeping pkg/cli free of a raft import.
type nodeMetricsSource struct {
	node *raft.Node
}

func (s *nodeMetricsSource) MetricsSummary() cli.NodeSummary {
	m := s.node.Metrics()
	members := make([]string, 0, len(m.Membership.AllMembers()))
	for id := range m.Membership.AllMembers() {
		members = append(members, string(id))
	}
	peers := make([]cli.PeerSummary, 0, len(m.Peers))
	for id, p := range m.Peers {
		peers = append(peers, cli.PeerSummary{
			ID:         string(id),
			MatchIndex: p.MatchIndex,
			NextIndex:  p.NextIndex,
			Lagging:    p.Lagging,
		})
	}
	leader := ""
	if m.LeaderID != nil {
		leader = string(*m.LeaderID)
	}
	return cli.NodeSummary{
		ID:          string(m.ID),
		Role:        m.Role.String(),
		CurrentTerm: m.CurrentTerm,
		LeaderID:    leader,
		LastLogId:   m.LastLogId.String(),
		CommitIndex: m.CommitIndex,
		LastApplied: m.LastApplied,
		Members:     members,
		Peers:       peers,
	}
}

func resolvePeers(cfg *config.Config) (map[raft.NodeID]string, error) {
	raw, err := cfg.PeerList()
	if err != nil {
		return nil, err
	}
	peers := make(map[raft.NodeID]string, len(raw))
	for id, addr := range raw {
		peers[raft.NodeID(id)] = addr
	}
	return peers, nil
}

func fatal(format string, args ...any) {
	cli.PrintError(format, args...)
	os.Exit(1)
}

// usage builds the formatter behind -h/--help and flag-parse errors.
func usage() *cli.HelpFormatter {
	h := cli.NewHelpFormatter("raftd", "1.0.0")
	h.AddCommand(cli.Command{Name: "--config", Description: "path to a raftd config file"})
	h.AddCommand(cli.Command{Name: "--node-id", Description: "this node's identity"})
	h.AddCommand(cli.Command{Name: "--bind", Description: "RPC listen address"})
	h.AddCommand(cli.Command{Name: "--peers", Description: "comma-separated id=addr peer list"})
	h.AddCommand(cli.Command{Name: "--discover", Description: "advertise and browse for peers via mDNS"})
	h.AddCommand(cli.Command{Name: "--tls", Description: "enable TLS between nodes"})
	h.AddCommand(cli.Command{Name: "--log-level", Description: "debug|info|warn|error"})
	h.AddCommand(cli.Command{Name: "--interactive", Description: "drop into the interactive inspector once running"})
	return h
}
