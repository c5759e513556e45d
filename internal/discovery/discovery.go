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

// Package discovery finds other raftd nodes on the local network
// segment over mDNS, for bootstrapping a cluster's initial membership
// or locating an existing cluster to join as a non-voter without
// requiring every node's address to be known ahead of time.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"

	raerrors "raft/internal/errors"
)

// DiscoveryConfig configures one Service instance.
type DiscoveryConfig struct {
	// NodeID advertises this node's raft.NodeID in the TXT record.
	NodeID string
	// BindAddr is this node's raft RPC listen address ("host:port"),
	// advertised so discoverers know where to send AppendEntries/Vote.
	BindAddr string
	// ServiceName is the mDNS service type, e.g. "_raft._tcp". Defaults
	// to DefaultServiceName when empty.
	ServiceName string
	// Enabled controls whether this Service advertises itself. A
	// discovery client that only browses (e.g. raft-discover) sets
	// this false.
	Enabled bool
}

// DefaultServiceName is the mDNS service type raftd advertises and
// browses under absent an explicit override.
const DefaultServiceName = "_raft._tcp"

// DiscoveredNode is one peer found by Browse.
type DiscoveredNode struct {
	NodeID   string
	BindAddr string
	Host     string
}

// Service advertises this node (if Enabled) and/or browses for peers.
type Service struct {
	cfg    DiscoveryConfig
	server *mdns.Server
}

func serviceName(name string) (string, error) {
	if name == "" {
		name = DefaultServiceName
	}
	fq := dns.Fqdn(name + ".local")
	if !dns.IsDomainName(fq) {
		return "", fmt.Errorf("discovery: %q is not a valid mDNS service name", name)
	}
	return name, nil
}

// NewService validates cfg and, if cfg.Enabled, starts advertising this
// node immediately.
func NewService(cfg DiscoveryConfig) (*Service, error) {
	svc, err := serviceName(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	cfg.ServiceName = svc

	s := &Service{cfg: cfg}
	if !cfg.Enabled {
		return s, nil
	}

	_, portStr, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid bind_addr %q: %w", cfg.BindAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid port in bind_addr %q: %w", cfg.BindAddr, err)
	}

	txt := []string{
		"node_id=" + cfg.NodeID,
		"bind_addr=" + cfg.BindAddr,
	}

	zone, err := mdns.NewMDNSService(cfg.NodeID, cfg.ServiceName, "", "", port, nil, txt)
	if err != nil {
		return nil, raerrors.AdvertiseFailed(err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, raerrors.AdvertiseFailed(err)
	}
	s.server = server
	return s, nil
}

// Close stops advertising, if this Service was started with Enabled.
func (s *Service) Close() error {
	if s.server != nil {
		return s.server.Shutdown()
	}
	return nil
}

// Browse searches for DefaultServiceName (or cfg.ServiceName) peers for
// up to timeout and returns whatever it found, deduplicated by NodeID.
// An empty result with a nil error means the search completed cleanly
// and simply found nobody; a non-nil error means the mDNS query itself
// could not run (e.g. no usable multicast interface).
func (s *Service) Browse(timeout time.Duration) ([]DiscoveredNode, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	var found []DiscoveredNode
	seen := make(map[string]bool)
	go func() {
		defer close(done)
		for entry := range entriesCh {
			node := parseEntry(entry)
			if node.NodeID == "" || seen[node.NodeID] {
				continue
			}
			seen[node.NodeID] = true
			found = append(found, node)
		}
	}()

	params := mdns.DefaultParams(s.cfg.ServiceName)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true // avoid duplicate A/AAAA entries for the same node

	if err := mdns.Query(params); err != nil {
		close(entriesCh)
		<-done
		return nil, raerrors.BrowseFailed(err)
	}
	close(entriesCh)
	<-done

	if len(found) == 0 {
		return nil, nil
	}
	return found, nil
}

func parseEntry(entry *mdns.ServiceEntry) DiscoveredNode {
	node := DiscoveredNode{Host: entry.Host}
	for _, field := range entry.InfoFields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "node_id":
			node.NodeID = kv[1]
		case "bind_addr":
			node.BindAddr = kv[1]
		}
	}
	if node.BindAddr == "" && entry.AddrV4 != nil {
		node.BindAddr = net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))
	}
	return node
}
