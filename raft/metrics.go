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

package raft

import (
	"sync"
	"time"
)

// PeerMetrics describes a leader's view of one peer's replication
// progress.
type PeerMetrics struct {
	MatchIndex uint64
	NextIndex  uint64
	Lagging    bool
	Snapshotting bool
}

// RaftMetrics is a consistent, read-only snapshot of a node's protocol
// state, published by the event loop after each handled event so
// Node.Metrics never blocks on or races with it.
type RaftMetrics struct {
	ID          NodeID
	Role        Role
	CurrentTerm uint64
	LeaderID    *NodeID
	LastLogId   LogId
	CommitIndex uint64
	LastApplied uint64
	Membership  MembershipConfig
	Peers       map[NodeID]PeerMetrics
	UpdatedAt   time.Time
}

// metricsPublisher holds the latest RaftMetrics snapshot behind a
// mutex and fans out change notifications to Wait subscribers.
type metricsPublisher struct {
	mu        sync.RWMutex
	current   RaftMetrics
	listeners map[int]chan struct{}
	nextID    int
}

func newMetricsPublisher() *metricsPublisher {
	return &metricsPublisher{listeners: make(map[int]chan struct{})}
}

func (p *metricsPublisher) publish(m RaftMetrics) {
	p.mu.Lock()
	p.current = m
	listeners := make([]chan struct{}, 0, len(p.listeners))
	for _, ch := range p.listeners {
		listeners = append(listeners, ch)
	}
	p.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *metricsPublisher) snapshot() RaftMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// subscribe registers a change-notification channel and returns it
// along with an unsubscribe func.
func (p *metricsPublisher) subscribe() (<-chan struct{}, func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	ch := make(chan struct{}, 1)
	p.listeners[id] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Metrics returns the most recently published RaftMetrics snapshot.
// Safe to call from any goroutine.
func (n *Node) Metrics() RaftMetrics {
	return n.metrics.snapshot()
}

// publishMetrics is called by the event loop after every handled event
// to refresh the published snapshot. It must only be called from the
// loop goroutine.
func (n *Node) publishMetrics() {
	peers := make(map[NodeID]PeerMetrics, len(n.peers))
	for id, p := range n.peers {
		peers[id] = PeerMetrics{
			MatchIndex:   p.matchIndex,
			NextIndex:    p.nextIndex,
			Lagging:      p.lagging,
			Snapshotting: p.snapshotting,
		}
	}
	var leader *NodeID
	if n.leaderID != nil {
		id := *n.leaderID
		leader = &id
	}
	n.metrics.publish(RaftMetrics{
		ID:          n.cfg.ID,
		Role:        n.role,
		CurrentTerm: n.currentTerm,
		LeaderID:    leader,
		LastLogId:   n.lastLogId,
		CommitIndex: n.commitIndex.Load(),
		LastApplied: n.lastApplied.Load(),
		Membership:  n.membership,
		Peers:       peers,
		UpdatedAt:   time.Now(),
	})
}
