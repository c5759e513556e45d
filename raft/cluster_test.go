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

package raft_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"raft/internal/memstore"
	"raft/raft"
)

// loopbackSwitch is an in-process raft.Network routing RPCs directly
// between *raft.Node instances registered under it, skipping any wire
// encoding. Tests use it to exercise the real election/replication/
// commit paths without a transport.
type loopbackSwitch struct {
	mu    sync.RWMutex
	nodes map[raft.NodeID]*raft.Node
	// downed holds NodeIDs whose RPCs should fail, simulating a
	// partition.
	downed map[raft.NodeID]bool
}

func newLoopbackSwitch() *loopbackSwitch {
	return &loopbackSwitch{nodes: make(map[raft.NodeID]*raft.Node), downed: make(map[raft.NodeID]bool)}
}

func (s *loopbackSwitch) register(id raft.NodeID, n *raft.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
}

func (s *loopbackSwitch) setDown(id raft.NodeID, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downed[id] = down
}

func (s *loopbackSwitch) target(id raft.NodeID, source raft.NodeID) (*raft.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.downed[id] || s.downed[source] {
		return nil, fmt.Errorf("loopback: %s is unreachable", id)
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("loopback: unknown node %s", id)
	}
	return n, nil
}

func (s *loopbackSwitch) SendAppendEntries(ctx context.Context, target raft.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	n, err := s.target(target, req.LeaderID)
	if err != nil {
		return nil, err
	}
	return n.AppendEntries(ctx, req)
}

func (s *loopbackSwitch) SendVote(ctx context.Context, target raft.NodeID, req *raft.VoteRequest) (*raft.VoteResponse, error) {
	n, err := s.target(target, req.CandidateID)
	if err != nil {
		return nil, err
	}
	return n.Vote(ctx, req)
}

func (s *loopbackSwitch) SendInstallSnapshot(ctx context.Context, target raft.NodeID, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	n, err := s.target(target, req.LeaderID)
	if err != nil {
		return nil, err
	}
	return n.InstallSnapshot(ctx, req)
}

// testCluster is a fully wired, started set of nodes sharing one
// loopbackSwitch.
type testCluster struct {
	ids    []raft.NodeID
	nodes  map[raft.NodeID]*raft.Node
	stores map[raft.NodeID]*memstore.Storage
	sw     *loopbackSwitch
	cancel context.CancelFunc
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	ids := make([]raft.NodeID, n)
	for i := range ids {
		ids[i] = raft.NodeID(fmt.Sprintf("n%d", i+1))
	}

	sw := newLoopbackSwitch()
	ctx, cancel := context.WithCancel(context.Background())

	cl := &testCluster{ids: ids, nodes: make(map[raft.NodeID]*raft.Node), stores: make(map[raft.NodeID]*memstore.Storage), sw: sw, cancel: cancel}

	for _, id := range ids {
		store := memstore.NewStorage(ids...)
		cfg := raft.DefaultConfig(id)
		cfg.ElectionTimeoutMin = 40 * time.Millisecond
		cfg.ElectionTimeoutMax = 100 * time.Millisecond
		cfg.HeartbeatInterval = 10 * time.Millisecond
		cfg.RecoveryElectionTimeout = 40 * time.Millisecond

		node, err := raft.NewNode(cfg, store, sw)
		if err != nil {
			t.Fatalf("NewNode(%s): %v", id, err)
		}
		sw.register(id, node)
		cl.nodes[id] = node
		cl.stores[id] = store
	}

	for _, id := range ids {
		if err := cl.nodes[id].Start(ctx); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}

	t.Cleanup(func() {
		for _, node := range cl.nodes {
			node.Shutdown()
		}
		cancel()
	})

	return cl
}

// leader blocks until some node reports Leader role and returns it.
func (cl *testCluster) leader(t *testing.T, timeout time.Duration) *raft.Node {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("no leader elected within %s", timeout)
		case <-tick.C:
			for _, node := range cl.nodes {
				if node.Metrics().Role == raft.RoleLeader {
					return node
				}
			}
		case <-ctx.Done():
			t.Fatalf("no leader elected: %v", ctx.Err())
		}
	}
}

func TestClusterElectsExactlyOneLeader(t *testing.T) {
	cl := newTestCluster(t, 3)
	leader := cl.leader(t, 2*time.Second)

	count := 0
	for _, node := range cl.nodes {
		if node.Metrics().Role == raft.RoleLeader {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one leader, got %d", count)
	}
	if leader.Metrics().CurrentTerm == 0 {
		t.Fatalf("expected a non-zero term once a leader is elected")
	}
}

func TestClientWriteReplicatesToAllFollowers(t *testing.T) {
	cl := newTestCluster(t, 3)
	leader := cl.leader(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cmd := memstore.Command{Op: memstore.OpSet, Key: "k1", Value: []byte("v1")}
	if _, err := leader.ClientWrite(ctx, cmd); err != nil {
		t.Fatalf("ClientWrite: %v", err)
	}
	// Index 1 holds the leader's blank entry; the write is the leader's
	// last log entry.
	writeIndex := leader.Metrics().LastLogId.Index

	for id, node := range cl.nodes {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
		err := node.WaitForApplied(waitCtx, writeIndex)
		waitCancel()
		if err != nil {
			t.Fatalf("node %s never applied the write: %v", id, err)
		}
		val, ok := cl.stores[id].Get("k1")
		if !ok {
			t.Fatalf("node %s missing key k1 after replication", id)
		}
		if string(val) != "v1" {
			t.Fatalf("node %s has k1=%q, want v1", id, val)
		}
	}
}

func TestClientWriteOnFollowerForwardsToLeader(t *testing.T) {
	cl := newTestCluster(t, 3)
	leader := cl.leader(t, 2*time.Second)

	var follower *raft.Node
	for id, node := range cl.nodes {
		if node != leader {
			follower = cl.nodes[id]
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := follower.ClientWrite(ctx, memstore.Command{Op: memstore.OpSet, Key: "k", Value: []byte("v")})
	if err == nil {
		t.Fatal("expected ClientWrite on a follower to fail")
	}
	cwErr, ok := err.(*raft.ClientWriteError)
	if !ok {
		t.Fatalf("expected *raft.ClientWriteError, got %T: %v", err, err)
	}
	if cwErr.ForwardToLeader == nil {
		t.Fatalf("expected ForwardToLeader to be set, got %+v", cwErr)
	}
}

func TestMajorityElectsNewLeaderAfterLeaderIsolated(t *testing.T) {
	cl := newTestCluster(t, 3)
	oldLeader := cl.leader(t, 2*time.Second)

	var oldLeaderID raft.NodeID
	for id, node := range cl.nodes {
		if node == oldLeader {
			oldLeaderID = id
			break
		}
	}

	cl.sw.setDown(oldLeaderID, true)
	t.Cleanup(func() { cl.sw.setDown(oldLeaderID, false) })

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("no new leader elected after isolating the old one")
		case <-tick.C:
			for id, node := range cl.nodes {
				if id != oldLeaderID && node.Metrics().Role == raft.RoleLeader {
					return
				}
			}
		}
	}
}

func TestChangeMembershipAddsVoter(t *testing.T) {
	cl := newTestCluster(t, 3)
	leader := cl.leader(t, 2*time.Second)

	// Spin up a fourth node as a NonVoter joining the existing cluster.
	newID := raft.NodeID("n4")
	store := memstore.NewStorage(cl.ids...) // boots as NonVoter: not a member yet
	cfg := raft.DefaultConfig(newID)
	cfg.ElectionTimeoutMin = 40 * time.Millisecond
	cfg.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.RecoveryElectionTimeout = 40 * time.Millisecond

	node, err := raft.NewNode(cfg, store, cl.sw)
	if err != nil {
		t.Fatalf("NewNode(n4): %v", err)
	}
	cl.sw.register(newID, node)
	cl.nodes[newID] = node
	cl.stores[newID] = store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start(n4): %v", err)
	}
	t.Cleanup(node.Shutdown)

	if node.Metrics().Role != raft.RoleNonVoter {
		t.Fatalf("expected n4 to boot as NonVoter, got %s", node.Metrics().Role)
	}

	members := append(append([]raft.NodeID{}, cl.ids...), newID)
	changeCtx, changeCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer changeCancel()
	if err := leader.ChangeMembership(changeCtx, members); err != nil {
		t.Fatalf("ChangeMembership: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := node.Wait(waitCtx, func(m raft.RaftMetrics) bool {
		_, isMember := m.Membership.AllMembers()[newID]
		return isMember
	}); err != nil {
		t.Fatalf("n4 never observed its own membership: %v", err)
	}
}
