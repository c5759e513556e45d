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
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Node is a single embeddable Raft consensus participant. All protocol
// state is owned exclusively by one goroutine (run, started by Start);
// every other method only ever enqueues a loopEvent onto inbox and, for
// synchronous callers, blocks on a per-call response channel. This is
// the single-owner event loop spec.md §5 requires: a host never needs
// its own locking around a Node.
type Node struct {
	cfg     Config
	storage Storage
	network Network
	log     Logger

	inbox chan loopEvent

	ctx    context.Context
	cancel context.CancelFunc
	runWg  sync.WaitGroup

	// --- fields below are owned by the run goroutine exclusively ---

	role        Role
	currentTerm uint64
	votedFor    *NodeID
	leaderID    *NodeID
	membership  MembershipConfig

	lastLogId   LogId
	snapshotLogId LogId

	// commitIndex and lastApplied are mutated only by the loop
	// goroutine but read by the applier goroutine between events, so
	// they are atomic rather than plain fields.
	commitIndex atomic.Uint64
	lastApplied atomic.Uint64

	voteTally map[NodeID]bool // non-nil only while Candidate

	peers map[NodeID]*peerReplication

	electionTimer *time.Timer
	heartbeatTick *time.Ticker // nil unless Leader

	membershipState *membershipChangeState

	inboundSnapshot       SnapshotId
	inboundSnapshotOffset uint64 // expected next write offset for inboundSnapshot
	snapshotBuildInFlight bool

	// --- cross-goroutine collaborators, safe for concurrent use ---

	metrics     *metricsPublisher
	logCacheRef *logCache
	writeWaitersRef *writeWaiters
	applierRef  *applier
}

// postPeerEvent and postApplyAck are how replication/snapshot worker
// goroutines and the applier hand control back to the loop; both send
// loopEvent values so they share inbox's single channel.
func (n *Node) postPeerEvent(e *peerEvent) {
	select {
	case n.inbox <- e:
	case <-n.ctx.Done():
	}
}

func (n *Node) postApplyAck(e *applyAckEvent) {
	select {
	case n.inbox <- e:
	case <-n.ctx.Done():
	}
}

// applyWindow returns the current (lastApplied, commitIndex) pair.
// Called by the applier goroutine between drain passes.
func (n *Node) applyWindow() (lastApplied, commitIndex uint64, ok bool) {
	return n.lastApplied.Load(), n.commitIndex.Load(), true
}

// NewNode constructs a Node from the host's Storage's recorded initial
// state (spec.md Lifecycle). It does not start the event loop; call
// Start for that.
func NewNode(cfg Config, storage Storage, network Network) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	initial, err := storage.GetInitialState(initCtx)
	if err != nil {
		return nil, fmt.Errorf("raft: GetInitialState: %w", err)
	}

	n := &Node{
		cfg:             cfg,
		storage:         storage,
		network:         network,
		log:             cfg.logger().With("node", string(cfg.ID)),
		inbox:           make(chan loopEvent, 256),
		currentTerm:     initial.HardState.CurrentTerm,
		votedFor:        initial.HardState.VotedFor,
		membership:      initial.Membership,
		lastLogId:       initial.LastLogId,
		snapshotLogId:   initial.SnapshotLogId,
		peers:           make(map[NodeID]*peerReplication),
		metrics:         newMetricsPublisher(),
		logCacheRef:     newLogCache(),
		writeWaitersRef: newWriteWaiters(),
	}
	n.commitIndex.Store(initial.LastAppliedLogId.Index)
	n.lastApplied.Store(initial.LastAppliedLogId.Index)
	n.applierRef = newApplier(n)

	if initial.Membership.Contains(cfg.ID) {
		n.role = RoleFollower
	} else {
		n.role = RoleNonVoter
	}

	return n, nil
}

// Start launches the event loop and the applier goroutine. ctx
// bounds the node's entire lifetime; cancelling it is equivalent to
// calling Shutdown.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.electionTimer = time.NewTimer(n.nextElectionTimeout(true))

	n.runWg.Add(2)
	go func() {
		defer n.runWg.Done()
		n.applierRef.run(n.ctx)
	}()
	go func() {
		defer n.runWg.Done()
		n.run()
	}()
	return nil
}

// Shutdown transitions the node to Shutdown and blocks until its
// goroutines have exited.
func (n *Node) Shutdown() {
	done := make(chan struct{})
	select {
	case n.inbox <- &shutdownEvent{done: done}:
		<-done
	case <-n.ctx.Done():
	}
	n.cancel()
	n.applierRef.stop()
	n.runWg.Wait()
}

// run is the single-owner event loop. Every source of protocol state
// mutation funnels through this select.
func (n *Node) run() {
	n.publishMetrics()
	for {
		var heartbeatC <-chan time.Time
		if n.heartbeatTick != nil {
			heartbeatC = n.heartbeatTick.C
		}

		select {
		case <-n.ctx.Done():
			return
		case ev := <-n.inbox:
			ev.handle(n)
		case <-n.electionTimer.C:
			(electionTimeoutEvent{}).handle(n)
		case <-heartbeatC:
			(heartbeatTickEvent{}).handle(n)
		}

		n.publishMetrics()
		if n.role == RoleShutdown {
			return
		}
	}
}

func (n *Node) onShutdown(e *shutdownEvent) {
	n.log.Infof("shutting down")
	if n.role == RoleLeader {
		n.stopReplication()
	}
	n.writeWaitersRef.drainWithError(ErrShuttingDown)
	n.role = RoleShutdown
	close(e.done)
}

// resetElectionTimer reschedules the election timer with a freshly
// sampled randomized timeout. recovery selects the larger
// RecoveryElectionTimeout bound used the first time a node boots into
// the voting set (spec.md §4.1), so a recovering node doesn't disrupt
// an already-running cluster by contesting an election prematurely.
func (n *Node) resetElectionTimer(recovery bool) {
	if n.electionTimer == nil {
		n.electionTimer = time.NewTimer(n.nextElectionTimeout(recovery))
		return
	}
	if !n.electionTimer.Stop() {
		select {
		case <-n.electionTimer.C:
		default:
		}
	}
	n.electionTimer.Reset(n.nextElectionTimeout(recovery))
}

func (n *Node) nextElectionTimeout(recovery bool) time.Duration {
	if recovery {
		return n.cfg.RecoveryElectionTimeout
	}
	lo := n.cfg.ElectionTimeoutMin
	hi := n.cfg.ElectionTimeoutMax
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func (n *Node) persistHardState() {
	hs := HardState{CurrentTerm: n.currentTerm, VotedFor: n.votedFor}
	if err := n.storage.SaveHardState(n.ctx, hs); err != nil {
		n.log.Errorf("SaveHardState failed: %v", err)
		n.fatal(err)
	}
}

// fatal transitions the node to Shutdown in response to a
// ShutdownError surfaced anywhere (storage failure most commonly).
func (n *Node) fatal(err error) {
	if n.role == RoleShutdown {
		return
	}
	n.log.Errorf("fatal error, shutting down: %v", err)
	if n.role == RoleLeader {
		n.stopReplication()
	}
	n.writeWaitersRef.drainWithError(err)
	n.role = RoleShutdown
	n.cancel()
}

// --- synchronous, cross-goroutine public API ---

// AppendEntries services an inbound AppendEntries RPC. Safe to call
// from any goroutine (a transport server's per-connection goroutine,
// typically).
func (n *Node) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	call := &appendEntriesCall{req: req, resp: make(chan *AppendEntriesResponse, 1)}
	if err := n.enqueue(ctx, &rpcEvent{appendEntries: call}); err != nil {
		return nil, err
	}
	select {
	case resp := <-call.resp:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Vote services an inbound RequestVote RPC.
func (n *Node) Vote(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	call := &voteCall{req: req, resp: make(chan *VoteResponse, 1)}
	if err := n.enqueue(ctx, &rpcEvent{vote: call}); err != nil {
		return nil, err
	}
	select {
	case resp := <-call.resp:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InstallSnapshot services one segment of an inbound snapshot stream.
func (n *Node) InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	call := &installSnapshotCall{req: req, resp: make(chan *installSnapshotResult, 1)}
	if err := n.enqueue(ctx, &rpcEvent{installSnap: call}); err != nil {
		return nil, err
	}
	select {
	case res := <-call.resp:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) enqueue(ctx context.Context, ev loopEvent) error {
	select {
	case n.inbox <- ev:
		return nil
	case <-n.ctx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}
