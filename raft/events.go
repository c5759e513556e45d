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

import "context"

// The core is driven by one logical event loop (node.go's run method)
// that multiplexes every source of state mutation: client requests,
// inbound RPCs, timer expirations, and events surfaced by peripheral
// worker goroutines (replication streams, the applier, snapshot
// builds). Timer expirations are read from their own channels in the
// loop's select; everything else arrives on Node.inbox as a loopEvent.
// Nothing outside the loop goroutine ever touches protocol state
// directly.
type loopEvent interface {
	handle(n *Node)
}

// rpcEvent carries an inbound RPC and the channel its synchronous
// caller (a Node.AppendEntries/Vote/InstallSnapshot method, invoked by
// the host's transport server on its own goroutine) is blocked on.
type rpcEvent struct {
	appendEntries *appendEntriesCall
	vote          *voteCall
	installSnap   *installSnapshotCall
}

type appendEntriesCall struct {
	req  *AppendEntriesRequest
	resp chan *AppendEntriesResponse
}

type voteCall struct {
	req  *VoteRequest
	resp chan *VoteResponse
}

type installSnapshotCall struct {
	req  *InstallSnapshotRequest
	resp chan *installSnapshotResult
}

type installSnapshotResult struct {
	resp *InstallSnapshotResponse
	err  error
}

func (e *rpcEvent) handle(n *Node) {
	switch {
	case e.appendEntries != nil:
		e.appendEntries.resp <- n.handleAppendEntries(e.appendEntries.req)
	case e.vote != nil:
		e.vote.resp <- n.handleVoteRequest(e.vote.req)
	case e.installSnap != nil:
		resp, err := n.handleInstallSnapshot(e.installSnap.req)
		e.installSnap.resp <- &installSnapshotResult{resp: resp, err: err}
	}
}

// electionTimeoutEvent fires when the election timer elapses with no
// valid heartbeat observed.
type electionTimeoutEvent struct{}

func (electionTimeoutEvent) handle(n *Node) { n.onElectionTimeout() }

// heartbeatTickEvent fires on the leader's heartbeat cadence.
type heartbeatTickEvent struct{}

func (heartbeatTickEvent) handle(n *Node) { n.onHeartbeatTick() }

// clientWriteEvent carries a ClientWrite request and its response
// channel.
type clientWriteEvent struct {
	ctx  context.Context
	data AppData
	resp chan clientWriteResult
}

type clientWriteResult struct {
	value AppDataResponse
	err   error
}

func (e *clientWriteEvent) handle(n *Node) { n.onClientWrite(e) }

// clientReadEvent carries a linearizable-read confirmation request.
type clientReadEvent struct {
	ctx  context.Context
	resp chan error
}

func (e *clientReadEvent) handle(n *Node) { n.onClientRead(e) }

// changeMembershipEvent carries a joint-consensus membership change
// request.
type changeMembershipEvent struct {
	ctx     context.Context
	members []NodeID
	resp    chan error
}

func (e *changeMembershipEvent) handle(n *Node) { n.onChangeMembership(e) }

// peerEvent is fed back to the loop by a per-peer replication worker,
// or by an in-flight election round. Exactly one of the result fields
// below is set per event.
type peerEvent struct {
	peer NodeID

	// appendResp/appendFailed report the outcome of one AppendEntries
	// round trip. sentPrevLogId/sentEntries echo back what was sent so
	// the loop can compute the new match_index without re-reading its
	// own (possibly since-changed) state.
	appendResp    *AppendEntriesResponse
	appendFailed  bool
	sentPrevLogId LogId
	sentEntries   uint64

	// snapshotDone/snapshotFailed report the outcome of an entire
	// snapshot stream to this peer (every segment), run start-to-finish
	// by one worker invocation.
	snapshotDone   *SnapshotMeta
	snapshotFailed bool

	// snapshotBuildDone/snapshotBuildFailed report the outcome of a
	// Storage.DoLogCompaction call run on a helper goroutine (no peer
	// set; these aren't about any one replication stream).
	snapshotBuildDone   *SnapshotMeta
	snapshotBuildFailed bool

	// voteGranted carries a RequestVote response for an in-flight
	// election (peer is the voter).
	voteGranted *VoteResponse
	// preVoteResult carries the outcome of a completed pre-vote round.
	preVoteResult *preVoteResult
}

// preVoteResult is the synchronous outcome of a pre-vote round
// (election.go's startPreVote).
type preVoteResult struct {
	term    uint64
	granted bool
}

func (e *peerEvent) handle(n *Node) { n.onPeerEvent(e) }

// applyAckEvent is fed back by the applier goroutine after each entry
// (or batch) it applies.
type applyAckEvent struct {
	upTo LogId
	err  error // non-nil for an AppError or a fatal (shutdown) error
	// Clients awaiting an index are not carried here: the applier
	// delivers their AppDataResponse/err directly (see apply.go).

	// membership is set when the applied entry was a config change, so
	// the loop (the only goroutine allowed to mutate n.membership) can
	// adopt it and re-check this node's own role.
	membership *MembershipConfig
}

func (e *applyAckEvent) handle(n *Node) { n.onApplyAck(e) }

// shutdownEvent requests an orderly transition to Shutdown.
type shutdownEvent struct {
	done chan struct{}
}

func (e *shutdownEvent) handle(n *Node) { n.onShutdown(e) }
