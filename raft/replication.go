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
Each peer gets its own stream, but the stream itself is dumb: the loop
decides what to send and when (so nextIndex/matchIndex bookkeeping
never leaves the loop goroutine), and the stream's worker goroutine
only ever performs the one network round trip it was handed and
reports the outcome back as a peerEvent. This keeps the replication
engine's only shared mutable state (peerReplication.nextIndex and
.matchIndex) single-writer.
*/
package raft

import "context"

// peerReplication is a leader's bookkeeping and worker handle for one
// peer. Every field here is read and written only by the loop
// goroutine; the worker goroutine touches none of them.
type peerReplication struct {
	peer NodeID

	nextIndex    uint64
	matchIndex   uint64
	lagging      bool
	snapshotting bool

	inFlight     bool
	missedBeats  int // consecutive ticks with no successful round trip

	workCh chan *replicationWork
	stopCh chan struct{}
}

// replicationWork is the one unit of work the loop ever hands a peer
// worker: either one AppendEntries round trip or one entire snapshot
// stream (every segment, run to completion by the worker).
type replicationWork struct {
	appendReq *AppendEntriesRequest
	snapshot  *snapshotStreamWork
}

func (n *Node) startReplicationForAllPeers() {
	for id := range n.membership.AllMembers() {
		if id == n.cfg.ID {
			continue
		}
		n.startPeerReplication(id)
	}
}

func (n *Node) startPeerReplication(id NodeID) {
	if _, ok := n.peers[id]; ok {
		return
	}
	p := &peerReplication{
		peer:      id,
		nextIndex: n.lastLogId.Index + 1,
		workCh:    make(chan *replicationWork, 1),
		stopCh:    make(chan struct{}),
	}
	n.peers[id] = p
	go n.runPeerWorker(p)
	n.replicateToPeer(p)
}

func (n *Node) stopReplication() {
	if n.heartbeatTick != nil {
		n.heartbeatTick.Stop()
		n.heartbeatTick = nil
	}
	for id, p := range n.peers {
		close(p.stopCh)
		delete(n.peers, id)
	}
}

func (n *Node) stopPeerReplication(id NodeID) {
	if p, ok := n.peers[id]; ok {
		close(p.stopCh)
		delete(n.peers, id)
	}
}

// runPeerWorker is the entire body of a peer's goroutine: receive one
// unit of work, execute the one RPC it describes, report the result.
func (n *Node) runPeerWorker(p *peerReplication) {
	for {
		select {
		case <-p.stopCh:
			return
		case work := <-p.workCh:
			n.executeReplicationWork(p, work)
		}
	}
}

func (n *Node) executeReplicationWork(p *peerReplication, work *replicationWork) {
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.HeartbeatInterval*4)
	defer cancel()

	switch {
	case work.appendReq != nil:
		resp, err := n.network.SendAppendEntries(ctx, p.peer, work.appendReq)
		if err != nil {
			n.postPeerEvent(&peerEvent{peer: p.peer, appendFailed: true})
			return
		}
		n.postPeerEvent(&peerEvent{peer: p.peer, appendResp: resp, sentPrevLogId: work.appendReq.PrevLogId, sentEntries: uint64(len(work.appendReq.Entries))})
	case work.snapshot != nil:
		n.streamSnapshot(p, work.snapshot)
	}
}

// replicateToAll is called on every heartbeat tick and immediately
// after a local append, so replication both keeps a steady cadence and
// pipelines ahead of it when there is a backlog.
func (n *Node) replicateToAll() {
	for _, p := range n.peers {
		n.replicateToPeer(p)
	}
}

// replicateToPeer sends the peer its next unit of work if it isn't
// already mid-flight. A peer whose nextIndex has fallen at or below
// this node's snapshot boundary is switched to snapshot streaming
// instead of AppendEntries (spec.md §4.5).
func (n *Node) replicateToPeer(p *peerReplication) {
	if p.inFlight || p.snapshotting {
		return
	}
	if !n.snapshotLogId.IsZero() && p.nextIndex <= n.snapshotLogId.Index {
		n.beginSnapshotStream(p)
		return
	}

	prevLogId := n.prevLogIdFor(p.nextIndex)
	entries := n.entriesFrom(p.nextIndex, n.cfg.MaxPayloadEntries)

	p.inFlight = true
	work := &replicationWork{appendReq: &AppendEntriesRequest{
		Term:         n.currentTerm,
		LeaderID:     n.cfg.ID,
		PrevLogId:    prevLogId,
		Entries:      entries,
		LeaderCommit: n.commitIndex.Load(),
	}}
	select {
	case p.workCh <- work:
	default:
		p.inFlight = false
	}
}

func (n *Node) prevLogIdFor(nextIndex uint64) LogId {
	if nextIndex <= 1 {
		return ZeroLogId
	}
	if e, ok := n.localEntryAt(nextIndex - 1); ok {
		return e.LogId
	}
	if nextIndex-1 == n.snapshotLogId.Index {
		return n.snapshotLogId
	}
	return ZeroLogId
}

func (n *Node) entriesFrom(from uint64, max int) []Entry {
	if from > n.lastLogId.Index {
		return nil
	}
	hi := from + uint64(max)
	if hi > n.lastLogId.Index+1 {
		hi = n.lastLogId.Index + 1
	}
	if entries, ok := n.logCacheRef.getRange(from, hi); ok {
		return entries
	}
	entries, err := n.storage.GetLogEntries(n.ctx, from, hi)
	if err != nil {
		n.log.Errorf("GetLogEntries(%d,%d) failed: %v", from, hi, err)
		return nil
	}
	return entries
}

// onPeerEvent dispatches every variety of feedback a peer worker (or
// an election round) reports back to the loop.
func (n *Node) onPeerEvent(e *peerEvent) {
	if e.voteGranted != nil {
		n.onVoteGranted(e.peer, e.voteGranted)
		return
	}
	if e.preVoteResult != nil {
		n.onPreVoteResult(e.preVoteResult.term, e.preVoteResult.granted)
		return
	}
	if e.snapshotBuildDone != nil {
		n.onSnapshotBuildDone(e.snapshotBuildDone)
		return
	}
	if e.snapshotBuildFailed {
		n.onSnapshotBuildFailed()
		return
	}

	p, ok := n.peers[e.peer]
	if !ok || n.role != RoleLeader {
		return
	}

	switch {
	case e.appendFailed:
		p.inFlight = false
		p.missedBeats++
		n.updateLagging(p)
	case e.appendResp != nil:
		p.inFlight = false
		p.missedBeats = 0
		n.handleAppendEntriesResponse(p, e)
	case e.snapshotFailed:
		p.snapshotting = false
		p.missedBeats++
		n.updateLagging(p)
		n.replicateToPeer(p)
	case e.snapshotDone != nil:
		p.snapshotting = false
		p.missedBeats = 0
		if e.snapshotDone.LastIncludedLogId.Index+1 > p.nextIndex {
			p.nextIndex = e.snapshotDone.LastIncludedLogId.Index + 1
		}
		if e.snapshotDone.LastIncludedLogId.Index > p.matchIndex {
			p.matchIndex = e.snapshotDone.LastIncludedLogId.Index
			n.recalculateCommitIndex()
			n.checkNonVoterCaughtUp(p)
		}
		n.updateLagging(p)
		n.replicateToPeer(p)
	}
}

func (n *Node) handleAppendEntriesResponse(p *peerReplication, e *peerEvent) {
	resp := e.appendResp
	if n.stepDownIfStaleTerm(resp.Term, nil) {
		return
	}
	if resp.Term != n.currentTerm {
		return
	}

	if resp.Success {
		newMatch := e.sentPrevLogId.Index + e.sentEntries
		if newMatch > p.matchIndex {
			p.matchIndex = newMatch
			p.nextIndex = newMatch + 1
			n.recalculateCommitIndex()
			n.checkNonVoterCaughtUp(p)
		}
		n.updateLagging(p)
		if p.nextIndex <= n.lastLogId.Index {
			n.replicateToPeer(p)
		}
		return
	}

	if resp.ConflictOpt != nil {
		n.resolveConflict(p, resp.ConflictOpt)
	} else if p.nextIndex > 1 {
		p.nextIndex--
	}
	p.missedBeats++
	n.updateLagging(p)
	n.replicateToPeer(p)
}

// resolveConflict applies the follower's bisection hint: if this
// leader has an entry at the hinted term, retry just past the last
// entry of that term; otherwise jump directly to the hinted index
// (the follower has nothing there at all, or a term the leader never
// had).
func (n *Node) resolveConflict(p *peerReplication, hint *ConflictOpt) {
	if hint.LogId.Term == 0 {
		p.nextIndex = hint.LogId.Index + 1
		return
	}
	lastOfTerm, found := n.lastIndexOfTerm(hint.LogId.Term)
	if found {
		p.nextIndex = lastOfTerm + 1
	} else {
		p.nextIndex = hint.LogId.Index
	}
	if p.nextIndex == 0 {
		p.nextIndex = 1
	}
}

func (n *Node) lastIndexOfTerm(term uint64) (uint64, bool) {
	idx := n.lastLogId.Index
	for idx > 0 {
		e, ok := n.localEntryAt(idx)
		if !ok {
			return 0, false
		}
		if e.LogId.Term == term {
			return idx, true
		}
		if e.LogId.Term < term {
			return 0, false
		}
		idx--
	}
	return 0, false
}

// updateLagging classifies a peer as Lagging once it has missed
// Config.ReplicationLagThreshold consecutive round trips, independent
// of the nextIndex bisection state (spec.md §4.9).
func (n *Node) updateLagging(p *peerReplication) {
	p.lagging = p.missedBeats >= n.cfg.ReplicationLagThreshold
}

// replicationLag reports how far behind a peer's matchIndex trails
// this leader's last log index; used to decide non-voter catch-up.
func (p *peerReplication) replicationLag(leaderLast uint64) uint64 {
	if p.matchIndex >= leaderLast {
		return 0
	}
	return leaderLast - p.matchIndex
}
