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

	"golang.org/x/sync/errgroup"
)

// ClientWrite proposes data to the replicated log and blocks until it
// has committed and applied, returning the host's
// ApplyEntryToStateMachine response. If this node is not leader, it
// returns a *ClientWriteError carrying the known leader (if any) so the
// caller can forward the request instead of retrying blindly.
func (n *Node) ClientWrite(ctx context.Context, data AppData) (AppDataResponse, error) {
	e := &clientWriteEvent{ctx: ctx, data: data, resp: make(chan clientWriteResult, 1)}
	if err := n.enqueue(ctx, e); err != nil {
		return nil, err
	}
	select {
	case res := <-e.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) onClientWrite(e *clientWriteEvent) {
	if n.role != RoleLeader {
		var leader *NodeID
		if n.leaderID != nil {
			id := *n.leaderID
			leader = &id
		}
		e.resp <- clientWriteResult{err: &ClientWriteError{ForwardToLeader: &ForwardToLeader{LeaderID: leader, Data: e.data}}}
		return
	}

	index, err := n.appendLocal(Entry{Payload: EntryPayload{Type: PayloadNormal, Normal: e.data}})
	if err != nil {
		e.resp <- clientWriteResult{err: &ClientWriteError{AppErr: &AppError{Cause: err}}}
		return
	}
	n.writeWaitersRef.register(index, e.resp)
}

// appendLocal appends one entry at (currentTerm, lastLogId.Index+1),
// persists it, updates the cache and lastLogId, and kicks off
// replication. Used for client writes, the leader no-op at the start
// of a term, and membership-change config entries: every path that
// grows the leader's own log funnels through here.
func (n *Node) appendLocal(entry Entry) (uint64, error) {
	entry.LogId = LogId{Term: n.currentTerm, Index: n.lastLogId.Index + 1}
	if err := n.storage.AppendToLog(n.ctx, []Entry{entry}); err != nil {
		return 0, err
	}
	n.logCacheRef.append([]Entry{entry})
	n.lastLogId = entry.LogId
	n.replicateToAll()

	if !n.hasOtherVoters() {
		n.recalculateCommitIndex()
	}
	return entry.LogId.Index, nil
}

func (n *Node) hasOtherVoters() bool {
	for id := range n.membership.AllMembers() {
		if id != n.cfg.ID {
			return true
		}
	}
	return false
}

// ClientRead blocks until this node has confirmed, via a fresh
// heartbeat round reaching a quorum, that it is still leader — the
// linearizable-read handshake (spec.md §4.7). On success the caller
// may read its local state machine directly, at least as current as
// commit_index at the moment ClientRead returns.
func (n *Node) ClientRead(ctx context.Context) error {
	e := &clientReadEvent{ctx: ctx, resp: make(chan error, 1)}
	if err := n.enqueue(ctx, e); err != nil {
		return err
	}
	select {
	case err := <-e.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) onClientRead(e *clientReadEvent) {
	if n.role != RoleLeader {
		var leader *NodeID
		if n.leaderID != nil {
			id := *n.leaderID
			leader = &id
		}
		e.resp <- &ClientWriteError{ForwardToLeader: &ForwardToLeader{LeaderID: leader}}
		return
	}
	if !n.hasOtherVoters() {
		e.resp <- nil
		return
	}

	term := n.currentTerm
	peers := n.votingPeers()
	leaderCommit := n.commitIndex.Load()
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, n.cfg.ElectionTimeoutMin)
		defer cancel()
		if n.confirmLeadership(ctx, term, peers, leaderCommit) {
			e.resp <- nil
		} else {
			e.resp <- ErrTimeout
		}
	}()
}

// confirmLeadership sends an empty AppendEntries ("heartbeat") probe
// to every peer and reports whether a majority answered without
// rejecting on a higher term, confirming this node was still leader in
// term as of this round trip. This is the read-index handshake
// ClientRead uses instead of routing reads through the log.
func (n *Node) confirmLeadership(ctx context.Context, term uint64, peers []NodeID, leaderCommit uint64) bool {
	results := make(chan bool, len(peers))
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			resp, err := n.network.SendAppendEntries(ctx, peer, &AppendEntriesRequest{
				Term:         term,
				LeaderID:     n.cfg.ID,
				LeaderCommit: leaderCommit,
			})
			if err != nil || resp.Term > term {
				results <- false
				return nil
			}
			results <- true
			return nil
		})
	}
	go func() { _ = g.Wait(); close(results) }()

	acked := 1 // self
	total := len(peers) + 1
	for ok := range results {
		if ok {
			acked++
		}
	}
	return acked*2 > total
}
