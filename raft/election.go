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
	"time"

	"golang.org/x/sync/errgroup"
)

// onElectionTimeout fires an election (or a pre-vote round) when a
// Follower or Candidate has heard nothing valid from a leader for a
// full randomized timeout. A Leader and a NonVoter ignore it (NonVoter
// never contests an election; becomeLeader stops the timer).
func (n *Node) onElectionTimeout() {
	switch n.role {
	case RoleLeader, RoleNonVoter, RoleShutdown:
		return
	}
	if !n.membership.Contains(n.cfg.ID) {
		n.role = RoleNonVoter
		return
	}

	if n.cfg.EnablePreVote && n.role == RoleFollower {
		n.startPreVote()
		return
	}
	n.startElection()
}

// startPreVote runs a non-disruptive round that checks whether a
// majority would grant this node a vote, without incrementing
// currentTerm or persisting VotedFor. Only on a successful pre-vote
// does the node proceed to a real election; this guards a partitioned
// node from bumping its term every timeout and forcing the real
// leader to step down the moment the partition heals (spec.md §4.1).
func (n *Node) startPreVote() {
	candidateTerm := n.currentTerm + 1
	lastLogId := n.lastLogId
	peers := n.votingPeers()
	if len(peers) == 0 {
		n.startElection()
		return
	}

	n.resetElectionTimer(false)

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.ElectionTimeoutMin)
	go func() {
		defer cancel()
		granted := n.collectVotes(ctx, peers, candidateTerm, lastLogId, true)
		n.postPeerEvent(&peerEvent{preVoteResult: &preVoteResult{term: candidateTerm, granted: granted}})
	}()
}

func (n *Node) onPreVoteResult(term uint64, granted bool) {
	if n.role != RoleFollower || term != n.currentTerm+1 {
		return
	}
	if granted {
		n.startElection()
	}
}

// startElection transitions to Candidate, votes for itself, bumps and
// persists currentTerm/votedFor, and fans out RequestVote RPCs.
func (n *Node) startElection() {
	n.role = RoleCandidate
	n.currentTerm++
	self := n.cfg.ID
	n.votedFor = &self
	n.leaderID = nil
	n.voteTally = map[NodeID]bool{n.cfg.ID: true}
	n.persistHardState()
	n.resetElectionTimer(false)

	term := n.currentTerm
	lastLogId := n.lastLogId
	peers := n.votingPeers()

	if n.hasQuorum() {
		n.becomeLeader()
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.ElectionTimeoutMax)
	go func() {
		defer cancel()
		n.runVoteRound(ctx, peers, term, lastLogId)
	}()
}

func (n *Node) runVoteRound(ctx context.Context, peers []NodeID, term uint64, lastLogId LogId) {
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			resp, err := n.network.SendVote(ctx, peer, &VoteRequest{
				Term:        term,
				CandidateID: n.cfg.ID,
				LastLogId:   lastLogId,
				PreVote:     false,
			})
			if err != nil {
				return nil // no answer: neither granted nor denied
			}
			n.postPeerEvent(&peerEvent{
				peer:      peer,
				voteGranted: resp,
			})
			return nil
		})
	}
	_ = g.Wait()
}

// collectVotes runs a synchronous fan-out/fan-in vote round (used for
// pre-vote, where the loop needs a single majority/no-majority verdict
// rather than incremental tallying) and returns whether a majority
// granted.
func (n *Node) collectVotes(ctx context.Context, peers []NodeID, term uint64, lastLogId LogId, preVote bool) bool {
	type result struct {
		granted bool
	}
	results := make(chan result, len(peers))

	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			resp, err := n.network.SendVote(ctx, peer, &VoteRequest{
				Term:        term,
				CandidateID: n.cfg.ID,
				LastLogId:   lastLogId,
				PreVote:     preVote,
			})
			if err != nil {
				results <- result{granted: false}
				return nil
			}
			results <- result{granted: resp.VoteGranted}
			return nil
		})
	}
	go func() { _ = g.Wait(); close(results) }()

	granted := 1 // self
	total := len(peers) + 1
	for r := range results {
		if r.granted {
			granted++
		}
	}
	return granted*2 > total
}

func (n *Node) votingPeers() []NodeID {
	var peers []NodeID
	for id := range n.membership.AllMembers() {
		if id != n.cfg.ID {
			peers = append(peers, id)
		}
	}
	return peers
}

func (n *Node) hasQuorum() bool {
	return isMajority(n.membership, func(id NodeID) bool {
		return id == n.cfg.ID || n.voteTally[id]
	})
}

// onVoteGranted is invoked via onPeerEvent when a vote response
// arrives for an in-flight election.
func (n *Node) onVoteGranted(peer NodeID, resp *VoteResponse) {
	if n.role != RoleCandidate {
		return
	}
	if n.stepDownIfStaleTerm(resp.Term, nil) {
		return
	}
	if resp.Term != n.currentTerm || !resp.VoteGranted {
		return
	}
	n.voteTally[peer] = true
	if n.hasQuorum() {
		n.becomeLeader()
	}
}

// becomeLeader transitions to Leader, starts a replication stream for
// every current peer, and appends a blank entry at the start of the
// new term so that, once it commits, every prior-term entry commits
// transitively with it (spec.md §4.3 / Figure 8 safety).
func (n *Node) becomeLeader() {
	n.log.Infof("became leader for term %d", n.currentTerm)
	n.role = RoleLeader
	self := n.cfg.ID
	n.leaderID = &self
	n.voteTally = nil

	n.heartbeatTick = time.NewTicker(n.cfg.HeartbeatInterval)
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}

	n.startReplicationForAllPeers()

	if _, err := n.appendLocal(Entry{Payload: EntryPayload{Type: PayloadBlank}}); err != nil {
		n.log.Errorf("failed to append leader no-op: %v", err)
		n.fatal(err)
	}
}

// handleVoteRequest is the voter side of RequestVote. A pre-vote
// request never mutates currentTerm/votedFor; it only reports what
// this node would do if it were a real election (spec.md §4.1).
func (n *Node) handleVoteRequest(req *VoteRequest) *VoteResponse {
	if req.PreVote {
		granted := req.Term >= n.currentTerm && n.logIsUpToDate(req.LastLogId) && !n.hasRecentLeaderContact()
		return &VoteResponse{Term: n.currentTerm, VoteGranted: granted}
	}

	if req.Term < n.currentTerm {
		return &VoteResponse{Term: n.currentTerm, VoteGranted: false}
	}
	n.stepDownIfStaleTerm(req.Term, nil)

	if n.votedFor != nil && *n.votedFor != req.CandidateID {
		return &VoteResponse{Term: n.currentTerm, VoteGranted: false}
	}
	if !n.logIsUpToDate(req.LastLogId) {
		return &VoteResponse{Term: n.currentTerm, VoteGranted: false}
	}

	candidate := req.CandidateID
	n.votedFor = &candidate
	n.persistHardState()
	n.resetElectionTimer(false)
	return &VoteResponse{Term: n.currentTerm, VoteGranted: true}
}

// logIsUpToDate implements the election restriction (spec.md
// Invariant 2): a candidate's log must be at least as up to date as
// this node's, compared by (last term, last index).
func (n *Node) logIsUpToDate(candidateLast LogId) bool {
	return n.lastLogId.LessOrEqual(candidateLast)
}

// hasRecentLeaderContact reports whether this node believes a leader
// is currently alive; a pre-vote is only granted to a candidate when
// it does not, guarding against an unnecessary election while a
// healthy leader is simply unreachable from one partitioned peer.
func (n *Node) hasRecentLeaderContact() bool {
	return n.leaderID != nil
}

// onHeartbeatTick drives the leader's per-peer replication cadence;
// replicateToAll skips any peer still mid-flight from the previous
// round, so a slow peer never piles up overlapping requests.
func (n *Node) onHeartbeatTick() {
	if n.role != RoleLeader {
		return
	}
	n.replicateToAll()
}
