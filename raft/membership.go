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
	"errors"
)

// membershipPhase tracks one in-flight ChangeMembership call as it
// moves through catch-up, the joint entry (old set AND new set both
// need a majority), and the final entry (new set only) that follows
// once the joint entry commits (spec.md §4.8).
type membershipPhase int

const (
	// membershipCatchingUp holds the change before the joint entry is
	// proposed: every member being added is already replicating as a
	// plain peer but isn't in n.membership yet, so its votes/acks don't
	// count toward anything. The joint entry is proposed only once
	// pendingNewMembers drains to empty (spec.md §4.8 point 3).
	membershipCatchingUp membershipPhase = iota
	membershipJoint
	membershipFinal
)

type membershipChangeState struct {
	target []NodeID

	// pendingNewMembers is the subset of target not already in
	// n.membership when the change began; it shrinks to empty as each
	// one's replication lag falls within Config.NonVoterCatchUpLag,
	// gating the joint entry during membershipCatchingUp.
	pendingNewMembers map[NodeID]struct{}

	phase      membershipPhase
	jointIndex uint64
	resp       chan error
}

// ChangeMembership requests a joint-consensus transition of the
// voting set to exactly members. Only one change may be in flight at
// a time.
func (n *Node) ChangeMembership(ctx context.Context, members []NodeID) error {
	e := &changeMembershipEvent{ctx: ctx, members: members, resp: make(chan error, 1)}
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

func (n *Node) onChangeMembership(e *changeMembershipEvent) {
	if n.role != RoleLeader {
		e.resp <- &ChangeConfigError{NodeNotLeader: &NodeNotLeader{LeaderID: n.leaderID}}
		return
	}
	if n.membershipState != nil || n.membership.IsJoint() {
		e.resp <- &ChangeConfigError{Err: errMembershipChangeInProgress}
		return
	}

	target := make(map[NodeID]struct{}, len(e.members))
	for _, id := range e.members {
		target[id] = struct{}{}
	}

	// Any id in target this node doesn't already count as a voter is a
	// brand-new member: start replicating to it immediately (as a plain
	// peer, outside n.membership so it carries no vote weight yet) but
	// hold the joint proposal until it has caught up.
	pending := make(map[NodeID]struct{})
	for id := range target {
		if id == n.cfg.ID || n.membership.Contains(id) {
			continue
		}
		n.startPeerReplication(id)
		pending[id] = struct{}{}
	}

	st := &membershipChangeState{target: e.members, pendingNewMembers: pending, resp: e.resp}
	n.membershipState = st

	if len(pending) == 0 {
		n.proposeJointConfig(st, target)
		return
	}
	n.replicateToAll()
}

var errMembershipChangeInProgress = errors.New("raft: a membership change is already in progress")

// proposeJointConfig appends the joint-consensus entry once every new
// member in st.pendingNewMembers has caught up (or immediately, for a
// change that adds no new member at all).
func (n *Node) proposeJointConfig(st *membershipChangeState, target map[NodeID]struct{}) {
	joint := MembershipConfig{Members: n.membership.Members, MembersAfterConsensus: target}
	index, err := n.appendLocal(Entry{Payload: EntryPayload{Type: PayloadConfigChange, ConfigChange: joint}})
	if err != nil {
		st.resp <- &ChangeConfigError{Err: err}
		n.membershipState = nil
		return
	}
	n.membership = joint
	st.phase = membershipJoint
	st.jointIndex = index
	n.replicateToAll()
}

// checkJointConsensusCommitted is called by commit.go whenever
// commit_index advances; it drives the joint-consensus state machine
// forward across its two entries.
func (n *Node) checkJointConsensusCommitted(index uint64) {
	st := n.membershipState
	if st == nil || st.phase == membershipCatchingUp {
		return
	}

	if st.phase == membershipJoint {
		if index < st.jointIndex {
			return
		}
		finalSet := make(map[NodeID]struct{}, len(st.target))
		for _, id := range st.target {
			finalSet[id] = struct{}{}
		}
		finalConfig := MembershipConfig{Members: finalSet}
		finalIndex, err := n.appendLocal(Entry{Payload: EntryPayload{Type: PayloadConfigChange, ConfigChange: finalConfig}})
		if err != nil {
			st.resp <- &ChangeConfigError{Err: err}
			n.membershipState = nil
			return
		}
		n.membership = finalConfig
		st.jointIndex = finalIndex
		st.phase = membershipFinal
		n.dropPeersOutsideMembership()
		n.replicateToAll()
		return
	}

	if index >= st.jointIndex {
		st.resp <- nil
		n.membershipState = nil
	}
}

// dropPeersOutsideMembership stops replication streams for any peer
// the final configuration no longer includes (a removed member).
func (n *Node) dropPeersOutsideMembership() {
	all := n.membership.AllMembers()
	for id := range n.peers {
		if _, ok := all[id]; !ok {
			n.stopPeerReplication(id)
		}
	}
	if !n.membership.Contains(n.cfg.ID) {
		// This leader removed itself; it continues serving the cluster
		// until the final entry is applied, then checkOwnMembershipRole
		// (run on that entry's apply ack) steps it down to NonVoter.
		n.log.Infof("leader removed itself from membership, will step down")
	}
}

// checkNonVoterCaughtUp is called after every match_index update. If a
// ChangeMembership call is waiting on p to catch up (membershipCatchingUp),
// this is what actually promotes it: once p's replication lag falls
// within Config.NonVoterCatchUpLag it is dropped from
// pendingNewMembers, and once every pending member has cleared that
// bar the joint entry is proposed (spec.md §4.8 point 3). Outside that
// window it does nothing; a peer's match_index is still published in
// RaftMetrics.Peers either way.
func (n *Node) checkNonVoterCaughtUp(p *peerReplication) {
	st := n.membershipState
	if st == nil || st.phase != membershipCatchingUp {
		return
	}
	if _, waiting := st.pendingNewMembers[p.peer]; !waiting {
		return
	}
	if p.replicationLag(n.lastLogId.Index) > n.cfg.NonVoterCatchUpLag {
		return
	}

	delete(st.pendingNewMembers, p.peer)
	if len(st.pendingNewMembers) > 0 {
		return
	}

	target := make(map[NodeID]struct{}, len(st.target))
	for _, id := range st.target {
		target[id] = struct{}{}
	}
	n.proposeJointConfig(st, target)
}
