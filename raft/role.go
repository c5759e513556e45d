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

// Role is the node's position in the role state machine (spec.md
// §4.1): NonVoter -> Follower -> Candidate -> Leader, with every
// non-Shutdown role able to step down to Follower on a higher term,
// and any role able to move to Shutdown.
type Role int32

const (
	// RoleNonVoter receives and applies replicated entries but never
	// starts an election and is never counted toward quorum. A node
	// boots into this role whenever Storage reports a membership that
	// does not include it, and a freshly added member starts here
	// until it catches up (spec.md §4.8).
	RoleNonVoter Role = iota
	RoleFollower
	RoleCandidate
	RoleLeader
	RoleShutdown
)

func (r Role) String() string {
	switch r {
	case RoleNonVoter:
		return "NonVoter"
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	case RoleShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// becomeFollower steps the node down to Follower in term. Any
// in-flight election or leadership bookkeeping (peers map, vote
// tally) is discarded. Called with a term >= currentTerm; the caller
// is responsible for having already decided to step down.
func (n *Node) becomeFollower(term uint64, leader *NodeID) {
	wasLeader := n.role == RoleLeader
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = nil
	}
	n.role = RoleFollower
	n.leaderID = leader
	n.voteTally = nil

	if wasLeader {
		n.stopReplication()
	}
	n.resetElectionTimer(false)
	n.persistHardState()
}

// becomeNonVoter drops the node to NonVoter and forgets the leader.
// Nothing calls it: NewNode, onElectionTimeout and
// checkOwnMembershipRole set RoleNonVoter directly.
func (n *Node) becomeNonVoter() {
	n.role = RoleNonVoter
	n.leaderID = nil
}

// stepDownIfStaleTerm steps the node down to Follower if term exceeds
// currentTerm, returning whether it did. Every RPC handler and every
// RPC response handler calls this first (spec.md Invariant 1).
func (n *Node) stepDownIfStaleTerm(term uint64, leader *NodeID) bool {
	if term <= n.currentTerm {
		return false
	}
	n.log.Debugf("observed higher term %d (was %d), stepping down", term, n.currentTerm)
	n.becomeFollower(term, leader)
	return true
}
