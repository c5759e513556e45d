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

import "sort"

// isMajority reports whether pred holds for a majority of c's voting
// members under joint consensus: both the old and the new set
// independently need their own majority (spec.md §4.8). Outside joint
// consensus there is only one set to satisfy.
func isMajority(c MembershipConfig, pred func(NodeID) bool) bool {
	if !setMajority(c.Members, pred) {
		return false
	}
	if c.IsJoint() {
		return setMajority(c.MembersAfterConsensus, pred)
	}
	return true
}

func setMajority(set map[NodeID]struct{}, pred func(NodeID) bool) bool {
	if len(set) == 0 {
		return true
	}
	count := 0
	for id := range set {
		if pred(id) {
			count++
		}
	}
	return count*2 > len(set)
}

// matchIndexOf returns id's replicated position: the leader's own
// last_log_index for itself, or the tracked peer's match_index.
func (n *Node) matchIndexOf(id NodeID) uint64 {
	if id == n.cfg.ID {
		return n.lastLogId.Index
	}
	if p, ok := n.peers[id]; ok {
		return p.matchIndex
	}
	return 0
}

// recalculateCommitIndex recomputes commit_index as the highest index
// N such that a majority of voters (both halves, under joint
// consensus) have match_index >= N, restricted to entries from the
// current term (the Figure 8 safety rule: a leader only directly
// commits entries from its own term, and prior-term entries commit
// transitively once a current-term entry at a higher index does).
// Called by the loop after every match_index update, and on the
// leader's own append when it is the only voter.
func (n *Node) recalculateCommitIndex() {
	if n.role != RoleLeader {
		return
	}

	candidates := n.majorityCandidateIndexes()
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))

	for _, idx := range candidates {
		index := uint64(idx)
		if index <= n.commitIndex.Load() {
			break
		}
		entry, ok := n.localEntryAt(index)
		if !ok {
			continue
		}
		if entry.LogId.Term != n.currentTerm {
			continue
		}
		n.advanceCommitIndex(index)
		return
	}
}

// majorityCandidateIndexes returns every index that forms a majority
// match point under joint consensus, as plain ints for sorting
// (indexes fit comfortably since they bound a practical log length).
func (n *Node) majorityCandidateIndexes() []int {
	seen := make(map[uint64]struct{})
	var out []int
	consider := func(id NodeID) {
		idx := n.matchIndexOf(id)
		if _, ok := seen[idx]; ok {
			return
		}
		seen[idx] = struct{}{}
		if isMajority(n.membership, func(peer NodeID) bool {
			return n.matchIndexOf(peer) >= idx
		}) {
			out = append(out, int(idx))
		}
	}
	for id := range n.membership.AllMembers() {
		consider(id)
	}
	return out
}

func (n *Node) advanceCommitIndex(index uint64) {
	if index <= n.commitIndex.Load() {
		return
	}
	n.commitIndex.Store(index)
	n.log.Debugf("commit_index advanced to %d", index)
	n.wakeApplier()
	n.checkJointConsensusCommitted(index)
}
