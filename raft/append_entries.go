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

// handleAppendEntries is the follower side of log replication and
// heartbeats. A heartbeat is simply a request with Entries == nil;
// it still must populate ConflictOpt on rejection, so a leader probing
// a lagging or newly joined non-voter with empty heartbeats still
// makes bisection progress instead of stalling until a real write
// arrives (a correctness gap in naive ports of this RPC).
func (n *Node) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	if req.Term < n.currentTerm {
		return &AppendEntriesResponse{Term: n.currentTerm, Success: false}
	}

	leader := req.LeaderID
	if n.stepDownIfStaleTerm(req.Term, &leader) {
		// stepDownIfStaleTerm already moved us to Follower in this term.
	} else if n.role == RoleCandidate && req.Term == n.currentTerm {
		n.becomeFollower(req.Term, &leader)
	} else if n.role == RoleFollower || n.role == RoleNonVoter {
		n.leaderID = &leader
	}
	n.resetElectionTimer(false)

	ok, conflict := n.checkLogMatch(req.PrevLogId)
	if !ok {
		return &AppendEntriesResponse{Term: n.currentTerm, Success: false, ConflictOpt: conflict}
	}

	if len(req.Entries) > 0 {
		if err := n.appendReplicatedEntries(req.Entries); err != nil {
			n.fatal(err)
			return &AppendEntriesResponse{Term: n.currentTerm, Success: false}
		}
	}

	if req.LeaderCommit > n.commitIndex.Load() {
		newCommit := req.LeaderCommit
		if n.lastLogId.Index < newCommit {
			newCommit = n.lastLogId.Index
		}
		if newCommit > n.commitIndex.Load() {
			n.commitIndex.Store(newCommit)
			n.wakeApplier()
		}
	}

	return &AppendEntriesResponse{Term: n.currentTerm, Success: true}
}

// checkLogMatch implements the log matching property check
// (spec.md §4.2): prevLogId must either be the zero sentinel, or must
// exactly match an entry this node holds at that index. On mismatch it
// returns a ConflictOpt bisection hint: the first index of the
// conflicting term if this node has an entry at prevLogId.Index, or
// this node's own last index if it is simply behind.
func (n *Node) checkLogMatch(prevLogId LogId) (bool, *ConflictOpt) {
	if prevLogId.IsZero() {
		return true, nil
	}
	if prevLogId.Index > n.lastLogId.Index {
		return false, &ConflictOpt{LogId: n.lastLogId}
	}

	entry, ok := n.localEntryAt(prevLogId.Index)
	if !ok {
		// Covered by a snapshot: treat as matching, since the snapshot
		// is itself proof of everything up to and including it.
		if prevLogId.Index <= n.snapshotLogId.Index {
			return true, nil
		}
		return false, &ConflictOpt{LogId: n.lastLogId}
	}
	if entry.LogId.Term == prevLogId.Term {
		return true, nil
	}

	conflictIndex := n.firstIndexOfTerm(entry.LogId.Term, prevLogId.Index)
	return false, &ConflictOpt{LogId: LogId{Term: entry.LogId.Term, Index: conflictIndex}}
}

// localEntryAt fetches a single local log entry, preferring the cache.
func (n *Node) localEntryAt(index uint64) (Entry, bool) {
	if e, ok := n.logCacheRef.get(index); ok {
		return e, true
	}
	entries, err := n.storage.GetLogEntries(n.ctx, index, index+1)
	if err != nil || len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// firstIndexOfTerm walks backward from upTo to find the earliest index
// still carrying term, so the leader's next probe can skip the entire
// conflicting term in one round trip instead of decrementing by one.
func (n *Node) firstIndexOfTerm(term uint64, upTo uint64) uint64 {
	idx := upTo
	for idx > 0 {
		e, ok := n.localEntryAt(idx - 1)
		if !ok || e.LogId.Term != term {
			break
		}
		idx--
	}
	return idx
}

// appendReplicatedEntries truncates any conflicting suffix and appends
// the leader's entries (spec.md Invariant 3: a follower truncates on
// conflict, a leader never truncates its own log).
func (n *Node) appendReplicatedEntries(entries []Entry) error {
	first := entries[0]
	if existing, ok := n.localEntryAt(first.LogId.Index); ok && existing.LogId.Term != first.LogId.Term {
		if err := n.storage.DeleteLogsFrom(n.ctx, first.LogId.Index); err != nil {
			return err
		}
		n.logCacheRef.truncateFrom(first.LogId.Index)
	}

	// Only append entries this node doesn't already hold identically,
	// in case the leader resent an overlapping batch after a timeout.
	toAppend := entries
	if existing, ok := n.localEntryAt(first.LogId.Index); ok && existing.LogId == first.LogId {
		toAppend = nil
		for i, e := range entries {
			existing, ok := n.localEntryAt(e.LogId.Index)
			if ok && existing.LogId.Term != e.LogId.Term {
				if err := n.storage.DeleteLogsFrom(n.ctx, e.LogId.Index); err != nil {
					return err
				}
				n.logCacheRef.truncateFrom(e.LogId.Index)
				ok = false
			}
			if !ok {
				toAppend = entries[i:]
				break
			}
		}
	}
	if len(toAppend) == 0 {
		n.updateLastLogId(entries[len(entries)-1].LogId)
		return nil
	}

	if err := n.storage.AppendToLog(n.ctx, toAppend); err != nil {
		return err
	}
	n.logCacheRef.append(toAppend)
	n.updateLastLogId(toAppend[len(toAppend)-1].LogId)
	return nil
}

func (n *Node) updateLastLogId(id LogId) {
	if n.lastLogId.Less(id) {
		n.lastLogId = id
	}
}
