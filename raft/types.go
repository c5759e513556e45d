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
Package raft implements the core of an embeddable Raft consensus node:
the role state machine (Follower/Candidate/Leader/NonVoter), the
per-peer replication engines a leader runs, snapshot streaming, and
joint-consensus membership changes.

The package does not implement a log store, a state machine, or a
network transport — those are supplied by the host through the Storage
and Network interfaces. See the package-level docs for AppData, Storage
and Network for the contracts a host must satisfy.
*/
package raft

import (
	"fmt"
)

// NodeID identifies a single node across the cluster's lifetime.
type NodeID string

// LogId is Raft's canonical position reference: a (term, index) pair.
// It is the only identity used to refer to a log position throughout
// the package; term and index are never passed separately across
// internal interfaces.
type LogId struct {
	Term  uint64
	Index uint64
}

// ZeroLogId is the sentinel "no log" position.
var ZeroLogId = LogId{Term: 0, Index: 0}

// IsZero reports whether id is the sentinel (0, 0) position.
func (id LogId) IsZero() bool {
	return id.Term == 0 && id.Index == 0
}

// Less reports whether id sorts before other: compare term, then index.
func (id LogId) Less(other LogId) bool {
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

// LessOrEqual reports id <= other under the (term, index) order.
func (id LogId) LessOrEqual(other LogId) bool {
	return id == other || id.Less(other)
}

func (id LogId) String() string {
	return fmt.Sprintf("(%d,%d)", id.Term, id.Index)
}

// EntryPayloadType discriminates the variants of EntryPayload.
type EntryPayloadType int

const (
	// PayloadBlank is a no-op committed by a new leader at the start
	// of its term, to commit prior-term entries transitively.
	PayloadBlank EntryPayloadType = iota
	// PayloadNormal carries a host-supplied AppData command.
	PayloadNormal
	// PayloadConfigChange carries a MembershipConfig.
	PayloadConfigChange
	// PayloadSnapshotPointer replaces log entries discarded by a
	// snapshot install; it carries the LogId of the snapshot that
	// subsumed them.
	PayloadSnapshotPointer
)

func (t EntryPayloadType) String() string {
	switch t {
	case PayloadBlank:
		return "Blank"
	case PayloadNormal:
		return "Normal"
	case PayloadConfigChange:
		return "ConfigChange"
	case PayloadSnapshotPointer:
		return "SnapshotPointer"
	default:
		return "Unknown"
	}
}

// EntryPayload is the tagged union of what an Entry can carry. Only the
// field matching Type is meaningful.
type EntryPayload struct {
	Type            EntryPayloadType
	Normal          AppData
	ConfigChange    MembershipConfig
	SnapshotPointer LogId
}

// Entry is a single slot in the replicated log.
type Entry struct {
	LogId   LogId
	Payload EntryPayload
}

// AppData is the opaque, host-supplied command type. It must be
// serializable and apply deterministically to the host's state
// machine; the host's storage and transport implementations are
// responsible for encoding and decoding it.
type AppData = any

// AppDataResponse is what the host's apply_entry_to_state_machine
// returns to the client awaiting that entry's commit.
type AppDataResponse = any

// HardState is the durable (current_term, voted_for) pair that must
// survive crashes to uphold election safety. It must be flushed to
// stable storage before any RPC reply that depends on it is sent.
type HardState struct {
	CurrentTerm uint64
	VotedFor    *NodeID
}

// MembershipConfig describes the voting set. A non-nil
// MembersAfterConsensus means the cluster is in joint consensus: both
// sets must independently form a majority for an entry to commit.
type MembershipConfig struct {
	Members                map[NodeID]struct{}
	MembersAfterConsensus   map[NodeID]struct{}
}

// IsJoint reports whether this config represents an in-flight joint
// consensus (two active member sets).
func (c MembershipConfig) IsJoint() bool {
	return c.MembersAfterConsensus != nil
}

// AllMembers returns the union of both member sets (one set outside
// joint consensus).
func (c MembershipConfig) AllMembers() map[NodeID]struct{} {
	out := make(map[NodeID]struct{}, len(c.Members))
	for id := range c.Members {
		out[id] = struct{}{}
	}
	for id := range c.MembersAfterConsensus {
		out[id] = struct{}{}
	}
	return out
}

// Contains reports whether id is a voting member of either active set.
func (c MembershipConfig) Contains(id NodeID) bool {
	if _, ok := c.Members[id]; ok {
		return true
	}
	if c.MembersAfterConsensus != nil {
		if _, ok := c.MembersAfterConsensus[id]; ok {
			return true
		}
	}
	return false
}

// NewMembershipConfig builds a single-set (non-joint) configuration.
func NewMembershipConfig(members ...NodeID) MembershipConfig {
	set := make(map[NodeID]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return MembershipConfig{Members: set}
}

// InitialState is what Storage.GetInitialState returns on node
// construction.
type InitialState struct {
	LastLogId        LogId
	LastAppliedLogId LogId
	HardState        HardState
	Membership       MembershipConfig
	SnapshotLogId    LogId
}

// SnapshotId is an opaque identifier unique to a single snapshot
// stream, minted fresh by the builder (Storage.DoLogCompaction) each
// time a snapshot is produced. It guards receivers against
// concatenating segments from different snapshots.
type SnapshotId string

// SnapshotSegmentId keys a single segment within a snapshot stream.
type SnapshotSegmentId struct {
	SnapshotId SnapshotId
	Offset     uint64
}

// SnapshotMeta describes a completed or in-progress snapshot.
type SnapshotMeta struct {
	LastIncludedLogId LogId
	Membership        MembershipConfig
	SnapshotId        SnapshotId
}
