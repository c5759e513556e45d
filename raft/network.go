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

// Network sends an RPC to a peer and awaits its typed response. The
// contract requires at-most-once delivery per call and accurate peer
// identity; the core treats a returned error as "no answer" (neither
// accepted nor rejected) and retries on its own schedule.
//
// internal/transport provides a framed-TCP implementation of this
// contract the reference cmd/raftd binary wires in.
type Network interface {
	SendAppendEntries(ctx context.Context, target NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	SendVote(ctx context.Context, target NodeID, req *VoteRequest) (*VoteResponse, error)
	SendInstallSnapshot(ctx context.Context, target NodeID, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

// AppendEntriesRequest is the leader's log-shipping / heartbeat RPC.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogId    LogId
	Entries      []Entry
	LeaderCommit uint64
}

// ConflictOpt is the bisection hint a rejecting follower returns,
// pointing to the first index where its log diverges from the
// leader's. It must be populated even when Entries is empty, so a
// heartbeat probing a lagging non-voter yields progress.
type ConflictOpt struct {
	LogId LogId
}

// AppendEntriesResponse is the follower's reply.
type AppendEntriesResponse struct {
	Term        uint64
	Success     bool
	ConflictOpt *ConflictOpt
}

// VoteRequest is the candidate's election RPC.
type VoteRequest struct {
	Term        uint64
	CandidateID NodeID
	LastLogId   LogId
	PreVote     bool
}

// VoteResponse is the voter's reply.
type VoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// InstallSnapshotRequest carries one segment of a snapshot stream.
type InstallSnapshotRequest struct {
	Term       uint64
	LeaderID   NodeID
	Meta       SnapshotMeta
	SnapshotId SnapshotId
	Offset     uint64
	Data       []byte
	Done       bool
}

// InstallSnapshotResponse is the follower's reply. Mismatch reports a
// segment whose snapshot id or offset the follower did not expect; the
// leader-side stream (see snapshot.go) then abandons the stream and the
// next replication round restarts it from offset 0.
type InstallSnapshotResponse struct {
	Term     uint64
	Mismatch bool
}
