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

// CurrentSnapshotData is what Storage.GetCurrentSnapshot /
// Storage.DoLogCompaction return: a snapshot's metadata plus a stream
// the caller reads the snapshot bytes from.
type CurrentSnapshotData struct {
	Meta       SnapshotMeta
	DataStream SnapshotReader
}

// SnapshotReader is the minimal byte-stream contract a snapshot's data
// is read through; satisfied by *os.File or any io.ReadCloser.
type SnapshotReader interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Storage is the durable log + state-machine + hard-state + snapshot
// I/O contract. The core never reasons about bytes on disk; it only
// calls through this interface, and requires the implementation to:
//
//   - serialize its own operations (it is shared between the event
//     loop and the dedicated applier goroutine);
//   - make append_to_log entries visible to get_log_entries in the
//     same order they were appended;
//   - flush HardState before returning from SaveHardState, since the
//     core sends dependent RPC replies immediately after that call
//     returns.
//
// Implementations should return ShutdownError (see errors.go) for any
// failure that leaves the store's durability guarantees in doubt; any
// other error from ApplyEntryToStateMachine is treated as an
// application-level failure and surfaced to the waiting client only.
type Storage interface {
	// GetInitialState is called once, at node construction.
	GetInitialState(ctx context.Context) (InitialState, error)

	// SaveHardState durably persists HardState before the core sends
	// any RPC reply that depends on it.
	SaveHardState(ctx context.Context, hs HardState) error

	// GetLogEntries returns entries with index in [lo, hi).
	GetLogEntries(ctx context.Context, lo, hi uint64) ([]Entry, error)

	// AppendToLog appends entries in strictly increasing index order.
	AppendToLog(ctx context.Context, entries []Entry) error

	// DeleteLogsFrom deletes all log entries with index >= from. Used
	// only on a follower resolving a log conflict (spec.md §4.2); a
	// leader never truncates its own log (Invariant 3).
	DeleteLogsFrom(ctx context.Context, from uint64) error

	// ApplyEntryToStateMachine applies a single committed entry and
	// returns the host's response. A ShutdownError return terminates
	// the node; any other error is surfaced to the client awaiting
	// this entry and last_applied does not advance past it.
	ApplyEntryToStateMachine(ctx context.Context, entry Entry) (AppDataResponse, error)

	// ReplicateToStateMachine applies a batch of entries on a
	// follower that has no client awaiting their responses.
	ReplicateToStateMachine(ctx context.Context, entries []Entry) error

	// DoLogCompaction builds a new snapshot, minting a fresh
	// SnapshotId for the stream (the core never guesses one).
	DoLogCompaction(ctx context.Context) (CurrentSnapshotData, error)

	// CreateSnapshot begins staging a snapshot stream received via
	// InstallSnapshot, returning a writer for its segments.
	CreateSnapshot(ctx context.Context, id SnapshotId) (SnapshotWriter, error)

	// FinalizeSnapshotInstallation atomically installs a fully
	// received snapshot, discarding log entries at or below
	// meta.LastIncludedLogId and replacing them with a
	// PayloadSnapshotPointer, then advances last_applied to that
	// LogId.
	FinalizeSnapshotInstallation(ctx context.Context, meta SnapshotMeta) error

	// GetCurrentSnapshot returns the most recently installed or built
	// snapshot, if any.
	GetCurrentSnapshot(ctx context.Context) (*CurrentSnapshotData, error)
}

// SnapshotWriter receives snapshot segments at the offsets the
// follower-side snapshot protocol (snapshot.go) hands it, in order.
type SnapshotWriter interface {
	WriteAt(offset uint64, data []byte) error
	Close() error
}
