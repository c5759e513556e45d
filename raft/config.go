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
	"fmt"
	"time"
)

// SnapshotPolicyKind selects how the storage layer decides to compact
// its log into a snapshot.
type SnapshotPolicyKind int

const (
	// SnapshotLogsSinceLast builds a snapshot once last_applied_index
	// minus the last snapshot's index reaches N.
	SnapshotLogsSinceLast SnapshotPolicyKind = iota
	// SnapshotNever disables threshold-triggered snapshot building;
	// forced builds for a lagging follower (spec.md §4.5) still occur.
	SnapshotNever
)

// SnapshotPolicy configures automatic snapshot-build triggering.
type SnapshotPolicy struct {
	Kind      SnapshotPolicyKind
	Threshold uint64 // meaningful only when Kind == SnapshotLogsSinceLast
}

// LogsSinceLast returns a SnapshotPolicy that triggers after n applied
// entries since the last snapshot.
func LogsSinceLast(n uint64) SnapshotPolicy {
	return SnapshotPolicy{Kind: SnapshotLogsSinceLast, Threshold: n}
}

// NeverSnapshot returns a SnapshotPolicy that never threshold-triggers.
func NeverSnapshot() SnapshotPolicy {
	return SnapshotPolicy{Kind: SnapshotNever}
}

// Config carries the protocol-relevant knobs of a Node. It does not
// carry host bootstrap concerns (bind address, data directory, TLS) —
// those belong to the host's own configuration layer (see
// internal/config for the reference one cmd/raftd uses).
type Config struct {
	// ID is this node's identity.
	ID NodeID

	// ElectionTimeoutMin/Max bound the uniformly sampled per-election
	// timeout. Max must be more than twice Min.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval must be strictly less than
	// ElectionTimeoutMin/2.
	HeartbeatInterval time.Duration

	// MaxPayloadEntries bounds how many log entries a single
	// AppendEntries batch carries.
	MaxPayloadEntries int

	// SnapshotPolicy controls threshold-triggered snapshot building.
	SnapshotPolicy SnapshotPolicy

	// SnapshotMaxChunkSize bounds the size of a single InstallSnapshot
	// segment.
	SnapshotMaxChunkSize int

	// ReplicationLagThreshold is the number of consecutive failed or
	// overdue round trips to a peer before it is classified Lagging in
	// RaftMetrics, independent of next_index bookkeeping.
	ReplicationLagThreshold int

	// EnablePreVote gates an optional pre-vote round a Follower runs
	// before bumping its term, guarding against a partitioned node's
	// spurious elections disrupting a healthy leader.
	EnablePreVote bool

	// RecoveryElectionTimeout is the election timeout used the first
	// time a node boots into the voting set, chosen large so a
	// recovering node doesn't disrupt an already-running cluster.
	RecoveryElectionTimeout time.Duration

	// NonVoterCatchUpLag is the match_index distance from the
	// leader's last_log_index within which a NonVoter is considered
	// caught up and eligible to be rolled into a joint config.
	NonVoterCatchUpLag uint64

	// Logger receives the node's structured log output. Defaults to a
	// no-op logger if nil.
	Logger Logger
}

// DefaultConfig returns sensible defaults matching the bounds spec.md
// §4.1/§6 requires (Max > 2*Min, Heartbeat < Min/2).
func DefaultConfig(id NodeID) Config {
	return Config{
		ID:                      id,
		ElectionTimeoutMin:      150 * time.Millisecond,
		ElectionTimeoutMax:      400 * time.Millisecond,
		HeartbeatInterval:       50 * time.Millisecond,
		MaxPayloadEntries:       256,
		SnapshotPolicy:          LogsSinceLast(10000),
		SnapshotMaxChunkSize:    1 << 20, // 1 MiB
		ReplicationLagThreshold: 3,
		EnablePreVote:           true,
		RecoveryElectionTimeout: 30 * time.Second,
		NonVoterCatchUpLag:      10,
		Logger:                  nopLogger{},
	}
}

// Validate checks the invariants spec.md §4.1/§6 place on timing.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("raft: Config.ID must not be empty")
	}
	if c.ElectionTimeoutMax <= 2*c.ElectionTimeoutMin {
		return fmt.Errorf("raft: ElectionTimeoutMax (%s) must be more than 2x ElectionTimeoutMin (%s)",
			c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin/2 {
		return fmt.Errorf("raft: HeartbeatInterval (%s) must be strictly less than ElectionTimeoutMin/2 (%s)",
			c.HeartbeatInterval, c.ElectionTimeoutMin/2)
	}
	if c.MaxPayloadEntries <= 0 {
		return fmt.Errorf("raft: MaxPayloadEntries must be positive")
	}
	if c.SnapshotMaxChunkSize <= 0 {
		return fmt.Errorf("raft: SnapshotMaxChunkSize must be positive")
	}
	return nil
}

func (c Config) logger() Logger {
	if c.Logger == nil {
		return nopLogger{}
	}
	return c.Logger
}
