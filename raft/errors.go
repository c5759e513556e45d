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
	"errors"
	"fmt"
)

// ShutdownError wraps a fatal storage failure. It is the only error
// variant that forces node termination; observing one anywhere (the
// applier, a replication worker, the event loop itself) transitions
// the node to Shutdown.
type ShutdownError struct {
	Cause error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("raft: fatal storage error, shutting down: %v", e.Cause)
}

func (e *ShutdownError) Unwrap() error { return e.Cause }

// IsShutdownError reports whether err is or wraps a ShutdownError.
func IsShutdownError(err error) bool {
	var se *ShutdownError
	return errors.As(err, &se)
}

// AppError wraps whatever the host's ApplyEntryToStateMachine
// returned. It does not affect protocol state; last_applied does not
// advance past the entry that produced it.
type AppError struct {
	Cause error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("raft: application error: %v", e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// ErrNotLeader is returned by ClientWrite/ClientRead/ChangeMembership
// when this node does not currently believe itself to be leader and no
// more specific error (carrying the known leader, if any) applies.
var ErrNotLeader = errors.New("raft: this node is not the leader")

// ErrShuttingDown is returned by any client-facing call made after
// Shutdown has begun.
var ErrShuttingDown = errors.New("raft: node is shutting down")

// ErrTimeout is returned by ClientRead when the leadership-confirming
// heartbeat round does not reach a quorum before the caller's context
// is done.
var ErrTimeout = errors.New("raft: request timed out")

// ClientWriteError is returned by Node.ClientWrite on failure.
type ClientWriteError struct {
	// ForwardToLeader is set when this node is not leader. LeaderID is
	// nil if no leader is currently known. Data is the original AppData
	// by value, so the caller can forward without reconstructing it.
	ForwardToLeader *ForwardToLeader

	// AppErr is set when the entry committed but the host's apply
	// returned a non-shutdown error.
	AppErr *AppError
}

// ForwardToLeader carries the caller's data back out when this node
// cannot service a ClientWrite itself.
type ForwardToLeader struct {
	LeaderID *NodeID
	Data     AppData
}

func (e *ClientWriteError) Error() string {
	switch {
	case e.ForwardToLeader != nil:
		if e.ForwardToLeader.LeaderID != nil {
			return fmt.Sprintf("raft: not leader, forward to %s", *e.ForwardToLeader.LeaderID)
		}
		return "raft: not leader, no leader known"
	case e.AppErr != nil:
		return e.AppErr.Error()
	default:
		return "raft: client write failed"
	}
}

func (e *ClientWriteError) Unwrap() error {
	if e.AppErr != nil {
		return e.AppErr
	}
	return nil
}

// ChangeConfigError is returned by Node.ChangeMembership on failure.
type ChangeConfigError struct {
	// NodeNotLeader is set when this node is not leader.
	NodeNotLeader *NodeNotLeader
	// Err is any other failure (e.g. a change already in flight).
	Err error
}

// NodeNotLeader carries the known leader id, if any.
type NodeNotLeader struct {
	LeaderID *NodeID
}

func (e *ChangeConfigError) Error() string {
	if e.NodeNotLeader != nil {
		if e.NodeNotLeader.LeaderID != nil {
			return fmt.Sprintf("raft: not leader, leader is %s", *e.NodeNotLeader.LeaderID)
		}
		return "raft: not leader, no leader known"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "raft: change membership failed"
}

func (e *ChangeConfigError) Unwrap() error { return e.Err }
