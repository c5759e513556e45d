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
	"testing"
)

func TestLogIdOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b LogId
		less bool
	}{
		{"lower term sorts first", LogId{Term: 1, Index: 100}, LogId{Term: 2, Index: 1}, true},
		{"equal term compares index", LogId{Term: 5, Index: 3}, LogId{Term: 5, Index: 4}, true},
		{"equal ids are not less", LogId{Term: 5, Index: 4}, LogId{Term: 5, Index: 4}, false},
		{"higher term is not less", LogId{Term: 5, Index: 0}, LogId{Term: 4, Index: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.less {
				t.Errorf("Less() = %v, want %v", got, tt.less)
			}
		})
	}
}

func TestLogIdLessOrEqual(t *testing.T) {
	a := LogId{Term: 3, Index: 9}
	if !a.LessOrEqual(a) {
		t.Error("expected a LogId to be <= itself")
	}
	if !a.LessOrEqual(LogId{Term: 3, Index: 10}) {
		t.Error("expected (3,9) <= (3,10)")
	}
	if a.LessOrEqual(LogId{Term: 3, Index: 8}) {
		t.Error("expected (3,9) to not be <= (3,8)")
	}
}

func TestLogIdIsZero(t *testing.T) {
	if !ZeroLogId.IsZero() {
		t.Error("ZeroLogId.IsZero() should be true")
	}
	if (LogId{Term: 0, Index: 1}).IsZero() {
		t.Error("(0,1) should not be zero")
	}
}

func TestLogIdString(t *testing.T) {
	if got := (LogId{Term: 2, Index: 7}).String(); got != "(2,7)" {
		t.Errorf("String() = %q, want (2,7)", got)
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleNonVoter, "NonVoter"},
		{RoleFollower, "Follower"},
		{RoleCandidate, "Candidate"},
		{RoleLeader, "Leader"},
		{RoleShutdown, "Shutdown"},
		{Role(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestEntryPayloadTypeString(t *testing.T) {
	tests := []struct {
		typ  EntryPayloadType
		want string
	}{
		{PayloadBlank, "Blank"},
		{PayloadNormal, "Normal"},
		{PayloadConfigChange, "ConfigChange"},
		{PayloadSnapshotPointer, "SnapshotPointer"},
		{EntryPayloadType(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("EntryPayloadType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestNewMembershipConfigIsNotJoint(t *testing.T) {
	cfg := NewMembershipConfig("n1", "n2", "n3")
	if cfg.IsJoint() {
		t.Error("a freshly built config should not be joint")
	}
	for _, id := range []NodeID{"n1", "n2", "n3"} {
		if !cfg.Contains(id) {
			t.Errorf("expected config to contain %s", id)
		}
	}
	if cfg.Contains("n4") {
		t.Error("did not expect config to contain n4")
	}
}

func TestMembershipConfigJointConsensus(t *testing.T) {
	cfg := MembershipConfig{
		Members:               map[NodeID]struct{}{"n1": {}, "n2": {}, "n3": {}},
		MembersAfterConsensus: map[NodeID]struct{}{"n2": {}, "n3": {}, "n4": {}},
	}
	if !cfg.IsJoint() {
		t.Error("expected a config with MembersAfterConsensus set to be joint")
	}

	all := cfg.AllMembers()
	for _, id := range []NodeID{"n1", "n2", "n3", "n4"} {
		if _, ok := all[id]; !ok {
			t.Errorf("expected AllMembers to include %s", id)
		}
	}
	if len(all) != 4 {
		t.Errorf("expected 4 distinct members in the union, got %d", len(all))
	}

	if !cfg.Contains("n1") {
		t.Error("n1 is only in the old set but should still count as a member during joint consensus")
	}
	if !cfg.Contains("n4") {
		t.Error("n4 is only in the new set but should still count as a member during joint consensus")
	}
}

func TestClientWriteErrorMessages(t *testing.T) {
	leader := NodeID("n2")

	fwd := &ClientWriteError{ForwardToLeader: &ForwardToLeader{LeaderID: &leader}}
	if got := fwd.Error(); got == "" {
		t.Error("expected a non-empty message")
	}

	unknown := &ClientWriteError{ForwardToLeader: &ForwardToLeader{LeaderID: nil}}
	if got := unknown.Error(); got != "raft: not leader, no leader known" {
		t.Errorf("Error() = %q, want the no-leader-known message", got)
	}

	cause := errors.New("disk full")
	appErr := &ClientWriteError{AppErr: &AppError{Cause: cause}}
	if !errors.Is(appErr, cause) {
		t.Error("expected ClientWriteError to unwrap to its AppErr's cause")
	}
}

func TestChangeConfigErrorMessages(t *testing.T) {
	leader := NodeID("n3")
	notLeader := &ChangeConfigError{NodeNotLeader: &NodeNotLeader{LeaderID: &leader}}
	if got := notLeader.Error(); got != "raft: not leader, leader is n3" {
		t.Errorf("Error() = %q, want the leader-is-n3 message", got)
	}

	cause := errors.New("change already in flight")
	wrapped := &ChangeConfigError{Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("expected ChangeConfigError to unwrap to its Err")
	}
}

func TestIsShutdownError(t *testing.T) {
	cause := errors.New("write failed")
	se := &ShutdownError{Cause: cause}
	if !IsShutdownError(se) {
		t.Error("expected IsShutdownError to recognize a *ShutdownError")
	}
	if !errors.Is(se, cause) {
		t.Error("expected ShutdownError to unwrap to its cause")
	}
	if IsShutdownError(cause) {
		t.Error("did not expect a plain error to be recognized as a ShutdownError")
	}
}
