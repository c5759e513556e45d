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

package memstore

import (
	"context"
	"testing"

	"raft/raft"
)

func TestAppendAndReadLogEntries(t *testing.T) {
	s := NewStorage("node-a")
	ctx := context.Background()

	entries := []raft.Entry{
		{LogId: raft.LogId{Term: 1, Index: 1}, Payload: raft.EntryPayload{Type: raft.PayloadBlank}},
		{LogId: raft.LogId{Term: 1, Index: 2}, Payload: raft.EntryPayload{Type: raft.PayloadNormal, Normal: Command{Op: OpSet, Key: "a", Value: []byte("1")}}},
		{LogId: raft.LogId{Term: 1, Index: 3}, Payload: raft.EntryPayload{Type: raft.PayloadNormal, Normal: Command{Op: OpSet, Key: "b", Value: []byte("2")}}},
	}
	if err := s.AppendToLog(ctx, entries); err != nil {
		t.Fatalf("AppendToLog: %v", err)
	}

	got, err := s.GetLogEntries(ctx, 2, 4)
	if err != nil {
		t.Fatalf("GetLogEntries: %v", err)
	}
	if len(got) != 2 || got[0].LogId.Index != 2 || got[1].LogId.Index != 3 {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestDeleteLogsFromTruncates(t *testing.T) {
	s := NewStorage("node-a")
	ctx := context.Background()
	s.AppendToLog(ctx, []raft.Entry{
		{LogId: raft.LogId{Term: 1, Index: 1}},
		{LogId: raft.LogId{Term: 1, Index: 2}},
		{LogId: raft.LogId{Term: 2, Index: 3}},
	})

	if err := s.DeleteLogsFrom(ctx, 2); err != nil {
		t.Fatalf("DeleteLogsFrom: %v", err)
	}
	got, err := s.GetLogEntries(ctx, 1, 10)
	if err != nil {
		t.Fatalf("GetLogEntries: %v", err)
	}
	if len(got) != 1 || got[0].LogId.Index != 1 {
		t.Fatalf("expected only index 1 to remain, got %+v", got)
	}
}

func TestApplyEntryToStateMachineSetAndGet(t *testing.T) {
	s := NewStorage("node-a")
	ctx := context.Background()

	entry := raft.Entry{
		LogId:   raft.LogId{Term: 1, Index: 1},
		Payload: raft.EntryPayload{Type: raft.PayloadNormal, Normal: Command{Op: OpSet, Key: "x", Value: []byte("hello")}},
	}
	resp, err := s.ApplyEntryToStateMachine(ctx, entry)
	if err != nil {
		t.Fatalf("ApplyEntryToStateMachine: %v", err)
	}
	if resp != "OK" {
		t.Errorf("expected OK response, got %v", resp)
	}

	v, ok := s.Get("x")
	if !ok || string(v) != "hello" {
		t.Errorf("expected x=hello, got %q ok=%v", v, ok)
	}

	initial, err := s.GetInitialState(ctx)
	if err != nil {
		t.Fatalf("GetInitialState: %v", err)
	}
	if initial.LastAppliedLogId != entry.LogId {
		t.Errorf("expected LastAppliedLogId %v, got %v", entry.LogId, initial.LastAppliedLogId)
	}
}

func TestApplyEntryRejectsWrongAppDataType(t *testing.T) {
	s := NewStorage("node-a")
	entry := raft.Entry{
		LogId:   raft.LogId{Term: 1, Index: 1},
		Payload: raft.EntryPayload{Type: raft.PayloadNormal, Normal: "not a Command"},
	}
	if _, err := s.ApplyEntryToStateMachine(context.Background(), entry); err == nil {
		t.Error("expected an error for a non-Command AppData payload")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStorage("node-a", "node-b")
	ctx := context.Background()

	for i, kv := range [][2]string{{"alpha", "1"}, {"beta", "2"}, {"gamma", "3"}} {
		entry := raft.Entry{
			LogId:   raft.LogId{Term: 1, Index: uint64(i + 1)},
			Payload: raft.EntryPayload{Type: raft.PayloadNormal, Normal: Command{Op: OpSet, Key: kv[0], Value: []byte(kv[1])}},
		}
		if _, err := s.ApplyEntryToStateMachine(ctx, entry); err != nil {
			t.Fatalf("ApplyEntryToStateMachine: %v", err)
		}
	}

	snap, err := s.DoLogCompaction(ctx)
	if err != nil {
		t.Fatalf("DoLogCompaction: %v", err)
	}

	dst := NewStorage("node-a", "node-b")
	w, err := dst.CreateSnapshot(ctx, snap.Meta.SnapshotId)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	buf := make([]byte, 4096)
	n, _ := snap.DataStream.Read(buf)
	if err := w.WriteAt(0, buf[:n]); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := dst.FinalizeSnapshotInstallation(ctx, snap.Meta); err != nil {
		t.Fatalf("FinalizeSnapshotInstallation: %v", err)
	}

	v, ok := dst.Get("beta")
	if !ok || string(v) != "2" {
		t.Errorf("expected beta=2 after snapshot install, got %q ok=%v", v, ok)
	}
}

func TestSortedSnapshotIsDeterministicallyOrdered(t *testing.T) {
	s := NewStorage("node-a")
	s.kv = map[string][]byte{"zebra": {1}, "apple": {2}, "mango": {3}}

	snap := s.sortedSnapshot()
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap.Entries))
	}
	for i := 1; i < len(snap.Entries); i++ {
		if s.collator.CompareString(snap.Entries[i-1].Key, snap.Entries[i].Key) > 0 {
			t.Errorf("entries not sorted: %q came before %q", snap.Entries[i-1].Key, snap.Entries[i].Key)
		}
	}
}
