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

// Package memstore is a reference, in-memory raft.Storage: a key/value
// state machine plus an in-memory log, hard state, and snapshot store.
// It exists for tests and the cmd/raftd binary; a production host
// embedding raft.Node would back Storage with a durable engine instead.
package memstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"raft/raft"
)

func init() {
	// Command travels inside raft.Entry.Payload.Normal, an any, whenever
	// a host gob-encodes entries over internal/transport; gob requires
	// concrete types carried through an interface to be registered.
	gob.Register(Command{})
}

// Op identifies a Command's kind.
type Op int

const (
	// OpSet stores Value under Key.
	OpSet Op = iota
	// OpDelete removes Key.
	OpDelete
)

// Command is the AppData this store understands. Hosts that embed
// raft.Node with memstore encode every client write as a Command.
type Command struct {
	Op    Op
	Key   string
	Value []byte
}

// kvSnapshot is what DoLogCompaction serializes and
// FinalizeSnapshotInstallation restores; keys are written in collated
// order so two nodes that independently build a snapshot of the same
// state produce byte-identical output, regardless of host locale or Go
// map iteration order.
type kvSnapshot struct {
	Entries []kvEntry
}

type kvEntry struct {
	Key   string
	Value []byte
}

// Storage is an in-memory raft.Storage. The zero value is not usable;
// construct with NewStorage.
type Storage struct {
	mu sync.Mutex

	hardState  raft.HardState
	membership raft.MembershipConfig
	log        []raft.Entry // log[i] is the entry at index firstIndex()+i (index i+1 until a snapshot install trims the prefix)

	lastApplied raft.LogId
	snapshot    *raft.CurrentSnapshotData
	kv          map[string][]byte

	pending  map[raft.SnapshotId]*snapshotBuilder
	collator *collate.Collator
}

// NewStorage returns an empty Storage whose initial membership is
// members; pass the cluster's bootstrap voting set here the same way
// a durable store is seeded on first run.
func NewStorage(members ...raft.NodeID) *Storage {
	return &Storage{
		membership: raft.NewMembershipConfig(members...),
		kv:         make(map[string][]byte),
		pending:    make(map[raft.SnapshotId]*snapshotBuilder),
		collator:   collate.New(language.Und),
	}
}

// GetInitialState implements raft.Storage.
func (s *Storage) GetInitialState(ctx context.Context) (raft.InitialState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := raft.ZeroLogId
	if n := len(s.log); n > 0 {
		last = s.log[n-1].LogId
	}
	snapshotLogId := raft.ZeroLogId
	if s.snapshot != nil {
		snapshotLogId = s.snapshot.Meta.LastIncludedLogId
	}
	return raft.InitialState{
		LastLogId:        last,
		LastAppliedLogId: s.lastApplied,
		HardState:        s.hardState,
		Membership:       s.membership,
		SnapshotLogId:    snapshotLogId,
	}, nil
}

// SaveHardState implements raft.Storage.
func (s *Storage) SaveHardState(ctx context.Context, hs raft.HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardState = hs
	return nil
}

func (s *Storage) firstIndex() uint64 {
	if len(s.log) == 0 {
		return 1
	}
	return s.log[0].LogId.Index
}

// GetLogEntries implements raft.Storage.
func (s *Storage) GetLogEntries(ctx context.Context, lo, hi uint64) ([]raft.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.log) == 0 || lo >= hi {
		return nil, nil
	}
	first := s.firstIndex()
	startOff := int64(lo) - int64(first)
	endOff := int64(hi) - int64(first)
	if startOff < 0 {
		startOff = 0
	}
	if endOff > int64(len(s.log)) {
		endOff = int64(len(s.log))
	}
	if startOff >= endOff {
		return nil, nil
	}
	out := make([]raft.Entry, endOff-startOff)
	copy(out, s.log[startOff:endOff])
	return out, nil
}

// AppendToLog implements raft.Storage.
func (s *Storage) AppendToLog(ctx context.Context, entries []raft.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entries...)
	return nil
}

// DeleteLogsFrom implements raft.Storage.
func (s *Storage) DeleteLogsFrom(ctx context.Context, from uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) == 0 {
		return nil
	}
	first := s.firstIndex()
	cut := int64(from) - int64(first)
	if cut < 0 {
		cut = 0
	}
	if cut >= int64(len(s.log)) {
		return nil
	}
	s.log = s.log[:cut]
	return nil
}

func (s *Storage) apply(cmd Command) {
	switch cmd.Op {
	case OpSet:
		s.kv[cmd.Key] = cmd.Value
	case OpDelete:
		delete(s.kv, cmd.Key)
	}
}

// ApplyEntryToStateMachine implements raft.Storage. Non-Normal entries
// (Blank, ConfigChange, SnapshotPointer) are handled by the core itself
// and the core does not pass them here. If a Blank or ConfigChange is
// passed anyway, it only advances lastApplied (and, for ConfigChange,
// replaces s.membership); the key/value state is untouched.
func (s *Storage) ApplyEntryToStateMachine(ctx context.Context, entry raft.Entry) (raft.AppDataResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch entry.Payload.Type {
	case raft.PayloadConfigChange:
		s.membership = entry.Payload.ConfigChange
		s.lastApplied = entry.LogId
		return nil, nil
	case raft.PayloadBlank:
		s.lastApplied = entry.LogId
		return nil, nil
	}

	cmd, ok := entry.Payload.Normal.(Command)
	if !ok {
		return nil, fmt.Errorf("memstore: AppData is %T, want memstore.Command", entry.Payload.Normal)
	}
	s.apply(cmd)
	s.lastApplied = entry.LogId
	return "OK", nil
}

// ReplicateToStateMachine implements raft.Storage.
func (s *Storage) ReplicateToStateMachine(ctx context.Context, entries []raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		switch entry.Payload.Type {
		case raft.PayloadConfigChange:
			s.membership = entry.Payload.ConfigChange
		case raft.PayloadNormal:
			cmd, ok := entry.Payload.Normal.(Command)
			if !ok {
				return fmt.Errorf("memstore: AppData is %T, want memstore.Command", entry.Payload.Normal)
			}
			s.apply(cmd)
		}
		s.lastApplied = entry.LogId
	}
	return nil
}

// sortedSnapshot builds a kvSnapshot with keys ordered by s.collator, so
// the serialized form is stable across hosts regardless of Go's
// randomized map iteration or the OS locale.
func (s *Storage) sortedSnapshot() kvSnapshot {
	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.collator.CompareString(keys[i], keys[j]) < 0
	})
	out := kvSnapshot{Entries: make([]kvEntry, len(keys))}
	for i, k := range keys {
		out.Entries[i] = kvEntry{Key: k, Value: s.kv[k]}
	}
	return out
}

// DoLogCompaction implements raft.Storage.
func (s *Storage) DoLogCompaction(ctx context.Context) (raft.CurrentSnapshotData, error) {
	s.mu.Lock()
	snap := s.sortedSnapshot()
	meta := raft.SnapshotMeta{
		LastIncludedLogId: s.lastApplied,
		Membership:        s.membership,
		SnapshotId:        raft.SnapshotId(fmt.Sprintf("snap-%d-%d", s.lastApplied.Term, s.lastApplied.Index)),
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return raft.CurrentSnapshotData{}, fmt.Errorf("memstore: encode snapshot: %w", err)
	}

	data := &raft.CurrentSnapshotData{
		Meta:       meta,
		DataStream: io.NopCloser(bytes.NewReader(buf.Bytes())),
	}

	s.mu.Lock()
	s.snapshot = &raft.CurrentSnapshotData{Meta: meta, DataStream: io.NopCloser(bytes.NewReader(buf.Bytes()))}
	s.mu.Unlock()

	return *data, nil
}

// snapshotBuilder accumulates InstallSnapshot segments for one
// SnapshotId until FinalizeSnapshotInstallation consumes them.
type snapshotBuilder struct {
	mu   sync.Mutex
	data []byte
}

func (b *snapshotBuilder) WriteAt(offset uint64, chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := offset + uint64(len(chunk))
	if end > uint64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[offset:end], chunk)
	return nil
}

func (b *snapshotBuilder) Close() error { return nil }

// CreateSnapshot implements raft.Storage. The caller invokes this once
// per inbound segment for the lifetime of a stream, not once per
// stream, so this returns the same builder for an id already pending
// instead of discarding segments written before the latest call.
func (s *Storage) CreateSnapshot(ctx context.Context, id raft.SnapshotId) (raft.SnapshotWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.pending[id]; ok {
		return b, nil
	}
	b := &snapshotBuilder{}
	s.pending[id] = b
	return b, nil
}

// FinalizeSnapshotInstallation implements raft.Storage.
func (s *Storage) FinalizeSnapshotInstallation(ctx context.Context, meta raft.SnapshotMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.pending[meta.SnapshotId]
	if !ok {
		return fmt.Errorf("memstore: no staged snapshot for id %q", meta.SnapshotId)
	}
	delete(s.pending, meta.SnapshotId)

	var snap kvSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b.data)).Decode(&snap); err != nil {
		return fmt.Errorf("memstore: decode installed snapshot: %w", err)
	}
	s.kv = make(map[string][]byte, len(snap.Entries))
	for _, e := range snap.Entries {
		s.kv[e.Key] = e.Value
	}

	s.membership = meta.Membership
	s.lastApplied = meta.LastIncludedLogId
	s.snapshot = &raft.CurrentSnapshotData{
		Meta:       meta,
		DataStream: io.NopCloser(bytes.NewReader(b.data)),
	}

	// Discard log entries subsumed by the snapshot; the core replaces
	// them with a single PayloadSnapshotPointer entry on its own side.
	first := s.firstIndex()
	cut := int64(meta.LastIncludedLogId.Index) - int64(first) + 1
	if cut > 0 {
		if cut >= int64(len(s.log)) {
			s.log = nil
		} else {
			s.log = s.log[cut:]
		}
	}
	return nil
}

// GetCurrentSnapshot implements raft.Storage.
func (s *Storage) GetCurrentSnapshot(ctx context.Context) (*raft.CurrentSnapshotData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, s.snapshot.DataStream); err != nil {
		return nil, err
	}
	s.snapshot.DataStream = io.NopCloser(bytes.NewReader(buf.Bytes()))
	return &raft.CurrentSnapshotData{
		Meta:       s.snapshot.Meta,
		DataStream: io.NopCloser(bytes.NewReader(buf.Bytes())),
	}, nil
}

// Get reads a key from the applied state machine directly, bypassing
// the raft.Storage contract; used by read-path callers (e.g. a
// linearizable read after Node.ClientRead confirms leadership).
func (s *Storage) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok
}
