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
	"context"
	"io"
)

// snapshotStreamWork is handed to a peer worker once; the worker reads
// the entire snapshot out of dataStream and ships it as a sequence of
// InstallSnapshot segments, each bounded by Config.SnapshotMaxChunkSize.
type snapshotStreamWork struct {
	term       uint64
	leaderID   NodeID
	meta       SnapshotMeta
	dataStream SnapshotReader
	chunkSize  int
}

// beginSnapshotStream switches a peer from AppendEntries replication
// to snapshot streaming. Reached when the peer's nextIndex has fallen
// to or behind this node's log compaction boundary; if no snapshot
// exists yet, a build is forced instead (spec.md §4.5).
func (n *Node) beginSnapshotStream(p *peerReplication) {
	if p.inFlight || p.snapshotting {
		return
	}
	snap, err := n.storage.GetCurrentSnapshot(n.ctx)
	if err != nil {
		n.log.Errorf("GetCurrentSnapshot failed: %v", err)
		return
	}
	if snap == nil {
		n.forceSnapshotBuild()
		return
	}

	p.snapshotting = true
	work := &replicationWork{snapshot: &snapshotStreamWork{
		term:       n.currentTerm,
		leaderID:   n.cfg.ID,
		meta:       snap.Meta,
		dataStream: snap.DataStream,
		chunkSize:  n.cfg.SnapshotMaxChunkSize,
	}}
	select {
	case p.workCh <- work:
	default:
		p.snapshotting = false
	}
}

// streamSnapshot is the entire body of a snapshot-streaming worker
// invocation: read chunks, ship each as an InstallSnapshotRequest in
// order, stop early if the node is shutting down or this peer's stream
// was cancelled.
func (n *Node) streamSnapshot(p *peerReplication, work *snapshotStreamWork) {
	defer work.dataStream.Close()

	buf := make([]byte, work.chunkSize)
	offset := uint64(0)
	for {
		select {
		case <-p.stopCh:
			return
		case <-n.ctx.Done():
			return
		default:
		}

		nRead, readErr := io.ReadFull(work.dataStream, buf)
		done := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !done {
			n.log.Errorf("snapshot read failed for peer %s: %v", p.peer, readErr)
			n.postPeerEvent(&peerEvent{peer: p.peer, snapshotFailed: true})
			return
		}

		ctx, cancel := context.WithTimeout(n.ctx, n.cfg.HeartbeatInterval*8)
		resp, err := n.network.SendInstallSnapshot(ctx, p.peer, &InstallSnapshotRequest{
			Term:       work.term,
			LeaderID:   work.leaderID,
			Meta:       work.meta,
			SnapshotId: work.meta.SnapshotId,
			Offset:     offset,
			Data:       append([]byte(nil), buf[:nRead]...),
			Done:       done,
		})
		cancel()
		if err != nil {
			n.postPeerEvent(&peerEvent{peer: p.peer, snapshotFailed: true})
			return
		}
		if resp.Mismatch {
			// The follower rejected this stream (it already has a newer
			// or conflicting one in flight); abandon ours, the next
			// replicateToPeer call will restart from scratch.
			n.postPeerEvent(&peerEvent{peer: p.peer, snapshotFailed: true})
			return
		}

		offset += uint64(nRead)
		if done {
			meta := work.meta
			n.postPeerEvent(&peerEvent{peer: p.peer, snapshotDone: &meta})
			return
		}
	}
}

// handleInstallSnapshot is the follower side of snapshot streaming: it
// writes each segment at its given offset and, once Done, atomically
// installs the snapshot and discards subsumed log entries.
func (n *Node) handleInstallSnapshot(req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	if req.Term < n.currentTerm {
		return &InstallSnapshotResponse{Term: n.currentTerm}, nil
	}
	leader := req.LeaderID
	n.stepDownIfStaleTerm(req.Term, &leader)
	if n.role == RoleFollower || n.role == RoleNonVoter {
		n.leaderID = &leader
	}
	n.resetElectionTimer(false)

	if req.Offset == 0 {
		n.inboundSnapshot = req.SnapshotId
		n.inboundSnapshotOffset = 0
	} else if req.SnapshotId != n.inboundSnapshot {
		// A new stream started (or this is a stray retransmit from an
		// abandoned one); reject so the leader restarts from offset 0.
		return &InstallSnapshotResponse{Term: n.currentTerm, Mismatch: true}, nil
	} else if req.Offset != n.inboundSnapshotOffset {
		// Gapped or reordered segment sharing the current snapshot_id:
		// the leader must resend starting from the offset we actually
		// expect next (spec.md §4.5).
		return &InstallSnapshotResponse{Term: n.currentTerm, Mismatch: true}, nil
	}

	writer, err := n.storage.CreateSnapshot(n.ctx, req.SnapshotId)
	if err != nil {
		return nil, &ShutdownError{Cause: err}
	}
	if err := writer.WriteAt(req.Offset, req.Data); err != nil {
		return nil, &ShutdownError{Cause: err}
	}
	n.inboundSnapshotOffset += uint64(len(req.Data))

	if !req.Done {
		if err := writer.Close(); err != nil {
			return nil, &ShutdownError{Cause: err}
		}
		return &InstallSnapshotResponse{Term: n.currentTerm}, nil
	}

	if err := writer.Close(); err != nil {
		return nil, &ShutdownError{Cause: err}
	}
	if err := n.storage.FinalizeSnapshotInstallation(n.ctx, req.Meta); err != nil {
		return nil, &ShutdownError{Cause: err}
	}

	n.logCacheRef.truncateFrom(1)
	n.snapshotLogId = req.Meta.LastIncludedLogId
	if n.lastLogId.Less(req.Meta.LastIncludedLogId) {
		n.lastLogId = req.Meta.LastIncludedLogId
	}
	n.lastApplied.Store(req.Meta.LastIncludedLogId.Index)
	if n.commitIndex.Load() < req.Meta.LastIncludedLogId.Index {
		n.commitIndex.Store(req.Meta.LastIncludedLogId.Index)
	}
	n.membership = req.Meta.Membership
	n.inboundSnapshot = ""
	n.inboundSnapshotOffset = 0

	return &InstallSnapshotResponse{Term: n.currentTerm}, nil
}

// maybeTriggerSnapshot asks Storage to build a new snapshot once
// enough entries have been applied since the last one, per
// Config.SnapshotPolicy. The build itself runs on a short-lived helper
// goroutine, since DoLogCompaction can be slow and must not block event
// handling; its outcome comes back to the loop as a peerEvent.
func (n *Node) maybeTriggerSnapshot() {
	if n.snapshotBuildInFlight {
		return
	}
	if n.cfg.SnapshotPolicy.Kind != SnapshotLogsSinceLast {
		return
	}
	applied := n.lastApplied.Load()
	if applied < n.snapshotLogId.Index+n.cfg.SnapshotPolicy.Threshold {
		return
	}
	n.runSnapshotBuild()
}

// forceSnapshotBuild is used when a peer needs a snapshot but none has
// ever been built (spec.md §4.5's forced-build case).
func (n *Node) forceSnapshotBuild() {
	if n.snapshotBuildInFlight {
		return
	}
	n.runSnapshotBuild()
}

func (n *Node) runSnapshotBuild() {
	n.snapshotBuildInFlight = true
	go func() {
		data, err := n.storage.DoLogCompaction(n.ctx)
		if err != nil {
			n.log.Errorf("DoLogCompaction failed: %v", err)
			n.postPeerEvent(&peerEvent{snapshotBuildFailed: true})
			return
		}
		if data.DataStream != nil {
			data.DataStream.Close()
		}
		meta := data.Meta
		n.postPeerEvent(&peerEvent{snapshotBuildDone: &meta})
	}()
}

func (n *Node) onSnapshotBuildDone(meta *SnapshotMeta) {
	n.snapshotBuildInFlight = false
	if meta.LastIncludedLogId.Index > n.snapshotLogId.Index {
		n.snapshotLogId = meta.LastIncludedLogId
	}
	n.replicateToAll()
}

func (n *Node) onSnapshotBuildFailed() {
	n.snapshotBuildInFlight = false
}
