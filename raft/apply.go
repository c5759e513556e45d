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
Committed entries are applied in index order to the host's state
machine on a dedicated applier goroutine, off the main event loop, so
apply latency never blocks protocol progress (spec.md §4.6). The
applier pulls entries from a replicated-log cache populated by the
event loop at append time, avoiding a storage read on the apply path
when the entry is still in the ring; it falls back to Storage for
entries the ring has already evicted.

Resolution of spec.md §9's open question: when
ApplyEntryToStateMachine returns a non-shutdown error mid-batch, the
applier stalls at that entry — last_applied does not advance past it,
the error is surfaced to whichever client is awaiting it, and the
applier retries the same entry on its next wake-up (either a fresh
commit-index advance or the periodic retry tick) rather than skipping
ahead. A ShutdownError terminates the node outright.
*/
package raft

import (
	"context"
	"sync"
	"time"
)

const applyRetryInterval = 200 * time.Millisecond

// logCacheCapacity bounds the replicated-log ring buffer. Entries
// older than this are read back from Storage by whatever consumer
// still needs them (a Lagging replication stream, mostly).
const logCacheCapacity = 4096

// logCache is an append-only ring of recently appended entries,
// written exclusively by the event loop and read by the applier and by
// replication workers. Each consumer tracks its own read cursor
// outside this structure; logCache only ever answers "give me entry at
// index X, if still cached."
type logCache struct {
	mu      sync.Mutex
	entries []Entry // entries[i] has LogId.Index == start+i
	start   uint64  // index of entries[0]; 0 means empty
}

func newLogCache() *logCache {
	return &logCache{entries: make([]Entry, 0, logCacheCapacity)}
}

// append adds entries (already known to be in increasing index order)
// to the ring, evicting the oldest entries if capacity is exceeded.
func (c *logCache) append(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		c.start = entries[0].LogId.Index
	}
	c.entries = append(c.entries, entries...)
	if over := len(c.entries) - logCacheCapacity; over > 0 {
		c.entries = c.entries[over:]
		c.start += uint64(over)
	}
}

// truncateFrom discards cached entries at or above index (a follower
// resolving a log conflict, or a snapshot install).
func (c *logCache) truncateFrom(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 || index < c.start {
		if index <= c.start {
			c.entries = c.entries[:0]
			c.start = 0
		}
		return
	}
	if cut := index - c.start; cut < uint64(len(c.entries)) {
		c.entries = c.entries[:cut]
	}
}

// get returns the entry at index if still held in the ring.
func (c *logCache) get(index uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 || index < c.start {
		return Entry{}, false
	}
	i := index - c.start
	if i >= uint64(len(c.entries)) {
		return Entry{}, false
	}
	return c.entries[i], true
}

// getRange returns cached entries in [lo, hi) and reports whether the
// entire range was satisfied from the cache.
func (c *logCache) getRange(lo, hi uint64) ([]Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 || lo < c.start {
		return nil, false
	}
	loI := lo - c.start
	hiI := hi - c.start
	if hiI > uint64(len(c.entries)) {
		return nil, false
	}
	out := make([]Entry, hiI-loI)
	copy(out, c.entries[loI:hiI])
	return out, true
}

// writeWaiters tracks ClientWrite callers blocked on a specific log
// index committing and applying. It is bookkeeping for futures, not
// Raft protocol state, so it is safe to touch from both the loop
// goroutine (register) and the applier goroutine (deliver).
type writeWaiters struct {
	mu sync.Mutex
	m  map[uint64]chan clientWriteResult
}

func newWriteWaiters() *writeWaiters {
	return &writeWaiters{m: make(map[uint64]chan clientWriteResult)}
}

// register associates index with the channel a ClientWrite caller is
// already blocked reading (see client.go), so the applier can deliver
// directly to it without an extra hop.
func (w *writeWaiters) register(index uint64, ch chan clientWriteResult) {
	w.mu.Lock()
	w.m[index] = ch
	w.mu.Unlock()
}

func (w *writeWaiters) has(index uint64) bool {
	w.mu.Lock()
	_, ok := w.m[index]
	w.mu.Unlock()
	return ok
}

func (w *writeWaiters) deliver(index uint64, res clientWriteResult) {
	w.mu.Lock()
	ch, ok := w.m[index]
	if ok {
		delete(w.m, index)
	}
	w.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (w *writeWaiters) drainWithError(err error) {
	w.mu.Lock()
	pending := w.m
	w.m = make(map[uint64]chan clientWriteResult)
	w.mu.Unlock()
	for _, ch := range pending {
		ch <- clientWriteResult{err: err}
	}
}

// applier is the dedicated apply-pipeline goroutine.
type applier struct {
	n       *Node
	storage Storage
	cache   *logCache
	waiters *writeWaiters
	log     Logger

	wakeCh chan struct{} // signaled whenever commitIndex advances
	stopCh chan struct{}
}

func newApplier(n *Node) *applier {
	return &applier{
		n:       n,
		storage: n.storage,
		cache:   n.logCacheRef,
		waiters: n.writeWaitersRef,
		log:     n.cfg.logger().With("component", "applier"),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (a *applier) wake() {
	select {
	case a.wakeCh <- struct{}{}:
	default:
	}
}

func (a *applier) stop() {
	close(a.stopCh)
}

func (a *applier) run(ctx context.Context) {
	ticker := time.NewTicker(applyRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-a.wakeCh:
			a.drain(ctx)
		case <-ticker.C:
			a.drain(ctx)
		}
	}
}

// drain applies every committed-but-not-yet-applied entry it can, in
// index order, stalling at the first application failure. Entries
// nobody locally awaits are folded into a single ReplicateToStateMachine
// batch; an entry with a registered waiter breaks the batch so its
// individual response can be captured via ApplyEntryToStateMachine.
func (a *applier) drain(ctx context.Context) {
	for {
		lastApplied, commitIndex, ok := a.n.applyWindow()
		if !ok || lastApplied >= commitIndex {
			return
		}
		nextIndex := lastApplied + 1

		entry, cached := a.cache.get(nextIndex)
		if !cached {
			entries, err := a.storage.GetLogEntries(ctx, nextIndex, nextIndex+1)
			if err != nil {
				a.fail(nextIndex, &ShutdownError{Cause: err})
				return
			}
			if len(entries) == 0 {
				// Not yet visible to storage; wait for the next wake.
				return
			}
			entry = entries[0]
		}

		if entry.Payload.Type != PayloadNormal {
			// Blank/config-change/snapshot-pointer entries never reach
			// the host state machine, but last_applied still advances
			// past them.
			ack := &applyAckEvent{upTo: entry.LogId}
			if entry.Payload.Type == PayloadConfigChange {
				cfg := entry.Payload.ConfigChange
				ack.membership = &cfg
			}
			a.n.postApplyAck(ack)
			continue
		}

		if a.waiters.has(entry.LogId.Index) {
			resp, err := a.storage.ApplyEntryToStateMachine(ctx, entry)
			if err != nil {
				if IsShutdownError(err) {
					a.fail(nextIndex, err)
					return
				}
				appErr := &AppError{Cause: err}
				a.waiters.deliver(entry.LogId.Index, clientWriteResult{err: appErr})
				a.n.postApplyAck(&applyAckEvent{err: appErr})
				return // stall: do not advance past this entry
			}
			a.waiters.deliver(entry.LogId.Index, clientWriteResult{value: resp})
			a.n.postApplyAck(&applyAckEvent{upTo: entry.LogId})
			continue
		}

		batch := a.collectUnwaitedBatch(entry, commitIndex)
		if err := a.storage.ReplicateToStateMachine(ctx, batch); err != nil {
			if IsShutdownError(err) {
				a.fail(nextIndex, err)
				return
			}
			// A non-shutdown error applying a batch nobody is waiting
			// on still stalls the pipeline; there is no client to hand
			// the error to, so it is only logged and retried.
			a.log.Errorf("apply batch failed at index %d: %v", nextIndex, err)
			a.n.postApplyAck(&applyAckEvent{err: &AppError{Cause: err}})
			return
		}
		a.n.postApplyAck(&applyAckEvent{upTo: batch[len(batch)-1].LogId})
	}
}

// collectUnwaitedBatch greedily extends first (already known to have
// no waiter) with subsequent cached, unwaited, normal-payload entries
// up to commitIndex, so a run of followed-along entries applies in one
// storage call.
func (a *applier) collectUnwaitedBatch(first Entry, commitIndex uint64) []Entry {
	batch := []Entry{first}
	for batch[len(batch)-1].LogId.Index < commitIndex {
		next := batch[len(batch)-1].LogId.Index + 1
		entry, cached := a.cache.get(next)
		if !cached || entry.Payload.Type != PayloadNormal || a.waiters.has(entry.LogId.Index) {
			break
		}
		batch = append(batch, entry)
	}
	return batch
}

func (a *applier) fail(index uint64, err error) {
	a.log.Errorf("apply failed permanently at index %d: %v", index, err)
	a.waiters.drainWithError(err)
	a.n.postApplyAck(&applyAckEvent{err: err})
}

// onApplyAck is the loop-side half of the apply pipeline: it advances
// last_applied and, on a fatal storage error, shuts the node down. A
// non-fatal AppError carries no upTo (the applier stalled without
// advancing) and needs no state change here; it was already delivered
// to the waiting client by the applier itself.
func (n *Node) onApplyAck(e *applyAckEvent) {
	if e.err != nil && IsShutdownError(e.err) {
		n.fatal(e.err)
		return
	}
	if !e.upTo.IsZero() && e.upTo.Index > n.lastApplied.Load() {
		n.lastApplied.Store(e.upTo.Index)
	}
	if e.membership != nil {
		// A leader already adopted this config at append time (see
		// membership.go); a follower or non-voter only learns of it now.
		if n.role != RoleLeader {
			n.membership = *e.membership
		}
		n.checkOwnMembershipRole()
	}
	n.maybeTriggerSnapshot()
	n.wakeApplier()
}

// checkOwnMembershipRole reconciles role against the freshly applied
// membership: a non-voter whose id now appears in the voting set
// starts participating in elections; a voter dropped from the set
// (including a leader that removed itself) falls back to NonVoter.
func (n *Node) checkOwnMembershipRole() {
	inSet := n.membership.Contains(n.cfg.ID)
	switch {
	case !inSet && n.role != RoleNonVoter:
		if n.role == RoleLeader {
			n.stopReplication()
		}
		n.role = RoleNonVoter
		n.leaderID = nil
	case inSet && n.role == RoleNonVoter:
		n.role = RoleFollower
		n.resetElectionTimer(true)
	}
}

// wakeApplier nudges the applier goroutine after commit_index advances
// or an entry is appended to the cache, so it does not wait for its
// periodic retry tick.
func (n *Node) wakeApplier() {
	if n.applierRef != nil {
		n.applierRef.wake()
	}
}
