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
	"fmt"
)

// Wait blocks until pred reports true against a freshly published
// RaftMetrics snapshot, ctx is done, or no new snapshot satisfies pred
// within ctx's deadline. It is a polling convenience built on top of
// metricsPublisher's change notifications; tests use it to wait for
// "this node became leader" or "commit_index reached N" without a
// sleep loop.
func (n *Node) Wait(ctx context.Context, pred func(RaftMetrics) bool) error {
	if pred(n.Metrics()) {
		return nil
	}

	ch, unsubscribe := n.metrics.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("raft: wait cancelled: %w", ctx.Err())
		case <-ch:
			if pred(n.Metrics()) {
				return nil
			}
		}
	}
}

// WaitForLeader blocks until the node reports a known leader.
func (n *Node) WaitForLeader(ctx context.Context) (NodeID, error) {
	err := n.Wait(ctx, func(m RaftMetrics) bool { return m.LeaderID != nil })
	if err != nil {
		return "", err
	}
	m := n.Metrics()
	if m.LeaderID == nil {
		return "", ErrTimeout
	}
	return *m.LeaderID, nil
}

// WaitForCommit blocks until commit_index reaches at least index.
func (n *Node) WaitForCommit(ctx context.Context, index uint64) error {
	return n.Wait(ctx, func(m RaftMetrics) bool { return m.CommitIndex >= index })
}

// WaitForApplied blocks until last_applied_index reaches at least
// index.
func (n *Node) WaitForApplied(ctx context.Context, index uint64) error {
	return n.Wait(ctx, func(m RaftMetrics) bool { return m.LastApplied >= index })
}
