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

package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// MetricsSource is the subset of *raft.Node an Inspector needs. Defined
// here rather than imported from raft to keep pkg/cli free of a
// dependency on the core package; cmd/raftd adapts *raft.Node to it
// with a small wrapper type.
type MetricsSource interface {
	MetricsSummary() NodeSummary
}

// NodeSummary is a printable snapshot of one node's Raft state, shaped
// by the caller from raft.RaftMetrics.
type NodeSummary struct {
	ID          string
	Role        string
	CurrentTerm uint64
	LeaderID    string
	LastLogId   string
	CommitIndex uint64
	LastApplied uint64
	Members     []string
	Peers       []PeerSummary
}

// PeerSummary is one row of a NodeSummary's replication table.
type PeerSummary struct {
	ID         string
	MatchIndex uint64
	NextIndex  uint64
	Lagging    bool
}

// Inspector is a readline-backed REPL for interactively querying a
// running raftd node's protocol state: "status", "peers", "members",
// "help", "quit".
type Inspector struct {
	source MetricsSource
	rl     *readline.Instance
}

// NewInspector constructs an Inspector reading from stdin with
// history and tab completion over its known commands.
func NewInspector(source MetricsSource) (*Inspector, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("peers"),
		readline.PcItem("members"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          colorize(Cyan, "raft> "),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("cli: inspector: %w", err)
	}
	return &Inspector{source: source, rl: rl}, nil
}

// Close releases the underlying terminal.
func (i *Inspector) Close() error {
	return i.rl.Close()
}

// Run reads commands until EOF, Ctrl-D, or "quit".
func (i *Inspector) Run() error {
	defer i.rl.Close()
	for {
		line, err := i.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if i.dispatch(cmd) {
			return nil
		}
	}
}

// dispatch handles one command line; it returns true when the
// Inspector should stop.
func (i *Inspector) dispatch(cmd string) bool {
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		i.printHelp()
	case "status":
		i.printStatus()
	case "peers":
		i.printPeers()
	case "members":
		i.printMembers()
	default:
		PrintWarning("unknown command %q (try \"help\")", cmd)
	}
	return false
}

func (i *Inspector) printHelp() {
	fmt.Println(Highlight("Commands:"))
	fmt.Println("  status   current role, term, leader, log position")
	fmt.Println("  peers    per-peer replication progress (leader only)")
	fmt.Println("  members  the active voting set")
	fmt.Println("  quit     leave the inspector")
}

func (i *Inspector) printStatus() {
	s := i.source.MetricsSummary()
	leader := s.LeaderID
	if leader == "" {
		leader = Dimmed("none")
	}
	fmt.Printf("%s %s\n", Highlight("node:"), s.ID)
	fmt.Printf("%s %s\n", Highlight("role:"), roleColor(s.Role))
	fmt.Printf("%s %d\n", Highlight("term:"), s.CurrentTerm)
	fmt.Printf("%s %s\n", Highlight("leader:"), leader)
	fmt.Printf("%s %s\n", Highlight("last log id:"), s.LastLogId)
	fmt.Printf("%s %d\n", Highlight("commit index:"), s.CommitIndex)
	fmt.Printf("%s %d\n", Highlight("last applied:"), s.LastApplied)
}

func (i *Inspector) printPeers() {
	s := i.source.MetricsSummary()
	if len(s.Peers) == 0 {
		PrintInfo("no peer replication state (this node is not currently leading)")
		return
	}
	peers := append([]PeerSummary(nil), s.Peers...)
	sort.Slice(peers, func(a, b int) bool { return peers[a].ID < peers[b].ID })

	fmt.Printf("%-20s %-12s %-12s %s\n", "PEER", "MATCH", "NEXT", "STATUS")
	for _, p := range peers {
		status := Success("ok")
		if p.Lagging {
			status = Warning("lagging")
		}
		fmt.Printf("%-20s %-12d %-12d %s\n", p.ID, p.MatchIndex, p.NextIndex, status)
	}
}

func (i *Inspector) printMembers() {
	s := i.source.MetricsSummary()
	members := append([]string(nil), s.Members...)
	sort.Strings(members)
	for _, m := range members {
		marker := "  "
		if m == s.ID {
			marker = colorize(Green, "* ")
		}
		fmt.Printf("%s%s\n", marker, m)
	}
}

func roleColor(role string) string {
	switch role {
	case "Leader":
		return colorize(Green, role)
	case "Candidate":
		return colorize(Yellow, role)
	case "NonVoter":
		return colorize(Dim, role)
	default:
		return role
	}
}
