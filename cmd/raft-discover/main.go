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
raft-discover - raftd node discovery tool

Discovers raftd nodes on the local network segment using mDNS
(Bonjour/Avahi). Useful for a bootstrap script locating an existing
cluster's nodes to join, or for the PEERS list passed to raftd's
own --peers flag.

Usage:

	raft-discover                  # Discover nodes (5 second timeout)
	raft-discover --timeout 10     # Custom timeout in seconds
	raft-discover --json           # Output as JSON
	raft-discover --quiet          # Only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"raft/internal/discovery"
	"raft/pkg/cli"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	serviceName := flag.String("service", discovery.DefaultServiceName, "mDNS service name to browse")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output bind addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output bind addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// mdns logs IPv6 lookup failures at a volume that drowns out our
	// own output; they are not actionable for this tool's purpose.
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
	}

	svc, err := discovery.NewService(discovery.DiscoveryConfig{
		NodeID:      "raft-discover-client",
		ServiceName: *serviceName,
		Enabled:     false,
	})
	if err != nil {
		if !*quiet {
			cli.PrintError("%v", err)
		}
		os.Exit(1)
	}

	if !*quiet && !*jsonOutput {
		fmt.Printf("%s Scanning for raftd nodes on the network (timeout: %ds)...\n\n", cli.InfoIcon(), *timeout)
	}

	nodes, err := svc.Browse(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			cli.PrintError("discovery failed: %v", err)
		}
		os.Exit(1)
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			cli.PrintWarning("no raftd nodes found on the network.")
			fmt.Println()
			fmt.Printf("%s\n\n", cli.Highlight("TROUBLESHOOTING"))
			fmt.Println("  Common issues:")
			fmt.Println("    - raftd is not running with --discovery enabled")
			fmt.Println("    - mDNS/Bonjour is blocked by firewall (UDP port 5353)")
			fmt.Println("    - nodes are on a different network segment")
			fmt.Println()
			fmt.Println("  Try: raft-discover --timeout 10")
			fmt.Println()
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println(cli.Highlight("  raft-discover"))
	fmt.Printf("  %s\n\n", cli.Dimmed("mDNS cluster discovery for raftd"))
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s v%s\n", cli.Highlight("raft-discover"), version)
	fmt.Printf("  %s\n\n", cli.Dimmed(copyright))
}

func printUsage() {
	printBanner()
	fmt.Println("  Discovers raftd nodes on the local network using mDNS.")
	fmt.Println("  Useful for finding an existing cluster's nodes to join.")
	fmt.Println()
	fmt.Println(cli.Highlight("Usage:") + " raft-discover [options]")
	fmt.Println()
	fmt.Println(cli.Highlight("OPTIONS"))
	fmt.Println("    --timeout <seconds>  Discovery timeout (default: 5)")
	fmt.Println("    --service <name>     mDNS service name (default: " + discovery.DefaultServiceName + ")")
	fmt.Println("    --json               Output results as JSON")
	fmt.Println("    --quiet, -q          Only output addresses (for scripting)")
	fmt.Println("    --version, -v        Show version information")
	fmt.Println("    --help, -h           Show this help message")
	fmt.Println()
	fmt.Println(cli.Highlight("EXAMPLES"))
	fmt.Println("    raft-discover")
	fmt.Println("    raft-discover --timeout 10")
	fmt.Println("    raft-discover --json")
	fmt.Println("    PEERS=$(raft-discover --quiet)")
	fmt.Println()
}

func outputJSON(nodes []discovery.DiscoveredNode) {
	data, _ := json.MarshalIndent(nodes, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []discovery.DiscoveredNode) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.BindAddr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []discovery.DiscoveredNode) {
	cli.PrintSuccess("Found %d raftd node(s)", len(nodes))
	fmt.Println()
	for i, n := range nodes {
		fmt.Printf("  %s %s\n", cli.Dimmed(fmt.Sprintf("[%d]", i+1)), cli.Highlight(n.NodeID))
		fmt.Printf("      %s %s\n", cli.Dimmed("Bind Address:"), n.BindAddr)
		if n.Host != "" {
			fmt.Printf("      %s %s\n", cli.Dimmed("Host:"), n.Host)
		}
		fmt.Println()
	}
	fmt.Println(cli.Dimmed("  Tip: Use --json for machine-readable output"))
	fmt.Println()
}
