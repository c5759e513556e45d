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

package discovery

import (
	"testing"

	"github.com/hashicorp/mdns"
)

func TestServiceNameDefaulting(t *testing.T) {
	got, err := serviceName("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != DefaultServiceName {
		t.Errorf("expected default %q, got %q", DefaultServiceName, got)
	}
}

func TestServiceNameRejectsGarbage(t *testing.T) {
	if _, err := serviceName("not a valid name!!"); err == nil {
		t.Error("expected an error for an invalid service name")
	}
}

func TestParseEntryReadsTXTFields(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Host:       "node-2.local.",
		InfoFields: []string{"node_id=node-2", "bind_addr=10.0.0.2:7400"},
	}
	node := parseEntry(entry)
	if node.NodeID != "node-2" {
		t.Errorf("expected node_id node-2, got %q", node.NodeID)
	}
	if node.BindAddr != "10.0.0.2:7400" {
		t.Errorf("expected bind_addr 10.0.0.2:7400, got %q", node.BindAddr)
	}
}

func TestParseEntryIgnoresMalformedFields(t *testing.T) {
	entry := &mdns.ServiceEntry{InfoFields: []string{"not-a-kv-pair", "node_id=node-3"}}
	node := parseEntry(entry)
	if node.NodeID != "node-3" {
		t.Errorf("expected node_id node-3, got %q", node.NodeID)
	}
}
