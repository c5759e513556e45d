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

package errors

import (
	"errors"
	"testing"
)

func TestConnectionLost(t *testing.T) {
	err := ConnectionLost("node-2", "read tcp: i/o timeout")
	if err.Category != CategoryTransport {
		t.Errorf("expected CategoryTransport, got %s", err.Category)
	}
	if err.Code != ErrCodeConnectionLost {
		t.Errorf("expected ErrCodeConnectionLost, got %d", err.Code)
	}
	if !IsTransportError(err) {
		t.Error("expected IsTransportError to be true")
	}
}

func TestWrapping(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := DialFailed("node-3", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if got := GetCode(err); got != ErrCodeDialFailed {
		t.Errorf("expected ErrCodeDialFailed, got %d", got)
	}
}

func TestUserMessage(t *testing.T) {
	err := NoPeersFound("_raft._tcp")
	msg := err.UserMessage()
	if !contains(msg, "ERROR:") || !contains(msg, "HINT:") {
		t.Errorf("expected both ERROR and HINT sections, got: %s", msg)
	}
}

func TestFormatErrorFallsBackForPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	if got := FormatError(plain); got != "ERROR: boom" {
		t.Errorf("expected passthrough formatting, got: %s", got)
	}
}

func TestCategoryHelpers(t *testing.T) {
	if !IsStorageError(LogCorrupted("bad checksum")) {
		t.Error("expected LogCorrupted to be a storage error")
	}
	if !IsDiscoveryError(BrowseFailed(errors.New("no such network"))) {
		t.Error("expected BrowseFailed to be a discovery error")
	}
	if IsStorageError(ConnectionLost("node-2", "")) {
		t.Error("ConnectionLost should not be classified as a storage error")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
