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

package transport

import (
	"bytes"
	"testing"

	"raft/internal/compression"
	"raft/raft"
)

func TestSetPeerOverridesAddress(t *testing.T) {
	tr, err := New(Config{Peers: map[raft.NodeID]string{"node-a": "10.0.0.1:7400"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.SetPeer("node-a", "10.0.0.2:7400")
	addr, err := tr.addrOf("node-a")
	if err != nil {
		t.Fatalf("addrOf: %v", err)
	}
	if addr != "10.0.0.2:7400" {
		t.Errorf("expected overridden address, got %q", addr)
	}
}

func TestAddrOfUnknownPeer(t *testing.T) {
	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.addrOf("ghost"); err == nil {
		t.Error("expected an error for an unknown peer")
	}
}

func TestLenPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte("hello"))
	writeLenPrefixed(&buf, []byte("world"))

	chunk, rest, err := readLenPrefixed(buf.Bytes())
	if err != nil {
		t.Fatalf("readLenPrefixed: %v", err)
	}
	if string(chunk) != "hello" {
		t.Errorf("expected hello, got %q", chunk)
	}
	chunk2, _, err := readLenPrefixed(rest)
	if err != nil {
		t.Fatalf("readLenPrefixed second chunk: %v", err)
	}
	if string(chunk2) != "world" {
		t.Errorf("expected world, got %q", chunk2)
	}
}

func TestReadLenPrefixedTruncated(t *testing.T) {
	if _, _, err := readLenPrefixed([]byte{0, 0, 0}); err == nil {
		t.Error("expected an error for a truncated length prefix")
	}
	if _, _, err := readLenPrefixed([]byte{0, 0, 0, 10, 1, 2}); err == nil {
		t.Error("expected an error for a truncated frame body")
	}
}

func TestSnapshotCompressionRoundTrip(t *testing.T) {
	cfg := compression.Config{Algorithm: compression.AlgorithmGzip, Level: compression.LevelDefault, MinSize: 1}
	tr := &Transport{cfg: Config{Compression: cfg}, compr: compression.NewCompressor(cfg)}

	original := make([]byte, 4096)
	for i := range original {
		original[i] = byte(i)
	}
	compressed, err := tr.compr.Compress(original)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := tr.compr.Decompress(compressed, cfg.Algorithm)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Error("decompressed snapshot payload does not match original")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := raft.VoteRequest{Term: 7, CandidateID: "node-b", PreVote: true}
	body, err := encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded raft.VoteRequest
	if err := decode(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != req {
		t.Errorf("expected %+v, got %+v", req, decoded)
	}
}
