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

// Package transport implements raft.Network over length-prefixed framed
// TCP connections (internal/protocol's frame format), with optional TLS
// and optional payload compression for large InstallSnapshot frames.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"raft/internal/compression"
	raerrors "raft/internal/errors"
	"raft/internal/protocol"
	"raft/raft"
)

// Config configures a Transport.
type Config struct {
	// BindAddr is the local "host:port" to listen on.
	BindAddr string
	// Peers maps every other cluster member's raft.NodeID to its
	// "host:port".
	Peers map[raft.NodeID]string
	// TLSConfig, if non-nil, is used for both the listener and every
	// outbound dial.
	TLSConfig *tls.Config
	// MaxConnections caps concurrently accepted inbound connections via
	// golang.org/x/net/netutil, guarding against a misbehaving peer (or
	// a port scan) exhausting file descriptors.
	MaxConnections int
	// Compression compresses InstallSnapshot payloads above its
	// MinSize; zero value (AlgorithmNone) disables it.
	Compression compression.Config
	// DialTimeout bounds connecting to a peer.
	DialTimeout time.Duration
}

// Transport is a raft.Network backed by framed TCP, plus the server
// loop that feeds inbound RPCs to a *raft.Node.
type Transport struct {
	cfg      Config
	listener net.Listener
	compr    *compression.Compressor

	mu      sync.RWMutex
	peerAdd map[raft.NodeID]string

	node *raft.Node // set by Serve

	closeOnce sync.Once
	closed    chan struct{}
}

// New validates cfg and constructs a Transport. Call Listen before
// Serve to start accepting RPCs; Transport also works purely as a
// client (SendX calls only) without ever calling Listen.
func New(cfg Config) (*Transport, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	peerAdd := make(map[raft.NodeID]string, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		peerAdd[id] = addr
	}
	return &Transport{
		cfg:     cfg,
		compr:   compression.NewCompressor(cfg.Compression),
		peerAdd: peerAdd,
		closed:  make(chan struct{}),
	}, nil
}

// SetPeer updates (or adds) the dial address for id, used when
// ChangeMembership admits a node this Transport didn't know about at
// construction time.
func (t *Transport) SetPeer(id raft.NodeID, addr string) {
	t.mu.Lock()
	t.peerAdd[id] = addr
	t.mu.Unlock()
}

func (t *Transport) addrOf(id raft.NodeID) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.peerAdd[id]
	if !ok {
		return "", fmt.Errorf("transport: no known address for peer %s", id)
	}
	return addr, nil
}

// Listen opens the bind address. Separate from Serve so a caller can
// bind early (to fail fast on a busy port) and start serving once the
// raft.Node exists.
func (t *Transport) Listen() error {
	ln, err := net.Listen("tcp", t.cfg.BindAddr)
	if err != nil {
		return raerrors.ServerUnavailable(t.cfg.BindAddr).WithCause(err)
	}
	if t.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, t.cfg.TLSConfig)
	}
	if t.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, t.cfg.MaxConnections)
	}
	t.listener = ln
	return nil
}

// Serve accepts connections and dispatches each frame to node, until
// ctx is done or Close is called.
func (t *Transport) Serve(ctx context.Context, node *raft.Node) error {
	if t.listener == nil {
		if err := t.Listen(); err != nil {
			return err
		}
	}
	t.node = node

	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-t.closed:
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return nil
			default:
				return raerrors.NewTransportError("accept failed").WithCause(err)
			}
		}
		go t.handleConn(conn)
	}
}

// Close stops accepting new connections. Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}
		resp, respType, err := t.dispatch(msg)
		if err != nil {
			protocol.WriteMessage(conn, protocol.MsgError, []byte(err.Error()))
			return
		}
		if err := protocol.WriteMessage(conn, respType, resp); err != nil {
			return
		}
	}
}

func (t *Transport) dispatch(msg *protocol.Message) ([]byte, protocol.MessageType, error) {
	switch msg.Header.Type {
	case protocol.MsgAppendEntries:
		var req raft.AppendEntriesRequest
		if err := decode(msg.Payload, &req); err != nil {
			return nil, 0, err
		}
		resp, err := t.node.AppendEntries(context.Background(), &req)
		if err != nil {
			return nil, 0, err
		}
		body, err := encode(resp)
		return body, protocol.MsgAppendEntriesResult, err
	case protocol.MsgVote:
		var req raft.VoteRequest
		if err := decode(msg.Payload, &req); err != nil {
			return nil, 0, err
		}
		resp, err := t.node.Vote(context.Background(), &req)
		if err != nil {
			return nil, 0, err
		}
		body, err := encode(resp)
		return body, protocol.MsgVoteResult, err
	case protocol.MsgInstallSnapshot:
		var req raft.InstallSnapshotRequest
		if err := t.decodeSnapshot(msg, &req); err != nil {
			return nil, 0, err
		}
		resp, err := t.node.InstallSnapshot(context.Background(), &req)
		if err != nil {
			return nil, 0, err
		}
		body, err := encode(resp)
		return body, protocol.MsgInstallSnapshotResult, err
	default:
		return nil, 0, fmt.Errorf("transport: unknown message type %x", msg.Header.Type)
	}
}

func (t *Transport) dial(ctx context.Context, target raft.NodeID) (net.Conn, error) {
	addr, err := t.addrOf(target)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	var conn net.Conn
	if t.cfg.TLSConfig != nil {
		conn, err = tls.DialWithDialer(&d, "tcp", addr, t.cfg.TLSConfig)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, raerrors.DialFailed(string(target), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(10 * time.Second))
	}
	return conn, nil
}

// SendAppendEntries implements raft.Network.
func (t *Transport) SendAppendEntries(ctx context.Context, target raft.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	body, err := encode(req)
	if err != nil {
		return nil, err
	}
	respBody, respType, err := t.roundTrip(ctx, target, protocol.MsgAppendEntries, body)
	if err != nil {
		return nil, err
	}
	if respType == protocol.MsgError {
		return nil, fmt.Errorf("transport: peer error: %s", respBody)
	}
	var resp raft.AppendEntriesResponse
	if err := decode(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendVote implements raft.Network.
func (t *Transport) SendVote(ctx context.Context, target raft.NodeID, req *raft.VoteRequest) (*raft.VoteResponse, error) {
	body, err := encode(req)
	if err != nil {
		return nil, err
	}
	respBody, respType, err := t.roundTrip(ctx, target, protocol.MsgVote, body)
	if err != nil {
		return nil, err
	}
	if respType == protocol.MsgError {
		return nil, fmt.Errorf("transport: peer error: %s", respBody)
	}
	var resp raft.VoteResponse
	if err := decode(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendInstallSnapshot implements raft.Network. Segments above
// Config.Compression.MinSize are compressed on the wire (flagged via
// FlagCompressed) and decompressed by the receiving handleConn before
// being handed to raft.Node.InstallSnapshot.
func (t *Transport) SendInstallSnapshot(ctx context.Context, target raft.NodeID, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	addr, err := t.addrOf(target)
	if err != nil {
		return nil, err
	}
	conn, err := t.dialAddr(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	meta, err := encode(snapshotEnvelope{
		Term: req.Term, LeaderID: req.LeaderID, Meta: req.Meta,
		SnapshotId: req.SnapshotId, Offset: req.Offset, Done: req.Done,
	})
	if err != nil {
		return nil, err
	}

	data := req.Data
	flags := protocol.FlagNone
	if len(data) >= t.cfg.Compression.MinSize && t.cfg.Compression.Algorithm != compression.AlgorithmNone {
		compressed, err := t.compr.Compress(data)
		if err == nil {
			data = compressed
			flags = protocol.FlagCompressed
		}
	}

	var buf bytes.Buffer
	writeLenPrefixed(&buf, meta)
	writeLenPrefixed(&buf, data)

	if err := protocol.WriteHeader(conn, protocol.Header{
		Magic: protocol.MagicByte, Version: protocol.ProtocolVersion,
		Type: protocol.MsgInstallSnapshot, Flags: flags, Length: uint32(buf.Len()),
	}); err != nil {
		return nil, err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, err
	}

	respMsg, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	if respMsg.Header.Type == protocol.MsgError {
		return nil, fmt.Errorf("transport: peer error: %s", respMsg.Payload)
	}
	var resp raft.InstallSnapshotResponse
	if err := decode(respMsg.Payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type snapshotEnvelope struct {
	Term       uint64
	LeaderID   raft.NodeID
	Meta       raft.SnapshotMeta
	SnapshotId raft.SnapshotId
	Offset     uint64
	Done       bool
}

func (t *Transport) decodeSnapshot(msg *protocol.Message, out *raft.InstallSnapshotRequest) error {
	metaBytes, rest, err := readLenPrefixed(msg.Payload)
	if err != nil {
		return err
	}
	dataBytes, _, err := readLenPrefixed(rest)
	if err != nil {
		return err
	}

	var env snapshotEnvelope
	if err := decode(metaBytes, &env); err != nil {
		return err
	}
	if msg.Header.Flags&protocol.FlagCompressed != 0 {
		dataBytes, err = t.compr.Decompress(dataBytes, t.cfg.Compression.Algorithm)
		if err != nil {
			return err
		}
	}

	out.Term = env.Term
	out.LeaderID = env.LeaderID
	out.Meta = env.Meta
	out.SnapshotId = env.SnapshotId
	out.Offset = env.Offset
	out.Done = env.Done
	out.Data = dataBytes
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, target raft.NodeID, msgType protocol.MessageType, body []byte) ([]byte, protocol.MessageType, error) {
	conn, err := t.dial(ctx, target)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, msgType, body); err != nil {
		return nil, 0, err
	}
	resp, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, 0, err
	}
	return resp.Payload, resp.Header.Type, nil
}

func (t *Transport) dialAddr(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	var conn net.Conn
	var err error
	if t.cfg.TLSConfig != nil {
		conn, err = tls.DialWithDialer(&d, "tcp", addr, t.cfg.TLSConfig)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, raerrors.DialFailed(addr, err)
	}
	conn.SetDeadline(time.Now().Add(30 * time.Second))
	return conn, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: decode: %w", err)
	}
	return nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBytes [4]byte
	lenBytes[0] = byte(len(data) >> 24)
	lenBytes[1] = byte(len(data) >> 16)
	lenBytes[2] = byte(len(data) >> 8)
	lenBytes[3] = byte(len(data))
	buf.Write(lenBytes[:])
	buf.Write(data)
}

func readLenPrefixed(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("transport: truncated length prefix")
	}
	n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	data = data[4:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("transport: truncated frame body")
	}
	return data[:n], data[n:], nil
}
