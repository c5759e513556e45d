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
Package protocol implements raftd's binary wire protocol: the framing
every raft.Network RPC (AppendEntries, Vote, InstallSnapshot) travels
over a TCP connection as.

Message Format:
===============

	+--------+--------+--------+--------+--------+--------+--------+--------+...
	| Magic  | Version| MsgType| Flags  |            Length (4B)           | Payload...
	+--------+--------+--------+--------+--------+--------+--------+--------+...

	- Magic (1 byte): protocol magic number
	- Version (1 byte): protocol version
	- MsgType (1 byte): message type identifier
	- Flags (1 byte): message flags (compression, ...)
	- Length (4 bytes): payload length, big-endian
	- Payload: the gob-encoded RPC request or response

Message Types:
==============

	- 0x01: AppendEntries request
	- 0x02: AppendEntries response
	- 0x03: Vote request
	- 0x04: Vote response
	- 0x05: InstallSnapshot request
	- 0x06: InstallSnapshot response
	- 0x0A: Ping - transport-level keep-alive
	- 0x0B: Pong
	- 0x0F: Error - the peer rejected the request itself (not a raft-level denial)
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Protocol constants.
const (
	MagicByte       byte = 0xAF // raftd magic byte
	ProtocolVersion byte = 0x01

	// MaxMessageSize bounds a single frame; InstallSnapshot chunks are
	// sized by Config.SnapshotMaxChunkSize well under this.
	MaxMessageSize = 64 * 1024 * 1024

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 8
)

// MessageType represents the type of protocol message.
type MessageType byte

// Message type constants.
const (
	MsgAppendEntries         MessageType = 0x01
	MsgAppendEntriesResult   MessageType = 0x02
	MsgVote                  MessageType = 0x03
	MsgVoteResult            MessageType = 0x04
	MsgInstallSnapshot       MessageType = 0x05
	MsgInstallSnapshotResult MessageType = 0x06
	MsgPing                  MessageType = 0x0A
	MsgPong                  MessageType = 0x0B
	MsgError                 MessageType = 0x0F
)

// MessageFlag represents message flags.
type MessageFlag byte

// Message flag constants.
const (
	FlagNone       MessageFlag = 0x00
	FlagCompressed MessageFlag = 0x01
	FlagEncrypted  MessageFlag = 0x02
)

// Header represents a protocol message header.
type Header struct {
	Magic   byte
	Version byte
	Type    MessageType
	Flags   MessageFlag
	Length  uint32
}

// Message represents a complete protocol message.
type Message struct {
	Header  Header
	Payload []byte
}

// Common errors.
var (
	ErrInvalidMagic    = errors.New("invalid protocol magic byte")
	ErrInvalidVersion  = errors.New("unsupported protocol version")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrInvalidMessage  = errors.New("invalid message format")
)

// WriteHeader writes a message header to the writer.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Type)
	buf[3] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[4:], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a message header from the reader.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		Magic:   buf[0],
		Version: buf[1],
		Type:    MessageType(buf[2]),
		Flags:   MessageFlag(buf[3]),
		Length:  binary.BigEndian.Uint32(buf[4:]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.Length > MaxMessageSize {
		return Header{}, ErrMessageTooLarge
	}

	return h, nil
}

// WriteMessage writes a complete message to the writer.
func WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	h := Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Type:    msgType,
		Flags:   FlagNone,
		Length:  uint32(len(payload)),
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}

	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from the reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: h}
	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

