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
Package compression provides configurable compression for raftd's
wire path. internal/transport uses it for InstallSnapshot segments, so
a large state machine snapshot costs less network bandwidth streaming
to a lagging or newly joined peer. BatchCompressor, which compresses
several entries together as one payload, is not used by the transport.

Supported algorithms:

 1. Gzip: ubiquitous, moderate speed and ratio
 2. LZ4: very fast, lower ratio
 3. Snappy: very fast, tuned for real-time replication traffic
 4. Zstd: best ratio, configurable speed/ratio tradeoff
*/
package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression codec.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("compression: unknown algorithm %q", s)
	}
}

// Level is a speed/ratio tradeoff knob. Only Gzip honors it precisely;
// LZ4/Snappy have no tunable level and ignore it, Zstd maps it onto its
// own coarser EncoderLevel scale.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compressor behavior.
type Config struct {
	Algorithm Algorithm `json:"algorithm"`
	Level     Level     `json:"level"`
	// MinSize is the smallest payload worth compressing; anything
	// smaller is passed through uncompressed with AlgorithmNone framing,
	// since codec overhead would outweigh the gain.
	MinSize int `json:"min_size"`
}

// DefaultConfig returns sensible defaults for snapshot segment
// compression.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgorithmGzip,
		Level:     LevelDefault,
		MinSize:   256,
	}
}

var (
	ErrInvalidHeader    = errors.New("compression: invalid header")
	ErrUnsupportedAlgo  = errors.New("compression: unsupported algorithm")
	ErrDecompressFailed = errors.New("compression: decompression failed")
)

// Compressor compresses and decompresses byte payloads under one
// Config. Only the zstd encoder/decoder is shared across calls; gzip
// and lz4 writers are created on each call.
type Compressor struct {
	config   Config
	gzipPool sync.Pool
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
}

// NewCompressor returns a Compressor for config. Zstd's encoder/decoder
// pair is expensive enough to build that it is created once and shared
// across every call rather than pooled per-call.
func NewCompressor(config Config) *Compressor {
	c := &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
	c.zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(config.Level)))
	c.zstdDec, _ = zstd.NewReader(nil)
	return c
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Compress encodes data with the Compressor's configured algorithm.
// Payloads smaller than Config.MinSize are passed through with
// AlgorithmNone framing, regardless of the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize {
		return frame(AlgorithmNone, data), nil
	}
	body, err := c.encode(c.config.Algorithm, data)
	if err != nil {
		return nil, err
	}
	return frame(c.config.Algorithm, body), nil
}

func (c *Compressor) encode(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, int(c.config.Level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmZstd:
		return c.zstdEnc.EncodeAll(data, nil), nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// Decompress reverses Compress. algo must match the algorithm the
// payload was framed with; Compress's own frame header is checked
// against it defensively.
func (c *Compressor) Decompress(framed []byte, algo Algorithm) ([]byte, error) {
	got, body, err := unframe(framed)
	if err != nil {
		return nil, err
	}
	if got != AlgorithmNone && got != algo {
		return nil, fmt.Errorf("%w: frame says %s, caller expected %s", ErrInvalidHeader, got, algo)
	}
	return c.decode(got, body)
}

func (c *Compressor) decode(algo Algorithm, body []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return body, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmZstd:
		out, err := c.zstdDec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// frame prepends a one-byte algorithm tag so Decompress can sanity
// check the payload it's handed regardless of what the caller thinks
// it is.
func frame(algo Algorithm, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(algo)
	copy(out[1:], body)
	return out
}

func unframe(framed []byte) (Algorithm, []byte, error) {
	if len(framed) < 1 {
		return AlgorithmNone, nil, ErrInvalidHeader
	}
	return Algorithm(framed[0]), framed[1:], nil
}

// BatchCompressor accumulates several length-prefixed entries and
// compresses them together as one payload, which ratios better than
// compressing each entry on its own. Nothing in this module calls it;
// the transport compresses only InstallSnapshot segments.
type BatchCompressor struct {
	config  Config
	entries [][]byte
}

// NewBatchCompressor returns a BatchCompressor for config.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{config: config}
}

// Add appends one entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	b.entries = append(b.entries, entry)
}

// Flush concatenates every added entry behind a uint32 length prefix
// and compresses the result, then clears the pending batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	var lenBytes [4]byte
	for _, e := range b.entries {
		binary.BigEndian.PutUint32(lenBytes[:], uint32(len(e)))
		buf.Write(lenBytes[:])
		buf.Write(e)
	}
	b.entries = nil

	c := NewCompressor(b.config)
	return c.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, splitting the decompressed payload
// back into its original entries.
func (b *BatchCompressor) DecompressBatch(framed []byte, algo Algorithm) ([][]byte, error) {
	c := NewCompressor(b.config)
	raw, err := c.Decompress(framed, algo)
	if err != nil {
		return nil, err
	}

	var out [][]byte
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("%w: truncated batch length prefix", ErrInvalidHeader)
		}
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, fmt.Errorf("%w: truncated batch entry", ErrInvalidHeader)
		}
		entry := make([]byte, n)
		copy(entry, raw[:n])
		out = append(out, entry)
		raw = raw[n:]
	}
	return out, nil
}
