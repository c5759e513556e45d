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

// Package errors is the structured error system the raftd host process
// (transport, storage engine, discovery) reports through: a category, a
// numeric code, a message, optional detail/hint, and an optional
// wrapped cause. raft.Node's own errors (ShutdownError, AppError, ...)
// live in package raft and are unrelated; this package is for the
// host-side components that back a raft.Node, not the core itself.
package errors

import "fmt"

// ErrorCode is a unique, stable identifier for one error condition.
type ErrorCode int

const (
	// Transport errors (3000-3999)
	ErrCodeTransport         ErrorCode = 3000
	ErrCodeConnectionLost    ErrorCode = 3001
	ErrCodeTimeout           ErrorCode = 3002
	ErrCodeProtocolError     ErrorCode = 3003
	ErrCodeServerUnavailable ErrorCode = 3004
	ErrCodeDialFailed        ErrorCode = 3005

	// Auth/TLS errors (4000-4999)
	ErrCodeAuth              ErrorCode = 4000
	ErrCodeTLSHandshakeFailed ErrorCode = 4001
	ErrCodeCertificateInvalid ErrorCode = 4002

	// Storage errors (5000-5999)
	ErrCodeStorage           ErrorCode = 5000
	ErrCodeLogCorrupted      ErrorCode = 5001
	ErrCodeDiskFull          ErrorCode = 5002
	ErrCodeIOError           ErrorCode = 5003
	ErrCodeCompactionFailed  ErrorCode = 5004
	ErrCodeSnapshotCorrupted ErrorCode = 5005

	// Validation errors (6000-6999)
	ErrCodeValidation      ErrorCode = 6000
	ErrCodeInvalidValue    ErrorCode = 6001
	ErrCodeMissingRequired ErrorCode = 6002

	// Discovery errors (7000-7999)
	ErrCodeDiscovery        ErrorCode = 7000
	ErrCodeBrowseFailed     ErrorCode = 7001
	ErrCodeNoPeersFound     ErrorCode = 7002
	ErrCodeAdvertiseFailed  ErrorCode = 7003
)

// Category groups related error codes for coarse-grained handling
// (retry transport errors, never retry validation errors, and so on).
type Category string

const (
	CategoryTransport  Category = "TRANSPORT"
	CategoryAuth       Category = "AUTH"
	CategoryStorage    Category = "STORAGE"
	CategoryValidation Category = "VALIDATION"
	CategoryDiscovery  Category = "DISCOVERY"
)

// HostError is the structured error type every constructor in this
// package returns.
type HostError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

func (e *HostError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%d %s] %s: %s", e.Code, e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%d %s] %s", e.Code, e.Category, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *HostError) Unwrap() error { return e.Cause }

// UserMessage renders a message suitable for an operator-facing log
// line or CLI output, including the hint if one is set.
func (e *HostError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHINT: %s", e.Hint)
	}
	return msg
}

func (e *HostError) WithDetail(detail string) *HostError { e.Detail = detail; return e }
func (e *HostError) WithHint(hint string) *HostError     { e.Hint = hint; return e }
func (e *HostError) WithCause(cause error) *HostError    { e.Cause = cause; return e }

// ---- Transport ----

func NewTransportError(message string) *HostError {
	return &HostError{Code: ErrCodeTransport, Category: CategoryTransport, Message: message}
}

func ConnectionLost(peer, reason string) *HostError {
	return &HostError{
		Code:     ErrCodeConnectionLost,
		Category: CategoryTransport,
		Message:  fmt.Sprintf("connection to %s lost", peer),
		Detail:   reason,
		Hint:     "check network connectivity and the peer's process health",
	}
}

func DialFailed(peer string, cause error) *HostError {
	return &HostError{
		Code:     ErrCodeDialFailed,
		Category: CategoryTransport,
		Message:  fmt.Sprintf("failed to dial %s", peer),
		Cause:    cause,
	}
}

func ProtocolError(detail string) *HostError {
	return &HostError{Code: ErrCodeProtocolError, Category: CategoryTransport, Message: "protocol error", Detail: detail}
}

func ServerUnavailable(addr string) *HostError {
	return &HostError{
		Code:     ErrCodeServerUnavailable,
		Category: CategoryTransport,
		Message:  fmt.Sprintf("server unavailable at %s", addr),
	}
}

// ---- Auth/TLS ----

func TLSHandshakeFailed(cause error) *HostError {
	return &HostError{
		Code:     ErrCodeTLSHandshakeFailed,
		Category: CategoryAuth,
		Message:  "TLS handshake failed",
		Cause:    cause,
		Hint:     "verify the peer's certificate is signed by the configured CA",
	}
}

func CertificateInvalid(detail string) *HostError {
	return &HostError{Code: ErrCodeCertificateInvalid, Category: CategoryAuth, Message: "invalid certificate", Detail: detail}
}

// ---- Storage ----

func NewStorageError(message string) *HostError {
	return &HostError{Code: ErrCodeStorage, Category: CategoryStorage, Message: message}
}

func LogCorrupted(detail string) *HostError {
	return &HostError{
		Code:     ErrCodeLogCorrupted,
		Category: CategoryStorage,
		Message:  "replicated log corrupted",
		Detail:   detail,
		Hint:     "restore this node from a peer's snapshot",
	}
}

func CompactionFailed(reason string) *HostError {
	return &HostError{Code: ErrCodeCompactionFailed, Category: CategoryStorage, Message: "log compaction failed", Detail: reason}
}

func SnapshotCorrupted(detail string) *HostError {
	return &HostError{Code: ErrCodeSnapshotCorrupted, Category: CategoryStorage, Message: "snapshot corrupted", Detail: detail}
}

// ---- Validation ----

func NewValidationError(message string) *HostError {
	return &HostError{Code: ErrCodeValidation, Category: CategoryValidation, Message: message}
}

func InvalidValue(field, reason string) *HostError {
	return &HostError{
		Code:     ErrCodeInvalidValue,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("invalid value for %q", field),
		Detail:   reason,
	}
}

func MissingRequired(field string) *HostError {
	return &HostError{Code: ErrCodeMissingRequired, Category: CategoryValidation, Message: fmt.Sprintf("missing required field: %s", field)}
}

// ---- Discovery ----

func BrowseFailed(cause error) *HostError {
	return &HostError{Code: ErrCodeBrowseFailed, Category: CategoryDiscovery, Message: "mDNS browse failed", Cause: cause}
}

func NoPeersFound(service string) *HostError {
	return &HostError{
		Code:     ErrCodeNoPeersFound,
		Category: CategoryDiscovery,
		Message:  fmt.Sprintf("no peers discovered for service %s", service),
		Hint:     "confirm other nodes are advertising on the same service name and are reachable over multicast",
	}
}

func AdvertiseFailed(cause error) *HostError {
	return &HostError{Code: ErrCodeAdvertiseFailed, Category: CategoryDiscovery, Message: "mDNS advertise failed", Cause: cause}
}

// ---- Helpers ----

func IsTransportError(err error) bool { return hasCategory(err, CategoryTransport) }
func IsStorageError(err error) bool   { return hasCategory(err, CategoryStorage) }
func IsDiscoveryError(err error) bool { return hasCategory(err, CategoryDiscovery) }

func hasCategory(err error, c Category) bool {
	if e, ok := err.(*HostError); ok {
		return e.Category == c
	}
	return false
}

// GetCode returns err's code, or 0 if it is not a *HostError.
func GetCode(err error) ErrorCode {
	if e, ok := err.(*HostError); ok {
		return e.Code
	}
	return 0
}

// FormatError renders err for display, using UserMessage when err is a
// *HostError and a plain "ERROR: %v" otherwise.
func FormatError(err error) string {
	if e, ok := err.(*HostError); ok {
		return e.UserMessage()
	}
	return fmt.Sprintf("ERROR: %v", err)
}
