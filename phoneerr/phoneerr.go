// SPDX-License-Identifier: BSD-2-Clause

// Package phoneerr is the flat error-kind taxonomy (spec.md §7) surfaced
// across command boundaries to the UI shell. Below the command boundary,
// code keeps using plain fmt.Errorf("...: %w", err) chains, matching the
// teacher's own style; phoneerr only wraps the error once, at the point
// where it crosses into a command result or event.
package phoneerr

import (
	"errors"
	"fmt"
)

// Kind is one of the flat error kinds from spec.md §7.
type Kind string

const (
	ConfigInvalid             Kind = "config_invalid"
	AlreadyRegistered         Kind = "already_registered"
	NotRegistered             Kind = "not_registered"
	DnsResolveFailed          Kind = "dns_resolve_failed"
	TransportOpenFailed       Kind = "transport_open_failed"
	TlsHandshakeFailed        Kind = "tls_handshake_failed"
	WsConnectFailed           Kind = "ws_connect_failed"
	RegistrationRejected      Kind = "registration_rejected"
	RegistrationRefreshFailed Kind = "registration_refresh_failed"
	CallRejected              Kind = "call_rejected"
	ConnectionTimeout         Kind = "connection_timeout"
	NoPendingCall             Kind = "no_pending_call"
	NoActiveCall              Kind = "no_active_call"
	MediaSetupFailed          Kind = "media_setup_failed"
	Cancelled                 Kind = "cancelled"
	ProtocolInternal          Kind = "protocol_internal"
)

// Error wraps an underlying error with the Kind the command boundary
// classified it as, plus the operation name that produced it (mirroring
// the "op" field of Go's own os.PathError rather than inventing a new
// shape).
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Status carries the SIP status code for RegistrationRejected and
	// CallRejected, per spec.md's `{status}` payload on those two kinds.
	Status int
	// CallID carries the call identifier for NoPendingCall.
	CallID string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op classified as kind, wrapping err.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithStatus attaches a SIP status code (RegistrationRejected{status},
// CallRejected{status}) and returns the receiver for chaining.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCallID attaches a call identifier (NoPendingCall{call_id}) and
// returns the receiver for chaining.
func (e *Error) WithCallID(callID string) *Error {
	e.CallID = callID
	return e
}

// KindOf returns the Kind of err if it is, or wraps, a *phoneerr.Error;
// ProtocolInternal otherwise, matching the propagation policy's "convert
// once at the boundary" rule for errors the boundary did not classify.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProtocolInternal
}

// UserMessage renders the short, human-readable string spec.md §6 says
// every non-void command maps its error kind to.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case RegistrationRejected:
		return fmt.Sprintf("registration rejected (%d)", e.Status)
	case CallRejected:
		return fmt.Sprintf("call rejected (%d)", e.Status)
	case NoPendingCall:
		return fmt.Sprintf("no pending call %q", e.CallID)
	default:
		return string(e.Kind)
	}
}
