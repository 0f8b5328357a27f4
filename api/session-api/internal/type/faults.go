// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_type

import (
	"errors"
	"fmt"
)

// FaultKind classifies every failure this subsystem can surface. The kind
// decides recoverability: capture and transcription faults degrade the
// session, upload faults degrade the record, and only a save-API fault is
// blocking.
type FaultKind string

const (
	FaultPermissionDenied     FaultKind = "permission_denied"
	FaultDeviceUnavailable    FaultKind = "device_unavailable"
	FaultEncodingFailure      FaultKind = "encoding_failure"
	FaultChannelDisconnected  FaultKind = "channel_disconnected"
	FaultUploadTimeout        FaultKind = "upload_timeout"
	FaultUploadTransportError FaultKind = "upload_transport_error"
	FaultSaveApiError         FaultKind = "save_api_error"
	FaultAlreadyActive        FaultKind = "already_active"
)

// Fault is a tagged error. Callers branch on Kind, never on message text.
type Fault struct {
	Kind    FaultKind
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a tagged failure wrapping an optional cause.
func NewFault(kind FaultKind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// FaultKindOf extracts the kind from an error chain, or "" if the chain
// carries no Fault.
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsFault reports whether err carries a Fault of the given kind.
func IsFault(err error, kind FaultKind) bool {
	return FaultKindOf(err) == kind
}
