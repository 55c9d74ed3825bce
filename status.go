package puma

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"
)

// StatusKind enumerates the reports a Runnable publishes on its
// StatusChannel (spec.md §5, §7).
type StatusKind int

const (
	// StatusAlive reports a liveness heartbeat, either spontaneous (on a
	// tick boundary) or in answer to a CommandPing.
	StatusAlive StatusKind = iota
	// StatusStopping reports that the Runnable has begun an orderly
	// shutdown, in response to CommandStop or to its CommandChannel
	// being completed.
	StatusStopping
	// StatusStopped reports that the Runnable's servicing loop is
	// returning without error, after a stop request or after an input
	// completed without error. It is emitted just before the loop
	// returns; the loop's input and output handles are released after it.
	StatusStopped
	// StatusFailed reports that the Runnable's servicing loop exited
	// because of an unrecoverable error; Err is always non-nil.
	StatusFailed
)

// Status is a single report on a Runnable's StatusChannel.
type Status struct {
	Kind      StatusKind
	Timestamp float64 // PrecisionTimestamp() at the moment of the report
	Err       error
	Reason    string
}

// StatusChannel is the Buffer specialisation that carries Status reports
// out of a Runnable. Unlike CommandChannel it is unbounded: a supervisor
// must never be the reason a Runnable blocks mid-shutdown, and the volume
// of status reports over a Runnable's lifetime is small and bounded by
// construction (spec.md §5).
type StatusChannel = Buffer[Status]

// newStatus stamps a Status with the current PrecisionTimestamp.
func newStatus(kind StatusKind, err error, reason string) Status {
	return Status{Kind: kind, Timestamp: PrecisionTimestamp(), Err: err, Reason: reason}
}

// statusWire is Status's representation on the process-flavoured transport.
// Err is an interface field that a Handler or Runner can populate with any
// concrete error type (*UserError, *TransportError, a plain errors.New
// result, ...); encoding/gob cannot encode an interface-typed field without
// gob.Register-ing every concrete type that might reach it, and several of
// the concrete types in this package have unexported fields that gob
// cannot encode at all. GobEncode/GobDecode below carry Err across the wire
// as its message only, the same ErrMsg-string approach wireEnvelope already
// uses for buffer-completion errors.
type statusWire struct {
	Kind      StatusKind
	Timestamp float64
	ErrMsg    string
	Reason    string
}

// GobEncode implements gob.GobEncoder.
func (s Status) GobEncode() ([]byte, error) {
	w := statusWire{Kind: s.Kind, Timestamp: s.Timestamp, Reason: s.Reason}
	if s.Err != nil {
		w.ErrMsg = s.Err.Error()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder. The reconstructed Err carries only
// the original message, not its concrete type or Unwrap chain.
func (s *Status) GobDecode(data []byte) error {
	var w statusWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	s.Kind = w.Kind
	s.Timestamp = w.Timestamp
	s.Reason = w.Reason
	s.Err = nil
	if w.ErrMsg != "" {
		s.Err = errors.New(w.ErrMsg)
	}
	return nil
}

// statusChannelDiscardGrace overrides the default discard grace for status
// channels: a supervisor that has stopped reading status reports (e.g.
// because it already observed StatusStopped) should not keep a discard
// sweep timer running any longer than necessary.
const statusChannelDiscardGrace = 2 * time.Second
