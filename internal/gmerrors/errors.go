// Package gmerrors defines the engine's error taxonomy (spec §7). Each error
// is a concrete type implementing error, so callers can use errors.As
// instead of string matching; the types that wrap a cause
// (PlayerCreationError, TemporaryDirectoryError) also implement Unwrap.
package gmerrors

import "fmt"

// DuplicateObjectError is returned by the object list when the inserted
// payload's hash already exists. ExistingID is the id of the object already
// on record; the caller must not re-dispatch.
type DuplicateObjectError struct {
	ExistingID int
}

func (e *DuplicateObjectError) Error() string {
	return fmt.Sprintf("duplicate object, existing id %d", e.ExistingID)
}

// WaitTimeoutError is raised to a player whose waitTillFact exceeded its
// timeout.
type WaitTimeoutError struct {
	Kinds []string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("wait timeout for kinds %v", e.Kinds)
}

// StreamTimeoutError is raised to a stream consumer whose per-iteration
// timeout elapsed.
type StreamTimeoutError struct {
	StreamID string
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("stream timeout on %s", e.StreamID)
}

// RPCTimeoutError is raised by send_and_wait when its timeout elapses.
type RPCTimeoutError struct {
	Command string
}

func (e *RPCTimeoutError) Error() string {
	return fmt.Sprintf("rpc timeout on command %s", e.Command)
}

// ConsoleError wraps a GameMaster "error" reply surfaced to the caller.
type ConsoleError struct {
	Reason string
}

func (e *ConsoleError) Error() string { return e.Reason }

// PlayerCreationError records a failed analyzer instantiation. The delivery
// that triggered it is skipped; the tracker logs and continues.
type PlayerCreationError struct {
	Name string
	Err  error
}

func (e *PlayerCreationError) Error() string {
	return fmt.Sprintf("failed to create player instance %q: %v", e.Name, e.Err)
}

func (e *PlayerCreationError) Unwrap() error { return e.Err }

// NotFoundError records a lookup-by-id miss.
type NotFoundError struct {
	Kind string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// ConfigNotFoundError is returned when an entity has no configured schema
// but is asked to parse options.
type ConfigNotFoundError struct {
	Name string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("no configuration schema for %q", e.Name)
}

// TemporaryDirectoryError wraps a filesystem setup/teardown failure.
type TemporaryDirectoryError struct {
	Err error
}

func (e *TemporaryDirectoryError) Error() string {
	return fmt.Sprintf("temporary directory error: %v", e.Err)
}

func (e *TemporaryDirectoryError) Unwrap() error { return e.Err }

// FatalError covers engine-version mismatches, malformed save state, and
// unknown RPC commands — conditions that should abort the run.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }
