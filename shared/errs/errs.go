// Package errs gives the error taxonomy of §7 concrete Go types so callers
// can recover the kind with errors.As and react per the recovery policy
// table (recover locally, surface to caller, record and continue, fatal to
// subsystem only).
package errs

import "fmt"

// TransientUpstream wraps broker or control-channel transport errors.
// Recovery: bounded exponential backoff; no operation is lost because the
// durable inbox preserves pending work.
type TransientUpstream struct{ Err error }

func (e *TransientUpstream) Error() string { return fmt.Sprintf("transient upstream: %v", e.Err) }
func (e *TransientUpstream) Unwrap() error { return e.Err }

// AuthFailure wraps a bad token or bad credentials. Recovery: channel
// rejected, agent retries from the auth step.
type AuthFailure struct{ Err error }

func (e *AuthFailure) Error() string { return fmt.Sprintf("auth failure: %v", e.Err) }
func (e *AuthFailure) Unwrap() error { return e.Err }

// BrokerUnavailable wraps a down durable-inbox broker on the Controller.
// Recovery: channel rejected with close code 4000, agent retries connection.
type BrokerUnavailable struct{ Err error }

func (e *BrokerUnavailable) Error() string { return fmt.Sprintf("broker unavailable: %v", e.Err) }
func (e *BrokerUnavailable) Unwrap() error { return e.Err }

// ValidationError wraps malformed scheduling inputs or missing required
// params. Recovery: returned as an error string to the caller; no enqueue,
// no side effects.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ExecutorFailure wraps a subprocess non-zero exit not recognized as
// "already initialized". Recovery: logged, reported upstream with
// task_status: failed where a progress event was opened.
type ExecutorFailure struct{ Err error }

func (e *ExecutorFailure) Error() string { return fmt.Sprintf("executor failure: %v", e.Err) }
func (e *ExecutorFailure) Unwrap() error { return e.Err }

// StorageError wraps a ledger or result-store write failure. Recovery:
// logged; does not abort the enclosing request.
type StorageError struct{ Err error }

func (e *StorageError) Error() string { return fmt.Sprintf("storage error: %v", e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// PolicyError wraps an invalid DR policy document. Recovery: the DR
// monitor logs and does not start; other subsystems unaffected.
type PolicyError struct{ Err error }

func (e *PolicyError) Error() string { return fmt.Sprintf("policy error: %v", e.Err) }
func (e *PolicyError) Unwrap() error { return e.Err }
