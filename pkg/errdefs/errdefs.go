// Package errdefs defines the error kinds returned by Burrow operations.
//
// Every kind is a distinct type with an Is method, so wrapped errors can be
// matched with errors.Is against the exported sentinels:
//
//	if errors.Is(err, errdefs.ErrNotFound) { ... }
package errdefs

import "fmt"

var (
	// ErrNotFound matches any NotFoundError
	ErrNotFound = NewNotFoundError("not found")
	// ErrNameConflict matches any NameConflictError
	ErrNameConflict = NewNameConflictError("name conflict")
	// ErrAttachConflict matches any AttachConflictError
	ErrAttachConflict = NewAttachConflictError("attach conflict")
	// ErrHostUnknown matches any HostUnknownError
	ErrHostUnknown = NewHostUnknownError("host unknown")
	// ErrInsufficientHosts matches any InsufficientHostsError
	ErrInsufficientHosts = NewInsufficientHostsError("insufficient hosts")
	// ErrNoBackupTarget matches any NoBackupTargetError
	ErrNoBackupTarget = NewNoBackupTargetError("no backup target configured")
	// ErrInvalidArgument matches any InvalidArgumentError
	ErrInvalidArgument = NewInvalidArgumentError("invalid argument")
	// ErrAsyncTaskFailure matches any AsyncTaskFailureError
	ErrAsyncTaskFailure = NewAsyncTaskFailureError("task failed")
	// ErrNotLeader matches any NotLeaderError
	ErrNotLeader = NewNotLeaderError("not the leader")
)

type baseError struct {
	msg string
}

func (b *baseError) Error() string {
	return b.msg
}

// NotFoundError is returned when a volume, snapshot, backup, host or setting does not exist
type NotFoundError struct {
	baseError
}

// NewNotFoundError returns a new NotFoundError
func NewNotFoundError(msg string, a ...interface{}) error {
	return &NotFoundError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// NameConflictError is returned when a volume or job name is already taken
type NameConflictError struct {
	baseError
}

// NewNameConflictError returns a new NameConflictError
func NewNameConflictError(msg string, a ...interface{}) error {
	return &NameConflictError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *NameConflictError) Is(target error) bool {
	_, ok := target.(*NameConflictError)
	return ok
}

// AttachConflictError is returned when an operation is invalid in the volume's current state
type AttachConflictError struct {
	baseError
}

// NewAttachConflictError returns a new AttachConflictError
func NewAttachConflictError(msg string, a ...interface{}) error {
	return &AttachConflictError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *AttachConflictError) Is(target error) bool {
	_, ok := target.(*AttachConflictError)
	return ok
}

// HostUnknownError is returned when an operation targets an unregistered host
type HostUnknownError struct {
	baseError
}

// NewHostUnknownError returns a new HostUnknownError
func NewHostUnknownError(msg string, a ...interface{}) error {
	return &HostUnknownError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *HostUnknownError) Is(target error) bool {
	_, ok := target.(*HostUnknownError)
	return ok
}

// InsufficientHostsError is returned when no host can take a replica
type InsufficientHostsError struct {
	baseError
}

// NewInsufficientHostsError returns a new InsufficientHostsError
func NewInsufficientHostsError(msg string, a ...interface{}) error {
	return &InsufficientHostsError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *InsufficientHostsError) Is(target error) bool {
	_, ok := target.(*InsufficientHostsError)
	return ok
}

// NoBackupTargetError is returned when a backup is requested without a backup target
type NoBackupTargetError struct {
	baseError
}

// NewNoBackupTargetError returns a new NoBackupTargetError
func NewNoBackupTargetError(msg string, a ...interface{}) error {
	return &NoBackupTargetError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *NoBackupTargetError) Is(target error) bool {
	_, ok := target.(*NoBackupTargetError)
	return ok
}

// InvalidArgumentError is returned for malformed requests
type InvalidArgumentError struct {
	baseError
}

// NewInvalidArgumentError returns a new InvalidArgumentError
func NewInvalidArgumentError(msg string, a ...interface{}) error {
	return &InvalidArgumentError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *InvalidArgumentError) Is(target error) bool {
	_, ok := target.(*InvalidArgumentError)
	return ok
}

// AsyncTaskFailureError describes a failed background task. It is recorded
// on the task, never returned from a synchronous call.
type AsyncTaskFailureError struct {
	baseError
}

// NewAsyncTaskFailureError returns a new AsyncTaskFailureError
func NewAsyncTaskFailureError(msg string, a ...interface{}) error {
	return &AsyncTaskFailureError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *AsyncTaskFailureError) Is(target error) bool {
	_, ok := target.(*AsyncTaskFailureError)
	return ok
}

// NotLeaderError is returned when a write reaches a node that is not the raft leader
type NotLeaderError struct {
	baseError
}

// NewNotLeaderError returns a new NotLeaderError
func NewNotLeaderError(msg string, a ...interface{}) error {
	return &NotLeaderError{baseError{msg: fmt.Sprintf(msg, a...)}}
}

func (e *NotLeaderError) Is(target error) bool {
	_, ok := target.(*NotLeaderError)
	return ok
}
