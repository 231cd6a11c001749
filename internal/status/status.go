// Package status implements the flat numeric status-code space shared by
// every component that crosses a job-pool or wire-protocol boundary
// (disk errors, protocol errors, concurrency/lifecycle errors). The job
// pool hands a job's Go error to its callback unchanged; the read service
// and write chain translate it into a Code with FromError before putting
// it on the wire, and wire encoders serialize a Code as a single byte.
package status

import (
	"errors"
	"fmt"
)

// Code is a flat status space, STATUS_OK = 0, mirroring the C u8 status
// byte carried on the wire.
type Code uint8

const (
	OK Code = iota
	EINVAL
	ENOENT
	EEXIST
	EPERM
	CRCError
	WrongVersion
	IOError
	NoSpace
	NotDone
	Disconnected
	Waiting
	ConnectionTimeout
	Malformed
)

var names = map[Code]string{
	OK:                "OK",
	EINVAL:            "EINVAL",
	ENOENT:            "ENOENT",
	EEXIST:            "EEXIST",
	EPERM:             "EPERM",
	CRCError:          "CRC_ERROR",
	WrongVersion:      "WRONG_VERSION",
	IOError:           "IO_ERROR",
	NoSpace:           "NO_SPACE",
	NotDone:           "NOT_DONE",
	Disconnected:      "DISCONNECTED",
	Waiting:           "WAITING",
	ConnectionTimeout: "CONNECTION_TIMEOUT",
	Malformed:         "MALFORMED",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", uint8(c))
}

// Error implements error so a Code can be returned, wrapped and compared
// with errors.Is directly.
func (c Code) Error() string { return c.String() }

// Sentinel errors for errors.Is/errors.As comparisons, one per Code.
// Each is the Code value itself under an Err-prefixed name, so that
// fmt.Errorf("%w", ErrX) wrapping reads naturally at call sites, matching
// the teacher's sentinel-error style in chunk/file/manager.go.
var (
	ErrInvalid           = EINVAL
	ErrNotFound          = ENOENT
	ErrExists            = EEXIST
	ErrPermission        = EPERM
	ErrCRCMismatch       = CRCError
	ErrWrongVersion      = WrongVersion
	ErrIOError           = IOError
	ErrNoSpace           = NoSpace
	ErrNotDone           = NotDone
	ErrDisconnected      = Disconnected
	ErrWaiting           = Waiting
	ErrConnectionTimeout = ConnectionTimeout
	ErrMalformed         = Malformed
)

// FromError maps a Go error to a wire Code, defaulting to EINVAL for
// anything it doesn't recognize. The read service and write chain call
// it where a job's or an operation's error becomes a status on the wire;
// the job pool itself does not call it.
func FromError(err error) Code {
	if err == nil {
		return OK
	}
	var code Code
	if errors.As(err, &code) {
		return code
	}
	return EINVAL
}
