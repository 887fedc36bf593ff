package memd

import (
	"fmt"

	"github.com/nkvdb/nkv/common"
)

// --------------------------------------------------------------------------
// Opcodes
// --------------------------------------------------------------------------

// Opcode identifies the operation carried by a frame
type Opcode uint8

const (
	OpGet                 Opcode = 0x00
	OpSet                 Opcode = 0x01
	OpDelete              Opcode = 0x04
	OpIncrement           Opcode = 0x05
	OpDecrement           Opcode = 0x06
	OpObserve             Opcode = 0x92
	OpGetMeta             Opcode = 0xa0
	OpSubdocMultiMutation Opcode = 0xd1
)

// String returns the string representation of an Opcode
func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpObserve:
		return "observe"
	case OpGetMeta:
		return "getMeta"
	case OpSubdocMultiMutation:
		return "subdocMultiMutation"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(o))
	}
}

// --------------------------------------------------------------------------
// Statuses
// --------------------------------------------------------------------------

// Status is the server-reported result code of a response frame
type Status uint16

const (
	StatusSuccess            Status = 0x0000
	StatusKeyNotFound        Status = 0x0001
	StatusKeyExists          Status = 0x0002
	StatusTooBig             Status = 0x0003
	StatusInvalidArgs        Status = 0x0004
	StatusNotStored          Status = 0x0005
	StatusNotMyVbucket       Status = 0x0007
	StatusAuthError          Status = 0x0020
	StatusUnknownCommand     Status = 0x0081
	StatusOutOfMemory        Status = 0x0082
	StatusBusy               Status = 0x0085
	StatusTempFailure        Status = 0x0086
	StatusSubdocPathNotFound Status = 0x00c0
	StatusSubdocPathMismatch Status = 0x00c1
	StatusSubdocPathExists   Status = 0x00c2
	StatusSubdocBadMulti     Status = 0x00cc
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusKeyNotFound:
		return "keyNotFound"
	case StatusKeyExists:
		return "keyExists"
	case StatusTooBig:
		return "tooBig"
	case StatusInvalidArgs:
		return "invalidArgs"
	case StatusNotStored:
		return "notStored"
	case StatusNotMyVbucket:
		return "notMyVbucket"
	case StatusAuthError:
		return "authError"
	case StatusUnknownCommand:
		return "unknownCommand"
	case StatusOutOfMemory:
		return "outOfMemory"
	case StatusBusy:
		return "busy"
	case StatusTempFailure:
		return "tempFailure"
	case StatusSubdocPathNotFound:
		return "subdocPathNotFound"
	case StatusSubdocPathMismatch:
		return "subdocPathMismatch"
	case StatusSubdocPathExists:
		return "subdocPathExists"
	case StatusSubdocBadMulti:
		return "subdocBadMulti"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(s))
	}
}

// IsBusiness reports whether the status is a server-side logical outcome
// that must be surfaced to the caller instead of being retried.
func (s Status) IsBusiness() bool {
	switch s {
	case StatusKeyNotFound, StatusKeyExists, StatusTooBig, StatusNotStored,
		StatusSubdocPathNotFound, StatusSubdocPathMismatch, StatusSubdocPathExists,
		StatusSubdocBadMulti:
		return true
	}
	return false
}

// IsTemporary reports whether the status indicates a transient server
// condition worth retrying.
func (s Status) IsTemporary() bool {
	switch s {
	case StatusTempFailure, StatusBusy, StatusNotMyVbucket, StatusOutOfMemory:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Status decoding
// --------------------------------------------------------------------------

// temporaryStatusError marks a transient server status. It satisfies the
// Temporary() contract checked by the retry policy.
type temporaryStatusError struct {
	status Status
	key    string
}

func (e *temporaryStatusError) Error() string {
	return fmt.Sprintf("transient server status %s for key %q", e.status, e.key)
}

func (e *temporaryStatusError) Temporary() bool { return true }

// DecodeStatus maps a response status to the error model: nil for success,
// BusinessStatusError for logical outcomes, a temporary error for transient
// overload conditions, and a protocol error ("bad result") for everything
// the client does not understand.
func DecodeStatus(s Status, key string) error {
	switch {
	case s == StatusSuccess:
		return nil
	case s.IsBusiness():
		return &common.BusinessStatusError{Status: uint16(s), StatusName: s.String(), Key: key}
	case s.IsTemporary():
		return &temporaryStatusError{status: s, key: key}
	default:
		return fmt.Errorf("%w: bad result status %s for key %q", common.ErrProtocolDecode, s, key)
	}
}
