package memd

import (
	"encoding/binary"
	"fmt"

	"github.com/nkvdb/nkv/common"
)

// --------------------------------------------------------------------------
// Observe key states
// --------------------------------------------------------------------------

// ObserveKeyState is the per-node persistence state of one key
type ObserveKeyState uint8

const (
	// ObserveFoundNotPersisted: the node holds the key in memory only
	ObserveFoundNotPersisted ObserveKeyState = 0x00
	// ObserveFoundPersisted: the node holds the key persisted to disk
	ObserveFoundPersisted ObserveKeyState = 0x01
	// ObserveNotFound: the node does not hold the key
	ObserveNotFound ObserveKeyState = 0x80
	// ObservePersistedDeleted: a deletion of the key is persisted
	ObservePersistedDeleted ObserveKeyState = 0x81
)

// String returns the string representation of an ObserveKeyState
func (s ObserveKeyState) String() string {
	switch s {
	case ObserveFoundNotPersisted:
		return "foundNotPersisted"
	case ObserveFoundPersisted:
		return "foundPersisted"
	case ObserveNotFound:
		return "notFound"
	case ObservePersistedDeleted:
		return "persistedDeleted"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(s))
	}
}

// Found reports whether the node holds the key at all (replicated),
// persisted or not.
func (s ObserveKeyState) Found() bool {
	return s == ObserveFoundNotPersisted || s == ObserveFoundPersisted
}

// Persisted reports whether the node has the key's state on disk.
func (s ObserveKeyState) Persisted() bool {
	return s == ObserveFoundPersisted || s == ObservePersistedDeleted
}

// --------------------------------------------------------------------------
// Request / Response
// --------------------------------------------------------------------------

// ObserveEntry is one key probed by an observe request, tagged with its
// partition id so the per-node response can be demultiplexed.
type ObserveEntry struct {
	Vbucket uint16
	Key     []byte
}

// ObservationRecord is the per-node, per-key result of one observe poll.
// Ephemeral: produced and consumed within a single polling round.
type ObservationRecord struct {
	Vbucket uint16
	Key     []byte
	State   ObserveKeyState
	Cas     uint64
}

// NewObserveRequest creates an observe frame probing all given keys on one
// node. The body carries {vbucket(2) keyLen(2) key} per entry.
func NewObserveRequest(entries []ObserveEntry) *Packet {
	size := 0
	for i := range entries {
		size += 4 + len(entries[i].Key)
	}

	body := make([]byte, size)
	pos := 0
	for i := range entries {
		binary.BigEndian.PutUint16(body[pos:pos+2], entries[i].Vbucket)
		binary.BigEndian.PutUint16(body[pos+2:pos+4], uint16(len(entries[i].Key)))
		pos += 4
		pos += copy(body[pos:], entries[i].Key)
	}

	return &Packet{
		Magic:  MagicRequest,
		Opcode: OpObserve,
		Value:  body,
	}
}

// DecodeObserveResponse decodes an observe response body of
// {vbucket(2) keyLen(2) key keyState(1) cas(8)} entries.
func DecodeObserveResponse(p *Packet) ([]ObservationRecord, error) {
	if err := DecodeStatus(p.Status, ""); err != nil {
		return nil, err
	}

	var records []ObservationRecord
	body := p.Value
	pos := 0
	for pos < len(body) {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated observe entry header", common.ErrProtocolDecode)
		}
		vbucket := binary.BigEndian.Uint16(body[pos : pos+2])
		keyLen := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		pos += 4

		if pos+keyLen+9 > len(body) {
			return nil, fmt.Errorf("%w: truncated observe entry", common.ErrProtocolDecode)
		}
		key := make([]byte, keyLen)
		copy(key, body[pos:pos+keyLen])
		pos += keyLen

		state := ObserveKeyState(body[pos])
		cas := binary.BigEndian.Uint64(body[pos+1 : pos+9])
		pos += 9

		records = append(records, ObservationRecord{
			Vbucket: vbucket,
			Key:     key,
			State:   state,
			Cas:     cas,
		})
	}

	return records, nil
}
