package memd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nkvdb/nkv/common"
)

// CounterNoInitialExpiry is the sentinel expiry written when a counter
// operation carries no initial value. The server then reports key-not-found
// for missing documents instead of creating the counter.
const CounterNoInitialExpiry uint32 = 0xffffffff

// --------------------------------------------------------------------------
// Request Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a get request frame
func NewGetRequest(key []byte, vbucket uint16) *Packet {
	return &Packet{
		Magic:   MagicRequest,
		Opcode:  OpGet,
		Vbucket: vbucket,
		Key:     append([]byte(nil), key...),
	}
}

// NewSetRequest creates a set (upsert) request frame. A non-zero cas turns
// the upsert into a cas-checked replace; the server answers keyExists on a
// mismatch.
func NewSetRequest(key, value []byte, flags, expiry uint32, cas uint64, vbucket uint16) *Packet {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[0:4], flags)
	binary.BigEndian.PutUint32(extras[4:8], expiry)

	return &Packet{
		Magic:   MagicRequest,
		Opcode:  OpSet,
		Vbucket: vbucket,
		Cas:     cas,
		Extras:  extras,
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), value...),
	}
}

// NewDeleteRequest creates a delete request frame
func NewDeleteRequest(key []byte, cas uint64, vbucket uint16) *Packet {
	return &Packet{
		Magic:   MagicRequest,
		Opcode:  OpDelete,
		Vbucket: vbucket,
		Cas:     cas,
		Key:     append([]byte(nil), key...),
	}
}

// NewCounterRequest creates an increment or decrement request frame. The
// extras carry the 8-byte delta, the 8-byte initial value and a 4-byte
// expiry. When initial is nil the sentinel no-initial expiry is written, so
// the operation reports key-not-found on missing documents.
func NewCounterRequest(opcode Opcode, key []byte, delta uint64, initial *uint64, expiry uint32, vbucket uint16) (*Packet, error) {
	if opcode != OpIncrement && opcode != OpDecrement {
		return nil, fmt.Errorf("opcode %s is not a counter operation", opcode)
	}

	extras := make([]byte, 20)
	binary.BigEndian.PutUint64(extras[0:8], delta)
	if initial != nil {
		binary.BigEndian.PutUint64(extras[8:16], *initial)
		binary.BigEndian.PutUint32(extras[16:20], expiry)
	} else {
		binary.BigEndian.PutUint64(extras[8:16], 0)
		binary.BigEndian.PutUint32(extras[16:20], CounterNoInitialExpiry)
	}

	return &Packet{
		Magic:   MagicRequest,
		Opcode:  opcode,
		Vbucket: vbucket,
		Extras:  extras,
		Key:     append([]byte(nil), key...),
	}, nil
}

// NewGetMetaRequest creates a get-metadata (exists) request frame. The
// extras byte asks the server to also report logically deleted documents.
func NewGetMetaRequest(key []byte, vbucket uint16) *Packet {
	return &Packet{
		Magic:   MagicRequest,
		Opcode:  OpGetMeta,
		Vbucket: vbucket,
		Extras:  []byte{0x02},
		Key:     append([]byte(nil), key...),
	}
}

// --------------------------------------------------------------------------
// Typed Responses
// --------------------------------------------------------------------------

// GetResult is the decoded response of a get operation
type GetResult struct {
	Value []byte
	Flags uint32
	Cas   uint64
}

// MutationResult is the decoded response of a set or delete operation
type MutationResult struct {
	Cas uint64
}

// CounterResult is the decoded response of an increment or decrement
type CounterResult struct {
	Value uint64
	Cas   uint64
}

// ExistsResult is the decoded response of a get-metadata probe. A
// key-not-found status is a valid outcome (Exists=false), not an error.
type ExistsResult struct {
	Exists  bool
	Deleted bool
	Flags   uint32
	Expiry  uint32
	SeqNo   uint64
	Cas     uint64
}

// --------------------------------------------------------------------------
// Response Decoding
// --------------------------------------------------------------------------

// DecodeGetResponse decodes a get response frame
func DecodeGetResponse(p *Packet, key string) (GetResult, error) {
	if err := DecodeStatus(p.Status, key); err != nil {
		return GetResult{}, err
	}
	if len(p.Extras) < 4 {
		return GetResult{}, fmt.Errorf("%w: get response extras too short (%d bytes)",
			common.ErrProtocolDecode, len(p.Extras))
	}
	return GetResult{
		Value: p.Value,
		Flags: binary.BigEndian.Uint32(p.Extras[0:4]),
		Cas:   p.Cas,
	}, nil
}

// DecodeMutationResponse decodes a set or delete response frame, echoing
// the cas newly assigned by the server.
func DecodeMutationResponse(p *Packet, key string) (MutationResult, error) {
	if err := DecodeStatus(p.Status, key); err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Cas: p.Cas}, nil
}

// DecodeCounterResponse decodes an increment or decrement response. The
// body is a big-endian 8-byte counter, defaulting to 0 when absent.
func DecodeCounterResponse(p *Packet, key string) (CounterResult, error) {
	if err := DecodeStatus(p.Status, key); err != nil {
		return CounterResult{}, err
	}
	var value uint64
	if len(p.Value) >= 8 {
		value = binary.BigEndian.Uint64(p.Value[0:8])
	}
	return CounterResult{Value: value, Cas: p.Cas}, nil
}

// DecodeGetMetaResponse decodes a get-metadata response. The extras carry
// deleted(4) flags(4) expiry(4) seqno(8); the cas sits in the header.
func DecodeGetMetaResponse(p *Packet, key string) (ExistsResult, error) {
	if err := DecodeStatus(p.Status, key); err != nil {
		var bse *common.BusinessStatusError
		if errors.As(err, &bse) && Status(bse.Status) == StatusKeyNotFound {
			return ExistsResult{Exists: false}, nil
		}
		return ExistsResult{}, err
	}
	if len(p.Extras) < 20 {
		return ExistsResult{}, fmt.Errorf("%w: getMeta response extras too short (%d bytes)",
			common.ErrProtocolDecode, len(p.Extras))
	}
	return ExistsResult{
		Exists:  true,
		Deleted: binary.BigEndian.Uint32(p.Extras[0:4]) != 0,
		Flags:   binary.BigEndian.Uint32(p.Extras[4:8]),
		Expiry:  binary.BigEndian.Uint32(p.Extras[8:12]),
		SeqNo:   binary.BigEndian.Uint64(p.Extras[12:20]),
		Cas:     p.Cas,
	}, nil
}
