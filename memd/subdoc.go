package memd

import (
	"encoding/binary"
	"fmt"

	"github.com/nkvdb/nkv/common"
)

// --------------------------------------------------------------------------
// Sub-document command model
// --------------------------------------------------------------------------

// SubdocOpType identifies one path-level sub-document command
type SubdocOpType uint8

const (
	SubdocGet            SubdocOpType = 0xc5
	SubdocExists         SubdocOpType = 0xc6
	SubdocDictAdd        SubdocOpType = 0xc7
	SubdocDictUpsert     SubdocOpType = 0xc8
	SubdocDelete         SubdocOpType = 0xc9
	SubdocReplace        SubdocOpType = 0xca
	SubdocArrayPushLast  SubdocOpType = 0xcb
	SubdocArrayPushFirst SubdocOpType = 0xcc
	SubdocArrayInsert    SubdocOpType = 0xcd
	SubdocArrayAddUnique SubdocOpType = 0xce
	SubdocCounter        SubdocOpType = 0xcf
)

// Per-command flag bits
const (
	subdocFlagCreatePath   uint8 = 0x01
	subdocFlagXattr        uint8 = 0x04
	subdocFlagExpandMacros uint8 = 0x10
)

// SubdocCommand is one path-level mutation bundled into a multi-mutation
// frame. OriginalIndex is the caller-supplied slot the command's result is
// demultiplexed back into, surviving any server-side reordering.
type SubdocCommand struct {
	Op               SubdocOpType
	Path             string
	Value            []byte
	CreateParentPath bool
	Xattr            bool
	ExpandMacros     bool
	OriginalIndex    int
}

func (c *SubdocCommand) flags() uint8 {
	var f uint8
	if c.CreateParentPath {
		f |= subdocFlagCreatePath
	}
	if c.Xattr {
		f |= subdocFlagXattr
	}
	if c.ExpandMacros {
		f |= subdocFlagExpandMacros
	}
	return f
}

// SubdocResult is the per-command outcome of a multi-mutation. Err is nil
// for successful commands; Value is only set for value-returning commands
// such as counters.
type SubdocResult struct {
	Status Status
	Value  []byte
	Err    error
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// NewSubdocMutateRequest creates a multi-mutation frame bundling the given
// commands. Extended-attribute commands are moved to the front of the body
// as the server requires; the returned command slice reflects the body
// order and must be passed unchanged to DecodeSubdocMutateResponse so the
// multi-status response can be demultiplexed back to the callers' slots.
func NewSubdocMutateRequest(key []byte, cas uint64, vbucket uint16, commands []SubdocCommand) (*Packet, []SubdocCommand, error) {
	if len(commands) == 0 {
		return nil, nil, fmt.Errorf("subdoc mutation needs at least one command")
	}
	if len(commands) > 16 {
		return nil, nil, fmt.Errorf("subdoc mutation supports at most 16 commands, got %d", len(commands))
	}

	// Xattr commands first, otherwise stable order
	ordered := make([]SubdocCommand, 0, len(commands))
	for _, c := range commands {
		if c.Xattr {
			ordered = append(ordered, c)
		}
	}
	for _, c := range commands {
		if !c.Xattr {
			ordered = append(ordered, c)
		}
	}

	size := 0
	for i := range ordered {
		size += 8 + len(ordered[i].Path) + len(ordered[i].Value)
	}

	body := make([]byte, size)
	pos := 0
	for i := range ordered {
		c := &ordered[i]
		body[pos] = byte(c.Op)
		body[pos+1] = c.flags()
		binary.BigEndian.PutUint16(body[pos+2:pos+4], uint16(len(c.Path)))
		binary.BigEndian.PutUint32(body[pos+4:pos+8], uint32(len(c.Value)))
		pos += 8
		pos += copy(body[pos:], c.Path)
		pos += copy(body[pos:], c.Value)
	}

	pkt := &Packet{
		Magic:   MagicRequest,
		Opcode:  OpSubdocMultiMutation,
		Vbucket: vbucket,
		Cas:     cas,
		Key:     append([]byte(nil), key...),
		Value:   body,
	}
	return pkt, ordered, nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// DecodeSubdocMutateResponse demultiplexes a multi-status response back to
// the callers' result slots. The response body carries entries of
// {bodyIndex(1) status(2) [valueLen(4) value]}; entries may be omitted for
// commands that succeeded without a value, so every slot starts as success.
// The returned slice is indexed by the commands' OriginalIndex.
func DecodeSubdocMutateResponse(p *Packet, ordered []SubdocCommand, key string) ([]SubdocResult, MutationResult, error) {
	// Frame-level statuses other than success and the per-command multi
	// failure are decoded as usual.
	if p.Status != StatusSuccess && p.Status != StatusSubdocBadMulti {
		if err := DecodeStatus(p.Status, key); err != nil {
			return nil, MutationResult{}, err
		}
	}

	results := make([]SubdocResult, len(ordered))
	for i := range results {
		results[i].Status = StatusSuccess
	}

	body := p.Value
	pos := 0
	for pos < len(body) {
		if pos+3 > len(body) {
			return nil, MutationResult{}, fmt.Errorf("%w: truncated subdoc result entry", common.ErrProtocolDecode)
		}
		bodyIndex := int(body[pos])
		status := Status(binary.BigEndian.Uint16(body[pos+1 : pos+3]))
		pos += 3

		var value []byte
		if status == StatusSuccess {
			// Only value-returning commands carry a payload
			if pos+4 > len(body) {
				return nil, MutationResult{}, fmt.Errorf("%w: truncated subdoc result value length", common.ErrProtocolDecode)
			}
			valueLen := int(binary.BigEndian.Uint32(body[pos : pos+4]))
			pos += 4
			if pos+valueLen > len(body) {
				return nil, MutationResult{}, fmt.Errorf("%w: truncated subdoc result value", common.ErrProtocolDecode)
			}
			value = body[pos : pos+valueLen]
			pos += valueLen
		}

		if bodyIndex < 0 || bodyIndex >= len(ordered) {
			return nil, MutationResult{}, fmt.Errorf("%w: subdoc result index %d out of range", common.ErrProtocolDecode, bodyIndex)
		}

		slot := ordered[bodyIndex].OriginalIndex
		if slot < 0 || slot >= len(results) {
			return nil, MutationResult{}, fmt.Errorf("%w: subdoc original index %d out of range", common.ErrProtocolDecode, slot)
		}
		results[slot] = SubdocResult{
			Status: status,
			Value:  value,
			Err:    DecodeStatus(status, key),
		}
	}

	if p.Status == StatusSubdocBadMulti {
		return results, MutationResult{}, &common.BusinessStatusError{
			Status:     uint16(StatusSubdocBadMulti),
			StatusName: StatusSubdocBadMulti.String(),
			Key:        key,
		}
	}
	return results, MutationResult{Cas: p.Cas}, nil
}
