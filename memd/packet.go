package memd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nkvdb/nkv/common"
)

// --------------------------------------------------------------------------
// Frame layout
// --------------------------------------------------------------------------

// HeaderSize is the fixed size of the binary protocol header
const HeaderSize = 24

// Magic identifies the direction of a frame
type Magic uint8

const (
	// MagicRequest marks a client-to-server frame
	MagicRequest Magic = 0x80
	// MagicResponse marks a server-to-client frame
	MagicResponse Magic = 0x81
)

// Packet is one decoded protocol frame. On request frames Vbucket carries
// the partition id; on response frames the same header field carries the
// Status instead. Opaque correlates a response to its request on a shared
// connection; Cas is the server-assigned optimistic concurrency token
// (0 = don't care).
type Packet struct {
	Magic    Magic
	Opcode   Opcode
	Datatype uint8
	Vbucket  uint16 // request frames only
	Status   Status // response frames only
	Opaque   uint32
	Cas      uint64
	Extras   []byte
	Key      []byte
	Value    []byte
}

// --------------------------------------------------------------------------
// Encode / Decode
// --------------------------------------------------------------------------

// Encode serializes the packet into a freshly allocated buffer using the
// bit-exact header layout. The result shares no memory with the packet.
func (p *Packet) Encode() []byte {
	totalBody := len(p.Extras) + len(p.Key) + len(p.Value)
	buf := make([]byte, HeaderSize+totalBody)

	buf[0] = byte(p.Magic)
	buf[1] = byte(p.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Key)))
	buf[4] = byte(len(p.Extras))
	buf[5] = p.Datatype
	if p.Magic == MagicResponse {
		binary.BigEndian.PutUint16(buf[6:8], uint16(p.Status))
	} else {
		binary.BigEndian.PutUint16(buf[6:8], p.Vbucket)
	}
	binary.BigEndian.PutUint32(buf[8:12], uint32(totalBody))
	binary.BigEndian.PutUint32(buf[12:16], p.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], p.Cas)

	pos := HeaderSize
	pos += copy(buf[pos:], p.Extras)
	pos += copy(buf[pos:], p.Key)
	copy(buf[pos:], p.Value)

	return buf
}

// ReadPacket reads exactly one frame from r. The returned packet owns its
// buffers; the reader can be shared sequentially but not concurrently.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	magic := Magic(header[0])
	if magic != MagicRequest && magic != MagicResponse {
		return nil, fmt.Errorf("%w: bad magic 0x%02x", common.ErrProtocolDecode, header[0])
	}

	keyLen := int(binary.BigEndian.Uint16(header[2:4]))
	extrasLen := int(header[4])
	totalBody := int(binary.BigEndian.Uint32(header[8:12]))

	if extrasLen+keyLen > totalBody {
		return nil, fmt.Errorf("%w: section lengths exceed body (extras=%d key=%d body=%d)",
			common.ErrProtocolDecode, extrasLen, keyLen, totalBody)
	}

	p := &Packet{
		Magic:    magic,
		Opcode:   Opcode(header[1]),
		Datatype: header[5],
		Opaque:   binary.BigEndian.Uint32(header[12:16]),
		Cas:      binary.BigEndian.Uint64(header[16:24]),
	}
	if magic == MagicResponse {
		p.Status = Status(binary.BigEndian.Uint16(header[6:8]))
	} else {
		p.Vbucket = binary.BigEndian.Uint16(header[6:8])
	}

	if totalBody > 0 {
		body := make([]byte, totalBody)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		p.Extras = body[:extrasLen]
		p.Key = body[extrasLen : extrasLen+keyLen]
		p.Value = body[extrasLen+keyLen:]
	}

	return p, nil
}

// DecodePacket parses one frame from an in-memory buffer. Used by tests and
// by transports that frame their own reads.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: frame shorter than header (%d bytes)", common.ErrProtocolDecode, len(data))
	}
	totalBody := int(binary.BigEndian.Uint32(data[8:12]))
	if len(data) != HeaderSize+totalBody {
		return nil, fmt.Errorf("%w: frame length %d does not match header body length %d",
			common.ErrProtocolDecode, len(data), totalBody)
	}
	return ReadPacket(bytes.NewReader(data))
}
