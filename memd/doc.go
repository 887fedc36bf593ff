// Package memd implements the memcached binary wire protocol used by the
// key-value data path. It provides the bit-exact 24-byte frame codec plus
// per-operation encode and decode rules.
//
// The package focuses on:
//   - Framing: serializing Packet values into the fixed header layout
//     (magic, opcode, key length, extras length, datatype, vbucket/status,
//     total body length, opaque, cas) followed by extras, key and value
//   - Operation encoding: one constructor per verb (get, set, delete,
//     increment/decrement, get-meta, observe, sub-document multi mutation)
//     building the operation specific extras layout
//   - Response decoding: typed results per verb, with server status codes
//     mapped to the error kinds of the common package
//
// Encoding is pure and allocation-local: no constructor retains references
// into caller-owned buffers beyond the call. Decoding never returns an error
// for a business-logic status; key-not-found on an exists probe is a valid
// outcome, not a protocol failure.
//
// Thread Safety:
//
//	All encode/decode functions are stateless and safe for concurrent use.
package memd
