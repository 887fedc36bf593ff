package memd

// KeyWithCollectionID prefixes a document key with its collection id in
// unsigned LEB128 encoding, as required once collections are negotiated on
// a connection. Collection id 0 (the default collection) is still encoded
// when collections are enabled.
func KeyWithCollectionID(cid uint32, key []byte) []byte {
	var prefix [5]byte
	n := 0
	for {
		b := byte(cid & 0x7f)
		cid >>= 7
		if cid != 0 {
			b |= 0x80
		}
		prefix[n] = b
		n++
		if cid == 0 {
			break
		}
	}

	out := make([]byte, 0, n+len(key))
	out = append(out, prefix[:n]...)
	return append(out, key...)
}
