package transmit

// Split cuts payload into consecutive chunks of at most size bytes. A payload
// of k*size+r bytes yields k+1 chunks, or k when r is 0. The chunks alias
// payload.
func Split(payload []byte, size int) [][]byte {
	if len(payload) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > size {
		chunks = append(chunks, payload[:size:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}
