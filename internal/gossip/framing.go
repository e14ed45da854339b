package gossip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame so a hostile or confused peer cannot
// make us allocate without limit.
const maxFrameBytes = 16 << 20

// writeFrame writes a length-prefixed frame: a 4-byte big-endian length
// followed by payload (§4.1 wire framing).
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("gossip: frame of %d bytes exceeds max %d", len(payload), maxFrameBytes)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("gossip: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("gossip: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("gossip: peer announced frame of %d bytes, exceeds max %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("gossip: read frame body: %w", err)
	}
	return buf, nil
}
