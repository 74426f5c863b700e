package mysqlclient

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brindlecore/reactor/asyncerr"
)

// packetConn implements the framing described in spec §4.4:
// every packet is (3-byte little-endian length, 1-byte sequence id,
// payload); sequence ids reset to 0 at the start of each client-initiated
// command and increment per packet; payloads longer than 2^24-1 bytes are
// split across multiple physical packets sharing one logical payload.
type packetConn struct {
	rw  io.ReadWriter
	seq byte
}

func newPacketConn(rw io.ReadWriter) *packetConn {
	return &packetConn{rw: rw}
}

// resetSeq must be called at the start of each client-initiated command.
func (c *packetConn) resetSeq() { c.seq = 0 }

// readPacket reads one logical payload, reassembling split physical
// packets (each of exactly maxPacketSize bytes except the last).
func (c *packetConn) readPacket() ([]byte, error) {
	var payload []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(c.rw, header[:]); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindTransport, "read packet header", err)
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		seq := header[3]
		if seq != c.seq {
			return nil, asyncerr.New(asyncerr.KindProtocol, fmt.Sprintf("unexpected sequence id: got %d want %d", seq, c.seq))
		}
		c.seq++

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.rw, chunk); err != nil {
				return nil, asyncerr.Wrap(asyncerr.KindTransport, "read packet body", err)
			}
		}
		payload = append(payload, chunk...)
		if length < maxPacketSize {
			return payload, nil
		}
	}
}

// writePacket writes payload, splitting it into maxPacketSize chunks (with
// a trailing zero-length packet when the payload is an exact multiple).
func (c *packetConn) writePacket(payload []byte) error {
	for {
		chunkLen := len(payload)
		if chunkLen > maxPacketSize {
			chunkLen = maxPacketSize
		}
		var header [4]byte
		header[0] = byte(chunkLen)
		header[1] = byte(chunkLen >> 8)
		header[2] = byte(chunkLen >> 16)
		header[3] = c.seq
		c.seq++

		if _, err := c.rw.Write(header[:]); err != nil {
			return asyncerr.Wrap(asyncerr.KindTransport, "write packet header", err)
		}
		if chunkLen > 0 {
			if _, err := c.rw.Write(payload[:chunkLen]); err != nil {
				return asyncerr.Wrap(asyncerr.KindTransport, "write packet body", err)
			}
		}
		payload = payload[chunkLen:]
		if chunkLen < maxPacketSize {
			return nil
		}
	}
}

// --- little-endian integer and string codecs (MySQL "protocol::" types) ---

func readLenencInt(b []byte) (val uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch {
	case b[0] < 0xfb:
		return uint64(b[0]), 1, true
	case b[0] == 0xfc:
		if len(b) < 3 {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, true
	case b[0] == 0xfd:
		if len(b) < 4 {
			return 0, 0, false
		}
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, 4, true
	case b[0] == 0xfe:
		if len(b) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, true
	default: // 0xfb is NULL in a column-value context; caller checks separately
		return 0, 1, true
	}
}

func appendLenencInt(b []byte, v uint64) []byte {
	switch {
	case v < 0xfb:
		return append(b, byte(v))
	case v <= 0xffff:
		b = append(b, 0xfc)
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffff:
		b = append(b, 0xfd)
		return append(b, byte(v), byte(v>>8), byte(v>>16))
	default:
		b = append(b, 0xfe)
		return binary.LittleEndian.AppendUint64(b, v)
	}
}

func readLenencString(b []byte) (s []byte, n int, ok bool) {
	length, ln, ok := readLenencInt(b)
	if !ok || ln+int(length) > len(b) {
		return nil, 0, false
	}
	return b[ln : ln+int(length)], ln + int(length), true
}

func appendLenencString(b []byte, s []byte) []byte {
	b = appendLenencInt(b, uint64(len(s)))
	return append(b, s...)
}

func readNullTerminatedString(b []byte) (s []byte, rest []byte, ok bool) {
	for i, c := range b {
		if c == 0 {
			return b[:i], b[i+1:], true
		}
	}
	return nil, nil, false
}
