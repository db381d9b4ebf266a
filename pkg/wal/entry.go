package wal

import (
	"encoding/binary"
	"io"
)

// Header layout.
const (
	HeaderSize = 24 // fixed header size in bytes, every entry starts with one
	WALVersion = 1  // current on-disk format version

	// WALMagic lets a reader reject garbage (or a torn write that landed
	// mid-header) before it even looks at the rest of the header.
	WALMagic = 0xDEADBEEF
)

// EntryType tags what an entry's payload holds. kvfile only ever commits
// one kind of record, a whole transaction's path writes applied
// atomically, so there is exactly one value today; the field stays a
// distinct byte rather than being folded away so a future entry kind
// (a checkpoint marker written inline, say) doesn't force a layout
// change.
const (
	EntryTxn uint8 = iota + 1 // a committed path-transaction record
)

// WALHeader is the fixed 24-byte prefix written before every entry's
// payload.
type WALHeader struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	EntryType  uint8  // 1 byte
	Reserved   uint16 // 2 bytes (alignment padding)
	LSN        uint64 // 8 bytes (log sequence number)
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes
}

// WALEntry is one full log entry: a header plus its payload bytes.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf, which must be at least
// HeaderSize bytes.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode parses buf (as written by Encode) back into the header.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes the header followed by the payload to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
