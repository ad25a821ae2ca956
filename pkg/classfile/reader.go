package classfile

import (
	"encoding/binary"
	"io"
)

// reader wraps an io.Reader and latches the first error, so a sequence of
// reads can be checked once.
type reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (r *reader) fill(n int) []byte {
	if r.err != nil {
		return r.buf[:n]
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.err = err
	}
	return r.buf[:n]
}

func (r *reader) u1() uint8 {
	return r.fill(1)[0]
}

func (r *reader) u2() uint16 {
	return binary.BigEndian.Uint16(r.fill(2))
}

func (r *reader) u4() uint32 {
	return binary.BigEndian.Uint32(r.fill(4))
}

func (r *reader) u8() uint64 {
	return binary.BigEndian.Uint64(r.fill(8))
}

func (r *reader) bytes(n int) []byte {
	b := make([]byte, n)
	if r.err != nil {
		return b
	}
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
	}
	return b
}
