// Package bits provides a big-endian bit reader for the fixed-layout
// binary structures in transport sections and H.264 headers.
package bits

import "errors"

// ErrOutOfBounds is returned once a read runs past the end of the data;
// subsequent reads keep returning it.
var ErrOutOfBounds = errors.New("bits: read past end of data")

// Reader consumes a byte slice bit by bit, MSB first.
type Reader struct {
	data []byte
	base int
	off  int
	err  error
}

// NewReader wraps data in a Reader.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the sticky error, if any read went out of bounds.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return (len(r.data)-r.base)*8 - r.off
}

// SkipBytes advances the reader by n whole bytes.
func (r *Reader) SkipBytes(n int) {
	r.SkipBits(n * 8)
}

// SkipBits advances the reader by n bits.
func (r *Reader) SkipBits(n int) {
	if r.err != nil {
		return
	}
	if n > r.Remaining() {
		r.err = ErrOutOfBounds
		return
	}
	r.off += n
	r.base += r.off / 8
	r.off %= 8
}

// ReadBits reads n bits (n ≤ 32) as an unsigned value.
func (r *Reader) ReadBits(n int) uint32 {
	return uint32(r.ReadBits64(n))
}

// ReadBits64 reads n bits (n ≤ 64) as an unsigned value.
func (r *Reader) ReadBits64(n int) uint64 {
	if r.err != nil {
		return 0
	}
	if n > r.Remaining() {
		r.err = ErrOutOfBounds
		return 0
	}
	var v uint64
	for n > 0 {
		bitsLeft := 8 - r.off
		take := n
		if take > bitsLeft {
			take = bitsLeft
		}
		shift := uint(bitsLeft - take)
		mask := byte(1<<uint(take)) - 1
		v = v<<uint(take) | uint64((r.data[r.base]>>shift)&mask)
		r.off += take
		if r.off == 8 {
			r.off = 0
			r.base++
		}
		n -= take
	}
	return v
}

// ReadFlag reads a single bit as a bool.
func (r *Reader) ReadFlag() bool {
	return r.ReadBits(1) == 1
}

// ReadUE reads an Exp-Golomb coded unsigned value (H.264 ue(v)).
func (r *Reader) ReadUE() uint32 {
	var zeros int
	for r.err == nil && r.ReadBits(1) == 0 {
		zeros++
		if zeros > 32 {
			r.err = ErrOutOfBounds
			return 0
		}
	}
	if r.err != nil {
		return 0
	}
	if zeros == 0 {
		return 0
	}
	return uint32(1<<uint(zeros)-1) + r.ReadBits(zeros)
}

// ReadSE reads an Exp-Golomb coded signed value (H.264 se(v)).
func (r *Reader) ReadSE() int32 {
	ue := r.ReadUE()
	if ue%2 == 0 {
		return -int32(ue / 2)
	}
	return int32(ue+1) / 2
}
