package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a read runs past the end of the frame.
var ErrShortBuffer = errors.New("read past end of frame")

// ErrFraming is returned when a message is too short to carry a header.
var ErrFraming = errors.New("malformed frame")

// Reader decodes fields from an inbound frame in declaration order.
// It never panics; every read past the end returns ErrShortBuffer.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data, positioned at offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ParseHeader reads the 8-byte header from data and returns a Reader
// positioned immediately after it.
func ParseHeader(data []byte) (Header, *Reader, error) {
	r := NewReader(data)
	h, err := r.ReadHeader()
	if err != nil {
		return Header{}, nil, err
	}
	return h, r, nil
}

// ReadHeader reads the channel and rpc id.
func (r *Reader) ReadHeader() (Header, error) {
	if r.Remaining() < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrFraming, r.Remaining(), HeaderSize)
	}
	ch, _ := r.ReadInt32()
	id, _ := r.ReadUint32()
	return Header{Channel: ch, RPCID: id}, nil
}

// Position returns the current read offset.
func (r *Reader) Position() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Data returns the full underlying frame.
func (r *Reader) Data() []byte {
	return r.data
}

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("failed to read %s at offset %d (need %d, have %d): %w",
			field, r.pos, n, r.Remaining(), ErrShortBuffer)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a 1-byte boolean; any non-zero value is true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat32 reads a little-endian IEEE-754 float32.
func (r *Reader) ReadFloat32() (float32, error) {
	b, err := r.take(4, "float32")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadString reads a uint32 length followed by that many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	if uint64(n) > uint64(r.Remaining()) {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes: %w", n, r.Remaining(), ErrShortBuffer)
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads exactly n raw bytes. The returned slice is a copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.take(n, "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
