package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer constructs outbound bridge frames.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates an empty Writer. Call WriteRPCHeader before any field.
func NewWriter() *Writer {
	return &Writer{}
}

// NewRequest creates a Writer with the header for the named operation
// already written.
func NewRequest(name string) *Writer {
	return NewWriter().WriteRPCHeader(name)
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}

// WriteRPCHeader writes the channel (always 0) and the operation's id.
func (w *Writer) WriteRPCHeader(name string) *Writer {
	return w.WriteHeader(RPCID(name))
}

// WriteHeader writes the channel (always 0) and a raw rpc id.
func (w *Writer) WriteHeader(id uint32) *Writer {
	w.WriteInt32(DefaultChannel)
	w.WriteUint32(id)
	return w
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v byte) *Writer {
	w.buf.WriteByte(v)
	return w
}

// WriteBool writes a 1-byte boolean (0 or 1).
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

// WriteInt32 writes an int32 in little-endian order.
func (w *Writer) WriteInt32(v int32) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint32 writes a uint32 in little-endian order.
func (w *Writer) WriteUint32(v uint32) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint64 writes a uint64 in little-endian order.
func (w *Writer) WriteUint64(v uint64) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteFloat32 writes an IEEE-754 float32 in little-endian order.
func (w *Writer) WriteFloat32(v float32) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteString writes a length-prefixed UTF-8 string.
// Format: [length:4][string bytes...]
func (w *Writer) WriteString(s string) *Writer {
	w.WriteUint32(uint32(len(s)))
	w.buf.WriteString(s)
	return w
}

// WriteBytes writes raw bytes with no prefix.
func (w *Writer) WriteBytes(data []byte) *Writer {
	w.buf.Write(data)
	return w
}

// Bytes returns the constructed frame.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the current size of the frame being built.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (w *Writer) String() string {
	data := w.buf.Bytes()
	return fmt.Sprintf("Writer[%d bytes]: %x", len(data), data)
}
