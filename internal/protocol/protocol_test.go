package protocol

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestRPCIDKnownValues(t *testing.T) {
	cases := map[string]uint32{
		RPCServerInfo:         0xF5C1F733,
		RPCLoadMapInfo:        0xDF03BF40,
		RPCRequestMapEntities: 0xD2321EC2,
		RPCConsoleInput:       0x1EE8A523,
	}
	for name, want := range cases {
		if got := RPCID(name); got != want {
			t.Fatalf("RPCID(%q) = 0x%08X, want 0x%08X", name, got, want)
		}
	}
}

func TestRPCIDMatchesDigestPrefix(t *testing.T) {
	for _, name := range Names() {
		sum := md5.Sum([]byte("RPC_" + name))
		want := binary.LittleEndian.Uint32(sum[:4])
		if got := RPCID(name); got != want {
			t.Fatalf("RPCID(%q) = 0x%08X, want 0x%08X", name, got, want)
		}
		if got := RPCID(name); got != RPCID(name) {
			t.Fatalf("RPCID(%q) not deterministic", name)
		}
	}
}

func TestNameOf(t *testing.T) {
	name, ok := NameOf(RPCID(RPCPlugins))
	if !ok || name != RPCPlugins {
		t.Fatalf("NameOf = %q, %v; want %q, true", name, ok, RPCPlugins)
	}
	if _, ok := NameOf(0); ok {
		t.Fatalf("expected id 0 to be unknown")
	}
}

func TestWriterHeaderLayout(t *testing.T) {
	frame := NewRequest(RPCServerInfo).Bytes()
	if len(frame) != HeaderSize {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderSize)
	}
	want := []byte{0, 0, 0, 0, 0x33, 0xF7, 0xC1, 0xF5}
	if !bytes.Equal(frame, want) {
		t.Fatalf("header mismatch: got %x want %x", frame, want)
	}
}

func TestWriterStringEncoding(t *testing.T) {
	got := NewWriter().WriteString("hi").WriteString("").Bytes()
	want := []byte{2, 0, 0, 0, 'h', 'i', 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("string encoding mismatch: got %x want %x", got, want)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	frame := NewRequest(RPCSendPlayerInventory).
		WriteInt32(-42).
		WriteUint32(math.MaxUint32).
		WriteUint64(76561198000000000).
		WriteFloat32(1.5).
		WriteBool(true).
		WriteBool(false).
		WriteUint8(0xAB).
		WriteString("héllo").
		WriteString("").
		Bytes()

	h, r, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if h.Channel != 0 || h.RPCID != RPCID(RPCSendPlayerInventory) {
		t.Fatalf("unexpected header: %+v", h)
	}
	if r.Position() != HeaderSize {
		t.Fatalf("position after header = %d, want %d", r.Position(), HeaderSize)
	}

	i32, err := r.ReadInt32()
	if err != nil || i32 != -42 {
		t.Fatalf("ReadInt32 = %d, %v", i32, err)
	}
	u32, err := r.ReadUint32()
	if err != nil || u32 != math.MaxUint32 {
		t.Fatalf("ReadUint32 = %d, %v", u32, err)
	}
	u64, err := r.ReadUint64()
	if err != nil || u64 != 76561198000000000 {
		t.Fatalf("ReadUint64 = %d, %v", u64, err)
	}
	f, err := r.ReadFloat32()
	if err != nil || f != 1.5 {
		t.Fatalf("ReadFloat32 = %v, %v", f, err)
	}
	b1, _ := r.ReadBool()
	b2, _ := r.ReadBool()
	if !b1 || b2 {
		t.Fatalf("ReadBool = %v, %v; want true, false", b1, b2)
	}
	by, err := r.ReadByte()
	if err != nil || by != 0xAB {
		t.Fatalf("ReadByte = %x, %v", by, err)
	}
	s, err := r.ReadString()
	if err != nil || s != "héllo" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	empty, err := r.ReadString()
	if err != nil || empty != "" {
		t.Fatalf("ReadString (empty) = %q, %v", empty, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", r.Remaining())
	}
}

func TestReaderPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadInt32(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if r.Position() != 0 {
		t.Fatalf("failed read advanced position to %d", r.Position())
	}
}

func TestReaderStringLengthExceedsBuffer(t *testing.T) {
	data := NewWriter().WriteUint32(1 << 30).WriteBytes([]byte("abc")).Bytes()
	_, err := NewReader(data).ReadString()
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestParseHeaderShortFrame(t *testing.T) {
	_, _, err := ParseHeader([]byte{0, 0, 0, 0, 1})
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestPayloadDumpBounded(t *testing.T) {
	w := NewRequest(RPCServerInfo)
	for i := 0; i < 100; i++ {
		w.WriteUint8(0xAB)
	}
	dump := PayloadDump(w.Bytes())
	// 64 bytes as "AB" separated by single spaces
	if len(dump) != DumpLimit*3-1 {
		t.Fatalf("dump length = %d, want %d", len(dump), DumpLimit*3-1)
	}
	if PayloadDump(NewRequest(RPCServerInfo).Bytes()) != "" {
		t.Fatalf("expected empty dump for header-only frame")
	}
}
