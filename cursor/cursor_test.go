package cursor

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteRead(t *testing.T) {
	c := NewSize(16)
	if err := c.WriteU8(0x01); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteU16(0x0203); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteU32(0x04050607); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteU64(0x08090a0b0c0d0e0f); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if !bytes.Equal(c.Bytes(), want) {
		t.Errorf("Bytes() = %x, want %x", c.Bytes(), want)
	}
	if c.Free() != 1 {
		t.Errorf("Free() = %d, want 1", c.Free())
	}

	u8, _ := c.ReadU8()
	u16, _ := c.ReadU16()
	u32, _ := c.ReadU32()
	u64, err := c.ReadU64()
	if err != nil {
		t.Fatal(err)
	}
	if u8 != 1 || u16 != 0x0203 || u32 != 0x04050607 || u64 != 0x08090a0b0c0d0e0f {
		t.Errorf("read back %x %x %x %x", u8, u16, u32, u64)
	}
	if c.Unread() != 0 {
		t.Errorf("Unread() = %d, want 0", c.Unread())
	}
}

func TestBoundsDoNotMutate(t *testing.T) {
	tests := []struct {
		name string
		op   func(c *Cursor) error
		want error
	}{
		{"write u32 into 3 bytes", func(c *Cursor) error { return c.WriteU32(1) }, ErrOverflow},
		{"write buffer too long", func(c *Cursor) error { return c.WriteBuffer([]byte{1, 2, 3, 4}) }, ErrOverflow},
		{"advance writer too far", func(c *Cursor) error { return c.AdvanceWriter(4) }, ErrOverflow},
		{"read u16 from 1 byte", func(c *Cursor) error { _, err := c.ReadU16(); return err }, ErrUnderflow},
		{"read buffer too long", func(c *Cursor) error { return c.ReadBuffer(make([]byte, 2)) }, ErrUnderflow},
		{"advance reader too far", func(c *Cursor) error { return c.AdvanceReader(2) }, ErrUnderflow},
		{"get beyond written", func(c *Cursor) error { _, err := c.Get(1); return err }, ErrIndex},
		{"set beyond written", func(c *Cursor) error { return c.Set(1, 0) }, ErrIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := make([]byte, 6)
			c, err := New(storage, 0, 2)
			if err != nil {
				t.Fatal(err)
			}
			_ = c.WriteU8(0xaa)
			err = tt.op(c)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if c.Written() != 1 || c.Unread() != 1 || c.Free() != 3 {
				t.Errorf("state changed: written %d unread %d free %d", c.Written(), c.Unread(), c.Free())
			}
			if !bytes.Equal(storage, []byte{0, 0, 0xaa, 0, 0, 0}) {
				t.Errorf("storage = %x", storage)
			}
		})
	}
}

func TestOffsetIsLogicalOrigin(t *testing.T) {
	storage := []byte{9, 9, 9, 1, 2, 3, 0, 0}
	c, err := New(storage, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Get(0)
	if err != nil || b != 1 {
		t.Errorf("Get(0) = %d, %v, want 1", b, err)
	}
	if err := c.Set(2, 7); err != nil {
		t.Fatal(err)
	}
	if storage[5] != 7 {
		t.Errorf("Set(2) wrote storage[5] = %d", storage[5])
	}
	if c.Written() != 3 || c.Free() != 2 {
		t.Errorf("Written() = %d, Free() = %d", c.Written(), c.Free())
	}

	// shrink the offset to prepend a header in front of staged data
	c.Reset()
	if err := c.SetOffset(1); err != nil {
		t.Fatal(err)
	}
	_ = c.WriteU16(0xbeef)
	if err := c.AdvanceWriter(3); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c.Bytes(), []byte{0xbe, 0xef, 1, 2, 7}) {
		t.Errorf("Bytes() = %x", c.Bytes())
	}
	if err := c.SetOffset(7); !errors.Is(err, ErrOffset) {
		t.Errorf("SetOffset(7) = %v, want ErrOffset", err)
	}
}

func TestInitRejectsBadGeometry(t *testing.T) {
	if _, err := New(make([]byte, 4), 0, 5); !errors.Is(err, ErrOffset) {
		t.Errorf("offset past storage: %v", err)
	}
	if _, err := New(make([]byte, 4), 3, 2); !errors.Is(err, ErrOverflow) {
		t.Errorf("written past storage: %v", err)
	}
}

func TestWindowAndTruncate(t *testing.T) {
	c := NewSize(10)
	_ = c.WriteBuffer([]byte{1, 2})
	w, err := c.Window(3)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.WriteBuffer([]byte{5, 6})
	if w.Offset() != 5 {
		t.Errorf("window offset = %d, want 5", w.Offset())
	}
	if err := c.AdvanceWriter(5); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c.Bytes(), []byte{1, 2, 0, 0, 0, 5, 6}) {
		t.Errorf("Bytes() = %x", c.Bytes())
	}
	_, _ = c.ReadSlice(6)
	if err := c.Truncate(4); err != nil {
		t.Fatal(err)
	}
	if c.Unread() != 0 || c.Written() != 4 {
		t.Errorf("after truncate unread %d written %d", c.Unread(), c.Written())
	}
}

func TestSeekReader(t *testing.T) {
	c := NewSize(4)
	_ = c.WriteBuffer([]byte{1, 2, 3})
	pos := c.ReadPos()
	_, _ = c.ReadU16()
	if err := c.SeekReader(pos); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.ReadU8(); v != 1 {
		t.Errorf("ReadU8() after seek = %d, want 1", v)
	}
	if err := c.SeekReader(4); !errors.Is(err, ErrIndex) {
		t.Errorf("SeekReader(4) error = %v, want ErrIndex", err)
	}
}
