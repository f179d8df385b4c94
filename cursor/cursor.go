// Package cursor implements the bounds-checked byte buffer every codec of the stack reads and writes through.
//
// A Cursor owns a fixed storage slice. Positions are counted from a logical offset, so a caller can
// reserve leading room (security header, response header) and later move the offset back over it
// without copying the bytes already staged behind it. Read and write positions are independent:
//
//	|<- offset ->|<- read ->|<- unread ->|<- free ->|
//	0            o          o+rd         o+wr       cap
//
// Every failing operation leaves the cursor untouched.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrOverflow  = errors.New("cursor: not enough free space")
	ErrUnderflow = errors.New("cursor: not enough unread data")
	ErrIndex     = errors.New("cursor: index out of range")
	ErrOffset    = errors.New("cursor: invalid offset")
)

type Cursor struct {
	buf    []byte
	offset int
	rd     int
	wr     int
}

// New wraps storage. written bytes after offset are considered already staged.
func New(storage []byte, written int, offset int) (*Cursor, error) {
	c := &Cursor{}
	if err := c.Init(storage, written, offset); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSize allocates a fresh storage of the given capacity.
func NewSize(capacity int) *Cursor {
	return &Cursor{buf: make([]byte, capacity)}
}

func (c *Cursor) Init(storage []byte, written int, offset int) error {
	if offset < 0 || offset > len(storage) {
		return fmt.Errorf("%w: %d", ErrOffset, offset)
	}
	if written < 0 || offset+written > len(storage) {
		return fmt.Errorf("%w: written %d", ErrOverflow, written)
	}
	c.buf = storage
	c.offset = offset
	c.rd = 0
	c.wr = written
	return nil
}

// Reset forgets all staged data, the offset is kept.
func (c *Cursor) Reset() {
	c.rd = 0
	c.wr = 0
}

func (c *Cursor) Capacity() int {
	return len(c.buf)
}

func (c *Cursor) Offset() int {
	return c.offset
}

// SetOffset moves the logical origin. Positions keep their values relative to the new origin, so
// the caller is responsible for resetting or restoring them.
func (c *Cursor) SetOffset(offset int) error {
	if offset < 0 || offset+c.wr > len(c.buf) {
		return fmt.Errorf("%w: %d", ErrOffset, offset)
	}
	c.offset = offset
	return nil
}

// Written is the number of bytes between the offset and the write position.
func (c *Cursor) Written() int {
	return c.wr
}

// Unread is the number of bytes between the read and the write position.
func (c *Cursor) Unread() int {
	return c.wr - c.rd
}

// ReadPos is the read position relative to the offset.
func (c *Cursor) ReadPos() int {
	return c.rd
}

func (c *Cursor) Free() int {
	return len(c.buf) - c.offset - c.wr
}

// Bytes returns the written bytes, the slice aliases the storage.
func (c *Cursor) Bytes() []byte {
	return c.buf[c.offset : c.offset+c.wr]
}

// Remaining returns the unread bytes, the slice aliases the storage.
func (c *Cursor) Remaining() []byte {
	return c.buf[c.offset+c.rd : c.offset+c.wr]
}

func (c *Cursor) Get(index int) (byte, error) {
	if index < 0 || index >= c.wr {
		return 0, fmt.Errorf("%w: get %d", ErrIndex, index)
	}
	return c.buf[c.offset+index], nil
}

func (c *Cursor) Set(index int, b byte) error {
	if index < 0 || index >= c.wr {
		return fmt.Errorf("%w: set %d", ErrIndex, index)
	}
	c.buf[c.offset+index] = b
	return nil
}

// Peek returns the next unread byte without consuming it.
func (c *Cursor) Peek() (byte, error) {
	if c.rd >= c.wr {
		return 0, ErrUnderflow
	}
	return c.buf[c.offset+c.rd], nil
}

func (c *Cursor) writable(n int) error {
	if n < 0 || n > c.Free() {
		return ErrOverflow
	}
	return nil
}

func (c *Cursor) readable(n int) error {
	if n < 0 || n > c.wr-c.rd {
		return ErrUnderflow
	}
	return nil
}

func (c *Cursor) WriteU8(v byte) error {
	if err := c.writable(1); err != nil {
		return err
	}
	c.buf[c.offset+c.wr] = v
	c.wr++
	return nil
}

func (c *Cursor) WriteU16(v uint16) error {
	if err := c.writable(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(c.buf[c.offset+c.wr:], v)
	c.wr += 2
	return nil
}

func (c *Cursor) WriteU32(v uint32) error {
	if err := c.writable(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(c.buf[c.offset+c.wr:], v)
	c.wr += 4
	return nil
}

func (c *Cursor) WriteU64(v uint64) error {
	if err := c.writable(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(c.buf[c.offset+c.wr:], v)
	c.wr += 8
	return nil
}

func (c *Cursor) WriteBuffer(src []byte) error {
	if err := c.writable(len(src)); err != nil {
		return err
	}
	copy(c.buf[c.offset+c.wr:], src)
	c.wr += len(src)
	return nil
}

func (c *Cursor) ReadU8() (byte, error) {
	if err := c.readable(1); err != nil {
		return 0, err
	}
	v := c.buf[c.offset+c.rd]
	c.rd++
	return v, nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	if err := c.readable(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.offset+c.rd:])
	c.rd += 2
	return v, nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	if err := c.readable(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.offset+c.rd:])
	c.rd += 4
	return v, nil
}

func (c *Cursor) ReadU64() (uint64, error) {
	if err := c.readable(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.offset+c.rd:])
	c.rd += 8
	return v, nil
}

// ReadBuffer fills dst completely or fails.
func (c *Cursor) ReadBuffer(dst []byte) error {
	if err := c.readable(len(dst)); err != nil {
		return err
	}
	copy(dst, c.buf[c.offset+c.rd:])
	c.rd += len(dst)
	return nil
}

// ReadSlice consumes n bytes and returns them without copying.
func (c *Cursor) ReadSlice(n int) ([]byte, error) {
	if err := c.readable(n); err != nil {
		return nil, err
	}
	s := c.buf[c.offset+c.rd : c.offset+c.rd+n]
	c.rd += n
	return s, nil
}

// AdvanceReader skips n unread bytes.
func (c *Cursor) AdvanceReader(n int) error {
	if err := c.readable(n); err != nil {
		return err
	}
	c.rd += n
	return nil
}

// AdvanceWriter accounts n bytes already present in the storage as written.
func (c *Cursor) AdvanceWriter(n int) error {
	if err := c.writable(n); err != nil {
		return err
	}
	c.wr += n
	return nil
}

// Truncate drops written bytes beyond n.
func (c *Cursor) Truncate(n int) error {
	if n < 0 || n > c.wr {
		return fmt.Errorf("%w: truncate %d", ErrIndex, n)
	}
	c.wr = n
	if c.rd > n {
		c.rd = n
	}
	return nil
}

// Rewind moves the read position back to the offset.
func (c *Cursor) Rewind() {
	c.rd = 0
}

// SeekReader restores a read position obtained from ReadPos.
func (c *Cursor) SeekReader(pos int) error {
	if pos < 0 || pos > c.wr {
		return fmt.Errorf("%w: seek %d", ErrIndex, pos)
	}
	c.rd = pos
	return nil
}

// Window returns an empty cursor sharing the storage, starting skip bytes after the write position.
func (c *Cursor) Window(skip int) (*Cursor, error) {
	if skip < 0 || skip > c.Free() {
		return nil, ErrOverflow
	}
	return &Cursor{buf: c.buf, offset: c.offset + c.wr + skip}, nil
}
