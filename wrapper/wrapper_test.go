package wrapper

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cybroslabs/libcosem-go/cursor"
)

func TestEncodeDecode(t *testing.T) {
	apdu := []byte{0xc0, 0x01, 0xc1, 0x00, 0x08}
	c := cursor.NewSize(32)
	if err := Encode(c, 0x10, 0x01, apdu); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x10, 0x00, 0x01, 0x00, 0x05, 0xc0, 0x01, 0xc1, 0x00, 0x08}
	if !bytes.Equal(c.Bytes(), want) {
		t.Fatalf("Encode() = %X, want %X", c.Bytes(), want)
	}
	h, got, err := Decode(c.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.Source != 0x10 || h.Destination != 0x01 || !bytes.Equal(got, apdu) {
		t.Errorf("Decode() = %+v %X", h, got)
	}

	h, got, err = ReadPDU(bytes.NewReader(append(bytes.Clone(want), 0xff)), make([]byte, 64))
	if err != nil || h.Length != 5 || !bytes.Equal(got, apdu) {
		t.Errorf("ReadPDU() = %+v %X %v", h, got, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", []byte{0x00, 0x01, 0x00}, ErrLength},
		{"version", []byte{0x00, 0x02, 0x00, 0x10, 0x00, 0x01, 0x00, 0x01, 0xc0}, ErrVersion},
		{"length too big", []byte{0x00, 0x01, 0x00, 0x10, 0x00, 0x01, 0x00, 0x02, 0xc0}, ErrLength},
		{"length too small", []byte{0x00, 0x01, 0x00, 0x10, 0x00, 0x01, 0x00, 0x00, 0xc0}, ErrLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
	if err := Encode(cursor.NewSize(10), 1, 1, []byte{1, 2, 3}); !errors.Is(err, cursor.ErrOverflow) {
		t.Errorf("Encode() into small cursor error = %v, want overflow", err)
	}
}
