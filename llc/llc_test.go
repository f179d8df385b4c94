package llc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cybroslabs/libcosem-go/cursor"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []byte
		wantErr bool
	}{
		{"request", []byte{0xe6, 0xe6, 0x00, 0x60, 0x1d}, []byte{0x60, 0x1d}, false},
		{"response", []byte{0xe6, 0xe7, 0x00, 0x61}, []byte{0x61}, false},
		{"header only", []byte{0xe6, 0xe7, 0x00}, []byte{}, false},
		{"short", []byte{0xe6, 0xe7}, nil, true},
		{"bad dsap", []byte{0xe7, 0xe7, 0x00, 0x61}, nil, true},
		{"bad quality", []byte{0xe6, 0xe6, 0x01, 0x61}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Strip(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrHeader) {
					t.Errorf("Strip() error = %v, want ErrHeader", err)
				}
				return
			}
			if err != nil || !bytes.Equal(got, tt.want) {
				t.Errorf("Strip() = %X, %v, want %X", got, err, tt.want)
			}
		})
	}
}

func TestWriteHeaders(t *testing.T) {
	c := cursor.NewSize(6)
	if err := WriteRequest(c); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}
	if err := WriteResponse(c); err != nil {
		t.Fatalf("WriteResponse() error = %v", err)
	}
	if want := []byte{0xe6, 0xe6, 0x00, 0xe6, 0xe7, 0x00}; !bytes.Equal(c.Bytes(), want) {
		t.Errorf("headers = %X, want %X", c.Bytes(), want)
	}
	if err := WriteResponse(c); err == nil {
		t.Errorf("WriteResponse() on full cursor succeeded")
	}
}
