package ciphering

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/cybroslabs/libcosem-go/base"
)

func decodehex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestDigest(t *testing.T) {
	challenge := []byte("P6wRJ21F")
	secret := decodehex(t, "00112233445566778899AABBCCDDEEFF")
	tests := []struct {
		mech base.Authentication
		want string
	}{
		{base.AuthenticationHighMD5, "B6C3F5A6806F2C207988731BF3F1EC9B"},
		{base.AuthenticationHighSHA1, "CDB1E394522374DC06CEFD667CD1970A712BCC74"},
		{base.AuthenticationHigh, "E76C5E46764971069FB215CB1FF5B8F788B24BDC365484BCC337E48F35322976"},
	}
	for _, tt := range tests {
		t.Run(tt.mech.String(), func(t *testing.T) {
			got, err := Digest(tt.mech, challenge, secret)
			if err != nil {
				t.Fatalf("Digest() error = %v", err)
			}
			if want := decodehex(t, tt.want); !bytes.Equal(got, want) {
				t.Errorf("Digest() = %X, want %X", got, want)
			}
			if len(got) != DigestSize(tt.mech) {
				t.Errorf("DigestSize() = %d, digest has %d bytes", DigestSize(tt.mech), len(got))
			}
			// both ends compute the same proof, a wrong secret never matches
			other, _ := Digest(tt.mech, challenge, secret)
			if err = VerifyDigest(got, other); err != nil {
				t.Errorf("VerifyDigest() error = %v", err)
			}
			wrong, _ := Digest(tt.mech, challenge, []byte("wrong"))
			if err = VerifyDigest(got, wrong); !errors.Is(err, ErrMismatch) {
				t.Errorf("VerifyDigest(wrong secret) error = %v, want ErrMismatch", err)
			}
		})
	}
	if _, err := Digest(base.AuthenticationHighGmac, challenge, secret); err == nil {
		t.Errorf("Digest() accepted GMAC")
	}
	if err := VerifyDigest([]byte{1, 2}, []byte{1, 2, 3}); !errors.Is(err, ErrMismatch) {
		t.Errorf("VerifyDigest(short) error = %v", err)
	}
}

func TestSha256Proof(t *testing.T) {
	got := Sha256Proof([]byte("secret"), []byte("AAAAAAAA"), []byte("BBBBBBBB"), []byte("stocstoc"), []byte("ctosctos"))
	if want := decodehex(t, "5C6BF8A7589E6F7F104AE3E99F3592099C95BFA9E4989BBA89C717B4BD3B7595"); !bytes.Equal(got, want) {
		t.Errorf("Sha256Proof() = %X, want %X", got, want)
	}
}

func TestGmac(t *testing.T) {
	ek := decodehex(t, "000102030405060708090A0B0C0D0E0F")
	ak := decodehex(t, "D0D1D2D3D4D5D6D7D8D9DADBDCDDDEDF")
	systitle := decodehex(t, "4D4D4D0000BC614E")
	g, err := NewGmac(ek, ak)
	if err != nil {
		t.Fatal(err)
	}
	packet := append(decodehex(t, "1001234567"), []byte("K56iVagY")...)
	tag, err := g.Tag(systitle, packet)
	if err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if want := decodehex(t, "FE1466AFB3DBCD4F9389E2B7"); !bytes.Equal(tag, want) {
		t.Errorf("Tag() = %X, want %X", tag, want)
	}
	if err = g.Check(systitle, append(bytes.Clone(packet), tag...)); err != nil {
		t.Errorf("Check() error = %v", err)
	}
	bad := append(bytes.Clone(packet), tag...)
	bad[len(bad)-1] ^= 1
	if err = g.Check(systitle, bad); !errors.Is(err, ErrMismatch) {
		t.Errorf("Check(corrupted) error = %v, want ErrMismatch", err)
	}
	if err = g.Check(systitle[:4], append(bytes.Clone(packet), tag...)); err == nil {
		t.Errorf("Check() accepted a short systitle")
	}
	if _, err = g.Tag(systitle, append([]byte{0x20}, packet[1:]...)); err == nil {
		t.Errorf("Tag() accepted an encryption only control byte")
	}
}

func TestSettingsValidate(t *testing.T) {
	key := make([]byte, 16)
	tests := []struct {
		name  string
		s     Settings
		valid bool
	}{
		{"none", Settings{Mechanism: base.AuthenticationNone}, true},
		{"low", Settings{Mechanism: base.AuthenticationLow, Secret: []byte("12345678")}, true},
		{"low without password", Settings{Mechanism: base.AuthenticationLow}, false},
		{"md5", Settings{Mechanism: base.AuthenticationHighMD5, Secret: key}, true},
		{"gmac", Settings{Mechanism: base.AuthenticationHighGmac, EncryptionKey: key, AuthenticationKey: key, SystemTitle: key[:8]}, true},
		{"gmac bad key", Settings{Mechanism: base.AuthenticationHighGmac, EncryptionKey: key[:15], AuthenticationKey: key, SystemTitle: key[:8]}, false},
		{"sha256 without title", Settings{Mechanism: base.AuthenticationHighSha256, Secret: key}, false},
		{"unknown", Settings{Mechanism: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() error = %v, want valid %v", err, tt.valid)
			}
		})
	}
}

func TestChallenge(t *testing.T) {
	a, err := Challenge(16)
	if err != nil || len(a) != 16 {
		t.Fatalf("Challenge(16) = %X, %v", a, err)
	}
	b, _ := Challenge(16)
	if bytes.Equal(a, b) {
		t.Errorf("two challenges are equal")
	}
	if _, err = Challenge(4); err == nil {
		t.Errorf("Challenge(4) accepted")
	}
}
