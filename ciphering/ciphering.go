// Package ciphering computes the high level security proofs exchanged in
// association passes 3 and 4: challenge digests and the GMAC authentication tag.
package ciphering

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"slices"

	"github.com/cybroslabs/libcosem-go/base"
)

const (
	GCMTagLength       = 12
	SystemTitleLength  = 8
	SecurityHeaderSize = 5 // control byte and invocation counter

	MinChallengeLength = 8
	MaxChallengeLength = 64

	// SecurityAuthentication is the control byte of an authenticated only packet, suite 0.
	SecurityAuthentication = byte(base.SecurityAuthentication)
)

var ErrMismatch = errors.New("ciphering: authentication proof mismatch")

type Settings struct {
	Mechanism         base.Authentication
	Secret            []byte // LLS password or HLS secret
	EncryptionKey     []byte // GMAC only
	AuthenticationKey []byte // GMAC only
	SystemTitle       []byte // own title, GMAC and SHA-256 only
}

func (s *Settings) Validate() error {
	switch s.Mechanism {
	case base.AuthenticationNone:
		return nil
	case base.AuthenticationLow:
		if len(s.Secret) == 0 || len(s.Secret) > MaxChallengeLength {
			return fmt.Errorf("password has to be 1 to %d bytes long", MaxChallengeLength)
		}
		return nil
	case base.AuthenticationHigh, base.AuthenticationHighMD5, base.AuthenticationHighSHA1:
		if len(s.Secret) == 0 {
			return fmt.Errorf("authentication mechanism %v requires a secret", s.Mechanism)
		}
		return nil
	case base.AuthenticationHighSha256:
		if len(s.Secret) == 0 {
			return fmt.Errorf("authentication mechanism %v requires a secret", s.Mechanism)
		}
		if len(s.SystemTitle) != SystemTitleLength {
			return fmt.Errorf("systitle has to be %d bytes long", SystemTitleLength)
		}
		return nil
	case base.AuthenticationHighGmac:
		switch len(s.EncryptionKey) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("EK has to be 16, 24 or 32 bytes long")
		}
		switch len(s.AuthenticationKey) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("AK has to be 16, 24 or 32 bytes long")
		}
		if len(s.SystemTitle) != SystemTitleLength {
			return fmt.Errorf("systitle has to be %d bytes long", SystemTitleLength)
		}
		return nil
	}
	return fmt.Errorf("invalid authentication mechanism: %v", s.Mechanism)
}

// Challenge returns n random bytes.
func Challenge(n int) ([]byte, error) {
	if n < MinChallengeLength || n > MaxChallengeLength {
		return nil, fmt.Errorf("challenge has to be %d to %d bytes long", MinChallengeLength, MaxChallengeLength)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DigestSize is the proof size of a digest based mechanism.
func DigestSize(mech base.Authentication) int {
	switch mech {
	case base.AuthenticationHighMD5:
		return md5.Size
	case base.AuthenticationHighSHA1:
		return sha1.Size
	case base.AuthenticationHigh, base.AuthenticationHighSha256:
		return sha256.Size
	case base.AuthenticationHighGmac:
		return SecurityHeaderSize + GCMTagLength
	}
	return 0
}

// Digest computes f(challenge) = H(challenge || secret). The manufacturer
// specific level uses SHA-256.
func Digest(mech base.Authentication, challenge []byte, secret []byte) ([]byte, error) {
	var h hash.Hash
	switch mech {
	case base.AuthenticationHighMD5:
		h = md5.New()
	case base.AuthenticationHighSHA1:
		h = sha1.New()
	case base.AuthenticationHigh:
		h = sha256.New()
	default:
		return nil, fmt.Errorf("no digest for authentication mechanism %v", mech)
	}
	h.Write(challenge)
	h.Write(secret)
	return h.Sum(nil), nil
}

// Sha256Proof computes the mechanism 6 proof SHA-256(secret || own title || peer title || peer challenge || own challenge).
func Sha256Proof(secret, owntitle, peertitle, peerchallenge, ownchallenge []byte) []byte {
	h := sha256.New()
	h.Write(secret)
	h.Write(owntitle)
	h.Write(peertitle)
	h.Write(peerchallenge)
	h.Write(ownchallenge)
	return h.Sum(nil)
}

// VerifyDigest compares a received proof with the expected one in constant time.
func VerifyDigest(got []byte, want []byte) error {
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

// Gmac produces and checks authentication only packets, security suite 0:
// IV = system title || IC, AAD = SC || AK || information, empty plaintext.
type Gmac struct {
	aead cipher.AEAD
	ak   []byte
	iv   [12]byte
}

func NewGmac(ek []byte, ak []byte) (*Gmac, error) {
	cr, err := aes.NewCipher(ek)
	if err != nil {
		return nil, err
	}
	enc, err := cipher.NewGCMWithTagSize(cr, GCMTagLength)
	if err != nil {
		return nil, err
	}
	return &Gmac{aead: enc, ak: slices.Clone(ak)}, nil
}

func (g *Gmac) prepare(systitle []byte, packet []byte) ([]byte, error) {
	if len(systitle) != SystemTitleLength {
		return nil, fmt.Errorf("systitle has to be %d bytes long", SystemTitleLength)
	}
	if len(packet) < SecurityHeaderSize || packet[0]&0x30 != SecurityAuthentication {
		return nil, fmt.Errorf("unsupported security header")
	}
	copy(g.iv[:], systitle)
	copy(g.iv[8:], packet[1:SecurityHeaderSize])
	var aad bytes.Buffer
	aad.Grow(1 + len(g.ak) + len(packet) - SecurityHeaderSize)
	aad.WriteByte(packet[0])
	aad.Write(g.ak)
	aad.Write(packet[SecurityHeaderSize:])
	return aad.Bytes(), nil
}

// Tag computes the tag of a packet laid out as SC || IC || information.
func (g *Gmac) Tag(systitle []byte, packet []byte) ([]byte, error) {
	aad, err := g.prepare(systitle, packet)
	if err != nil {
		return nil, err
	}
	return g.aead.Seal(nil, g.iv[:], nil, aad), nil
}

// Check verifies a packet laid out as SC || IC || information || tag.
func (g *Gmac) Check(systitle []byte, packet []byte) error {
	if len(packet) < SecurityHeaderSize+GCMTagLength {
		return fmt.Errorf("%w: packet too short", ErrMismatch)
	}
	n := len(packet) - GCMTagLength
	aad, err := g.prepare(systitle, packet[:n])
	if err != nil {
		return err
	}
	if _, err = g.aead.Open(nil, g.iv[:], packet[n:], aad); err != nil {
		return fmt.Errorf("%w: %w", ErrMismatch, err)
	}
	return nil
}
