package association

import (
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
)

// gmacProofSize is SC || IC || tag
const gmacProofSize = ciphering.SecurityHeaderSize + ciphering.GCMTagLength

// gmacstage lays SC || IC || challenge || tail out in the scratch cursor and hands it to f. The
// challenge is staged at the scratch offset, the offset is then lowered over the security header
// instead of moving the staged bytes. The offset is restored on every path.
func (a *Association) gmacstage(sc byte, ic uint32, challenge []byte, tail []byte, f func(packet []byte) error) (err error) {
	s := a.scratch
	origin := s.Offset()
	if origin < ciphering.SecurityHeaderSize {
		return fmt.Errorf("scratch offset %d leaves no room for a security header", origin)
	}
	s.Reset()
	defer func() {
		s.Reset()
		if e := s.SetOffset(origin); e != nil && err == nil {
			err = e
		}
	}()
	if err = s.WriteBuffer(challenge); err != nil {
		return err
	}
	if err = s.WriteBuffer(tail); err != nil {
		return err
	}
	if err = s.SetOffset(origin - ciphering.SecurityHeaderSize); err != nil {
		return err
	}
	if err = s.AdvanceWriter(ciphering.SecurityHeaderSize); err != nil {
		return err
	}
	b := s.Bytes()
	b[0] = sc
	binary.BigEndian.PutUint32(b[1:ciphering.SecurityHeaderSize], ic)
	return f(b)
}

// respond computes the proof over the challenge received from the peer.
func (a *Association) respond(owntitle, peertitle, peerchallenge, ownchallenge []byte) ([]byte, error) {
	sec := &a.settings.Security
	switch a.mechanism {
	case base.AuthenticationHighGmac:
		ic := a.invocation
		a.invocation++
		var proof []byte
		err := a.gmacstage(ciphering.SecurityAuthentication, ic, peerchallenge, nil, func(packet []byte) error {
			tag, err := a.gmac.Tag(owntitle, packet)
			if err != nil {
				return err
			}
			proof = make([]byte, 0, gmacProofSize)
			proof = append(proof, packet[:ciphering.SecurityHeaderSize]...)
			proof = append(proof, tag...)
			return nil
		})
		return proof, err
	case base.AuthenticationHighSha256:
		return ciphering.Sha256Proof(sec.Secret, owntitle, peertitle, peerchallenge, ownchallenge), nil
	}
	return ciphering.Digest(a.mechanism, peerchallenge, sec.Secret)
}

// verify checks the proof the peer computed over our challenge.
func (a *Association) verify(proof, owntitle, peertitle, ownchallenge, peerchallenge []byte) error {
	sec := &a.settings.Security
	switch a.mechanism {
	case base.AuthenticationHighGmac:
		if len(proof) != gmacProofSize {
			return fmt.Errorf("%w: proof of %d bytes", ciphering.ErrMismatch, len(proof))
		}
		ic := binary.BigEndian.Uint32(proof[1:ciphering.SecurityHeaderSize])
		return a.gmacstage(proof[0], ic, ownchallenge, proof[ciphering.SecurityHeaderSize:], func(packet []byte) error {
			return a.gmac.Check(peertitle, packet)
		})
	case base.AuthenticationHighSha256:
		return ciphering.VerifyDigest(proof, ciphering.Sha256Proof(sec.Secret, peertitle, owntitle, ownchallenge, peerchallenge))
	}
	want, err := ciphering.Digest(a.mechanism, ownchallenge, sec.Secret)
	if err != nil {
		return err
	}
	return ciphering.VerifyDigest(proof, want)
}

// Proof is the client pass 3 value f(StoC), sent as the parameter of reply_to_HLS_authentication.
func (a *Association) Proof() ([]byte, error) {
	if a.state != StateAssociationPending {
		return nil, fmt.Errorf("%w: proof in %s", ErrState, a.state)
	}
	h := &a.handshake
	return a.respond(a.ownTitle, a.peerTitle, h.StoC, h.CtoS)
}

// VerifyProof checks the server pass 4 value f(CtoS) and confirms the association. A mismatch
// drops it back to Idle.
func (a *Association) VerifyProof(proof []byte) error {
	if a.state != StateAssociationPending {
		return fmt.Errorf("%w: proof check in %s", ErrState, a.state)
	}
	h := &a.handshake
	if err := a.verify(proof, a.ownTitle, a.peerTitle, h.CtoS, h.StoC); err != nil {
		_ = a.abandon()
		return fmt.Errorf("%w: server proof: %w", ErrAuthentication, err)
	}
	a.logf("server authenticated with %s", a.mechanism)
	return a.confirm()
}

// Authenticate is the server side of reply_to_HLS_authentication: proof is f(StoC) sent by the client,
// the result is f(CtoS) for the reply. Any failure drops the pending association.
func (a *Association) Authenticate(proof []byte) ([]byte, error) {
	if a.state != StateAssociationPending {
		return nil, fmt.Errorf("%w: authentication in %s", ErrState, a.state)
	}
	h := &a.handshake
	if err := a.verify(proof, a.ownTitle, a.peerTitle, h.StoC, h.CtoS); err != nil {
		_ = a.abandon()
		a.logf("client authentication with %s failed: %v", a.mechanism, err)
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	reply, err := a.respond(a.ownTitle, a.peerTitle, h.CtoS, h.StoC)
	if err != nil {
		_ = a.abandon()
		return nil, err
	}
	a.logf("client authenticated with %s", a.mechanism)
	return reply, a.confirm()
}
