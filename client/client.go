// Package client is the COSEM client application layer over any base.Stream: it opens an
// association, runs the high level security passes when the server asks for them, and reads,
// writes and invokes attributes and methods by logical name.
//
// Basic usage:
//
//	transport := tcp.New("192.168.1.100", 4059, 30*time.Second)
//	stream, _ := wrapper.New(transport, 16, 1)
//	c, _ := client.New(stream, client.Settings{Association: association.Settings{Security: sec}})
//	if err := c.Open(); err != nil {
//		return err
//	}
//	defer c.Close()
//	v, err := c.Get(cosem.Descriptor{ClassID: 3, Obis: obis, ID: 2}, nil)
package client

import (
	"errors"
	"fmt"
	"io"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

var (
	ErrInvokeID = errors.New("client: invoke id mismatch")
	ErrBlock    = errors.New("client: block sequence broken")
	ErrTooLong  = errors.New("client: reply exceeds the buffer")
)

const (
	DefaultBufferSize = 0x1000
	maxDataSize       = 0x100000 // reassembled long GET
	maxBlocks         = 0x10000
)

type Settings struct {
	Association association.Settings
	BufferSize  int  // largest apdu received
	LowPriority bool // the priority bit of the invoke id stays clear
	Unconfirmed bool
	// ShowSecuredValues keeps the transport logging while the password travels.
	ShowSecuredValues bool
}

type Client struct {
	transport base.Stream
	assoc     *association.Association
	settings  Settings
	logger    *zap.SugaredLogger
	isopen    bool

	invokebyte byte
	invokeid   byte
	rx         []byte
	tx         *cursor.Cursor
	data       []byte // long GET reassembly
}

func New(transport base.Stream, settings Settings) (*Client, error) {
	if settings.BufferSize == 0 {
		settings.BufferSize = DefaultBufferSize
	}
	if settings.Association.MaxPduRecvSize == 0 {
		settings.Association.MaxPduRecvSize = uint16(min(settings.BufferSize, 0xffff))
	}
	if settings.Association.Conformance == 0 {
		settings.Association.Conformance = base.ConformanceBlockGet | base.ConformanceBlockSet | base.ConformanceBlockAction |
			base.ConformanceBlockSelectiveAccess | base.ConformanceBlockBlockTransferWithGetOrRead
	}
	a, err := association.New(settings.Association, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		transport: transport,
		assoc:     a,
		settings:  settings,
		rx:        make([]byte, settings.BufferSize),
		tx:        cursor.NewSize(settings.BufferSize),
	}
	if !settings.LowPriority {
		c.invokebyte |= 0x80
	}
	if !settings.Unconfirmed {
		c.invokebyte |= 0x40
	}
	return c, nil
}

func (c *Client) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
	c.assoc.SetLogger(logger)
	c.transport.SetLogger(logger)
}

func (c *Client) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Client) dlogf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Debugf(format, v...)
	}
}

// Association exposes the negotiated association, e.g. its handshake.
func (c *Client) Association() *association.Association {
	return c.assoc
}

func (c *Client) nextinvoke() byte {
	id := c.invokebyte | c.invokeid&0x0f
	c.invokeid++
	return id
}

// readout reads one reply apdu, the stream signals its end with io.EOF.
func (c *Client) readout() (*cursor.Cursor, error) {
	total := 0
	for {
		if total == len(c.rx) {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, total)
		}
		n, err := c.transport.Read(c.rx[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return cursor.New(c.rx[:total], total, 0)
			}
			return nil, err
		}
	}
}

// exchange sends what tx holds and returns the reply.
func (c *Client) exchange() (*cursor.Cursor, error) {
	if err := c.transport.Write(c.tx.Bytes()); err != nil {
		return nil, err
	}
	return c.readout()
}

// secured tells whether the AARQ carries a password the log must not show.
func (c *Client) secured() bool {
	return !c.settings.ShowSecuredValues && c.settings.Association.Security.Mechanism == base.AuthenticationLow
}

// Open associates, and authenticates with the passes 3 and 4 when the mechanism is high level.
func (c *Client) Open() error {
	if c.isopen {
		return nil
	}
	if err := c.transport.Open(); err != nil {
		return err
	}
	c.assoc.Stop()
	if err := c.assoc.Start(); err != nil {
		return err
	}
	c.tx.Reset()
	if err := c.assoc.EncodeAARQ(c.tx); err != nil {
		return err
	}
	if c.secured() {
		c.logf("temporarily suppressing logs, the AARQ carries a password")
		c.transport.SetLogger(nil)
	}
	in, err := c.exchange()
	if c.secured() {
		c.transport.SetLogger(c.logger)
	}
	if err != nil {
		return fmt.Errorf("unable to receive AARE: %w", err)
	}
	if err = c.assoc.DecodeAARE(in); err != nil {
		_ = c.transport.Disconnect()
		return err
	}
	c.isopen = true
	if c.assoc.State() == association.StateAssociated {
		return nil
	}
	if err = c.authenticate(); err != nil {
		c.isopen = false
		_ = c.transport.Disconnect()
		return err
	}
	return nil
}

// authenticate sends f(StoC) to reply_to_HLS_authentication and checks the f(CtoS) received.
func (c *Client) authenticate() error {
	proof, err := c.assoc.Proof()
	if err != nil {
		return err
	}
	param := axdr.NewOctetString(proof)
	reply, err := c.Action(cosem.HLSReply, &param)
	if err != nil {
		return fmt.Errorf("%w: pass 3: %w", association.ErrAuthentication, err)
	}
	if reply == nil || reply.Tag != axdr.TagOctetString {
		return fmt.Errorf("%w: no server proof", association.ErrAuthentication)
	}
	b, _ := reply.Value.([]byte)
	return c.assoc.VerifyProof(b)
}

// Close releases the association and closes the transport, the transport is closed whatever the
// release does.
func (c *Client) Close() error {
	if !c.isopen {
		return c.transport.Close()
	}
	c.isopen = false
	c.tx.Reset()
	err := c.assoc.EncodeRLRQ(c.tx)
	if err == nil {
		var in *cursor.Cursor
		if in, err = c.exchange(); err == nil {
			err = c.assoc.DecodeRLRE(in)
		}
	}
	if cerr := c.transport.Close(); err == nil {
		err = cerr
	}
	return err
}

// Disconnect drops the connection without any release.
func (c *Client) Disconnect() error {
	c.isopen = false
	c.assoc.Stop()
	return c.transport.Disconnect()
}

// request sends one request and decodes the response header, the value is left at the read
// position of the returned cursor.
func (c *Client) request(r *cosem.Request, data *axdr.Data) (*cursor.Cursor, *cosem.Response, error) {
	if !c.isopen {
		return nil, nil, base.ErrNotOpened
	}
	c.tx.Reset()
	if err := cosem.EncodeRequest(c.tx, r, data); err != nil {
		return nil, nil, err
	}
	if limit := c.assoc.MaxSendPdu(); c.tx.Written() > limit {
		return nil, nil, fmt.Errorf("request of %d bytes exceeds the server max pdu %d", c.tx.Written(), limit)
	}
	c.dlogf("%s", r)
	in, err := c.exchange()
	if err != nil {
		return nil, nil, err
	}
	resp := &cosem.Response{}
	if err = cosem.DecodeResponse(in, resp); err != nil {
		return nil, nil, err
	}
	if resp.Service != r.Service {
		return nil, nil, fmt.Errorf("%s response to a %s request", resp.Service, r.Service)
	}
	if resp.InvokeID&0x0f != r.InvokeID&0x0f {
		return nil, nil, fmt.Errorf("%w: %02X, expected %02X", ErrInvokeID, resp.InvokeID, r.InvokeID)
	}
	return in, resp, nil
}

// Get reads one attribute, access selects a part of it when not nil. A value sent by block is
// requested block by block until the last one.
func (c *Client) Get(d cosem.Descriptor, access *cosem.Access) (axdr.Data, error) {
	r := cosem.Request{Service: cosem.ServiceGet, Type: cosem.RequestNormal, InvokeID: c.nextinvoke(), Descriptor: d, Access: access}
	in, resp, err := c.request(&r, nil)
	if err != nil {
		return axdr.Data{}, err
	}
	if resp.Type == cosem.ResponseNormal {
		if !resp.HasData {
			return axdr.Data{}, resp.Err()
		}
		return axdr.DecodeData(in)
	}

	c.data = c.data[:0]
	for expect := uint32(1); ; expect++ {
		if err = resp.Err(); err != nil {
			return axdr.Data{}, err
		}
		if resp.Block != expect {
			return axdr.Data{}, fmt.Errorf("%w: block %d, expected %d", ErrBlock, resp.Block, expect)
		}
		if len(c.data)+len(resp.Raw) > maxDataSize {
			return axdr.Data{}, fmt.Errorf("%w: long get over %d bytes", ErrTooLong, maxDataSize)
		}
		c.data = append(c.data, resp.Raw...)
		c.dlogf("block %d, %d bytes", resp.Block, len(resp.Raw))
		if resp.LastBlock {
			break
		}
		if expect >= maxBlocks {
			return axdr.Data{}, fmt.Errorf("%w: more than %d blocks", ErrBlock, maxBlocks)
		}
		next := cosem.Request{Service: cosem.ServiceGet, Type: cosem.RequestNext, InvokeID: r.InvokeID, Block: resp.Block}
		if _, resp, err = c.request(&next, nil); err != nil {
			return axdr.Data{}, err
		}
		if resp.Type != cosem.ResponseWithDataBlock {
			return axdr.Data{}, fmt.Errorf("%w: normal response inside a block transfer", ErrBlock)
		}
	}
	whole, err := cursor.New(c.data, len(c.data), 0)
	if err != nil {
		return axdr.Data{}, err
	}
	return axdr.DecodeData(whole)
}

// GetRange reads the part of a profile buffer whose clock column falls into rg.
func (c *Client) GetRange(profile axdr.Obis, rg *cosem.Range) (axdr.Data, error) {
	return c.Get(cosem.Descriptor{ClassID: 7, Obis: profile, ID: 2}, rg.Access())
}

// Set writes one attribute.
func (c *Client) Set(d cosem.Descriptor, value axdr.Data) error {
	r := cosem.Request{Service: cosem.ServiceSet, Type: cosem.RequestNormal, InvokeID: c.nextinvoke(), Descriptor: d, HasData: true}
	_, resp, err := c.request(&r, &value)
	if err != nil {
		return err
	}
	return resp.Err()
}

// Action invokes a method, params may be nil. The return parameters are nil when the server sends
// none.
func (c *Client) Action(d cosem.Descriptor, params *axdr.Data) (*axdr.Data, error) {
	r := cosem.Request{Service: cosem.ServiceAction, Type: cosem.RequestNormal, InvokeID: c.nextinvoke(), Descriptor: d, HasData: params != nil}
	in, resp, err := c.request(&r, params)
	if err != nil {
		return nil, err
	}
	if err = resp.Err(); err != nil {
		return nil, err
	}
	if !resp.HasData {
		return nil, nil
	}
	v, err := axdr.DecodeData(in)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
