package cosem

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

const (
	normalHeaderSize = 4  // tag, type, invoke id, get data result choice
	blockHeaderSize  = 12 // tag, type, invoke id, last block, block number, raw data choice, length
	stageOffset      = 6  // tag, type, invoke id, result, return parameters flag, data choice
)

// HLSReply is method 1 of the current association object, reply_to_HLS_authentication.
var HLSReply = Descriptor{ClassID: 15, Obis: axdr.Obis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}, ID: 1}

// Database serves the attributes and methods of the object model. It is called once per request,
// and once per loop of a block transfer.
//
// GET writes one encoded value into out. A value sent by block returns StatusNeedBlock; on the
// first call, when call.Phase() is PhaseStart, it sets call.Loops and writes the first loop, the
// following calls write loop call.Loop(). SET finds the value in in, ACTION finds its parameters
// there when call.Request.HasData is set and may write return parameters into out.
type Database interface {
	Access(call *Call, in *cursor.Cursor, out *cursor.Cursor) (Status, error)
}

// Call is the per channel request state handed to the Database.
type Call struct {
	Channel     uint8
	Association *association.Association
	Request     Request
	Loops       int
}

func (c *Call) Phase() association.Phase {
	return c.Association.Transfer().Phase()
}

func (c *Call) Loop() int {
	return c.Association.Transfer().Loop()
}

// Engine is the server service layer. It holds no per channel state and can serve every channel.
type Engine struct {
	db     Database
	logger *zap.SugaredLogger
}

func NewEngine(db Database) *Engine {
	return &Engine{db: db}
}

func (e *Engine) SetLogger(logger *zap.SugaredLogger) {
	e.logger = logger
}

func (e *Engine) logf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Infof(format, v...)
	}
}

func (e *Engine) dlogf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Debugf(format, v...)
	}
}

// Execute serves one request of an associated channel. out always holds a response afterwards,
// every failure is answered with the exception response.
func (e *Engine) Execute(call *Call, in *cursor.Cursor, out *cursor.Cursor) error {
	return e.run(call, in, out, false)
}

// ExecuteAuthentication serves a channel whose association waits for the high level security
// passes: reply_to_HLS_authentication is the only request accepted.
func (e *Engine) ExecuteAuthentication(call *Call, in *cursor.Cursor, out *cursor.Cursor) error {
	return e.run(call, in, out, true)
}

func (e *Engine) run(call *Call, in *cursor.Cursor, out *cursor.Cursor, pending bool) error {
	out.Reset()
	if err := e.execute(call, in, out, pending); err != nil {
		e.logf("channel %d: %v, exception sent", call.Channel, err)
		call.Association.Transfer().Reset()
		call.Association.Scratch().Reset()
		return WriteException(out)
	}
	return nil
}

func (e *Engine) execute(call *Call, in *cursor.Cursor, out *cursor.Cursor, pending bool) error {
	var r Request
	if err := DecodeRequest(in, &r); err != nil {
		return err
	}
	e.dlogf("channel %d: %s", call.Channel, &r)
	if pending && (r.Service != ServiceAction || r.Type != RequestNormal || r.Descriptor != HLSReply) {
		return fmt.Errorf("%s while authentication is pending", &r)
	}
	if r.Type == RequestNext {
		// the descriptor of the long GET stays
		call.Request.Type = r.Type
		call.Request.InvokeID = r.InvokeID
		call.Request.Block = r.Block
		return e.next(call, in, out)
	}
	call.Request = r
	call.Association.Transfer().Reset()
	if r.Service == ServiceGet {
		return e.get(call, in, out)
	}
	return e.modify(call, in, out)
}

func (e *Engine) get(call *Call, in *cursor.Cursor, out *cursor.Cursor) error {
	r := &call.Request
	scratch := call.Association.Scratch()
	scratch.Reset()
	call.Loops = 1
	status, err := e.db.Access(call, in, scratch)
	if err != nil {
		scratch.Reset()
		var ae *AccessError
		if errors.As(err, &ae) {
			e.logf("channel %d: %s refused: %s", call.Channel, r, ae.Result)
			return out.WriteBuffer([]byte{byte(base.TagGetResponse), byte(ResponseNormal), r.InvokeID, 1, byte(ae.Result)})
		}
		return fmt.Errorf("%s: %w", r, err)
	}
	if status == StatusOK && normalHeaderSize+scratch.Written() <= limit(call, out) {
		defer scratch.Reset()
		if err = out.WriteBuffer([]byte{byte(base.TagGetResponse), byte(ResponseNormal), r.InvokeID, 0}); err != nil {
			return err
		}
		return out.WriteBuffer(scratch.Bytes())
	}

	loops := 1
	if status == StatusNeedBlock {
		loops = call.Loops
	}
	tr := call.Association.Transfer()
	if err = tr.Begin(loops); err != nil {
		return err
	}
	e.logf("channel %d: %s sent by block, %d loops", call.Channel, r, tr.Loops())
	return e.block(call, out)
}

// limit is the largest reply, what the peer accepts but never more than the output buffer holds.
func limit(call *Call, out *cursor.Cursor) int {
	return min(call.Association.MaxSendPdu(), out.Free())
}

// next continues a long GET with the block the client acknowledged.
func (e *Engine) next(call *Call, in *cursor.Cursor, out *cursor.Cursor) error {
	r := &call.Request
	tr := call.Association.Transfer()
	scratch := call.Association.Scratch()
	refuse := func(result base.DlmsResultTag) error {
		e.logf("channel %d: %s refused: %s", call.Channel, r, result)
		tr.Reset()
		scratch.Reset()
		return out.WriteBuffer([]byte{byte(base.TagGetResponse), byte(ResponseNormal), r.InvokeID, 1, byte(result)})
	}
	switch tr.Phase() {
	case association.PhaseSending, association.PhaseNextLoop:
	default:
		return refuse(base.TagResultNoLongGetInProgress)
	}
	if r.Block != tr.Block() {
		return refuse(base.TagResultDataBlockNumberInvalid)
	}
	if tr.Phase() == association.PhaseNextLoop {
		scratch.Reset()
		if err := tr.Resume(); err != nil {
			return err
		}
		status, err := e.db.Access(call, in, scratch)
		if err != nil {
			return fmt.Errorf("%s loop %d: %w", r, tr.Loop(), err)
		}
		if status != StatusNeedBlock {
			return fmt.Errorf("%w: database left the transfer in loop %d", ErrBlock, tr.Loop())
		}
	}
	return e.block(call, out)
}

// block sends the next slice of the scratch. The last block is the one that exhausts the
// scratch in the last loop.
func (e *Engine) block(call *Call, out *cursor.Cursor) error {
	tr := call.Association.Transfer()
	scratch := call.Association.Scratch()
	room := limit(call, out) - blockHeaderSize
	if room <= 0 {
		return fmt.Errorf("%w: max pdu %d", ErrBlock, limit(call, out))
	}
	n := min(room, scratch.Unread())
	last := n == scratch.Unread() && tr.LastLoop()
	number, err := tr.Sent()
	if err != nil {
		return err
	}
	var lb byte
	if last {
		lb = 1
	}
	if err = out.WriteBuffer([]byte{byte(base.TagGetResponse), byte(ResponseWithDataBlock), call.Request.InvokeID, lb}); err != nil {
		return err
	}
	if err = out.WriteU32(number); err != nil {
		return err
	}
	if err = out.WriteU8(0); err != nil {
		return err
	}
	if err = axdr.WriteLength(out, n); err != nil {
		return err
	}
	data, err := scratch.ReadSlice(n)
	if err != nil {
		return err
	}
	if err = out.WriteBuffer(data); err != nil {
		return err
	}
	e.dlogf("channel %d: block %d, loop %d of %d, %d bytes", call.Channel, number, tr.Loop()+1, tr.Loops(), n)

	if scratch.Unread() > 0 {
		return nil
	}
	scratch.Reset()
	if last {
		return tr.Finish()
	}
	return tr.Advance()
}

// modify serves SET and ACTION. The database writes the return parameters straight to their final
// place behind the response header, which is filled in afterwards.
func (e *Engine) modify(call *Call, in *cursor.Cursor, out *cursor.Cursor) error {
	r := &call.Request
	staged, err := out.Window(stageOffset)
	if err != nil {
		return err
	}
	status, err := e.db.Access(call, in, staged)
	if err == nil && status != StatusOK {
		err = fmt.Errorf("%w: %s by block", ErrBlock, r.Service)
	}
	result := resultof(err)
	if err != nil {
		e.logf("channel %d: %s failed: %v", call.Channel, r, err)
	}
	if err = out.WriteBuffer([]byte{byte(r.Service.responseTag()), byte(ResponseNormal), r.InvokeID, byte(result)}); err != nil {
		return err
	}
	if r.Service == ServiceSet {
		return nil
	}
	n := staged.Written()
	if n == 0 || result != base.TagResultSuccess {
		return out.WriteU8(0)
	}
	if err = out.WriteBuffer([]byte{1, 0}); err != nil {
		return err
	}
	return out.AdvanceWriter(n)
}
