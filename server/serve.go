package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/cybroslabs/libcosem-go/cursor"
	"github.com/cybroslabs/libcosem-go/hdlc"
	"github.com/cybroslabs/libcosem-go/llc"
	"github.com/cybroslabs/libcosem-go/wrapper"
)

// closeon closes rw once ctx is done, which unblocks the pending read.
func closeon(ctx context.Context, rw io.ReadWriter) func() bool {
	return context.AfterFunc(ctx, func() {
		if c, ok := rw.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// ended tells a read error caused by the peer or by ctx from a protocol failure.
func ended(ctx context.Context, err error) (bool, error) {
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true, nil
	}
	return false, err
}

// ServeWrapper serves one connection speaking the DLMS wrapper, as on TCP or QUIC. It returns
// when the peer closes, ctx is done or the stream fails.
func (s *Server) ServeWrapper(ctx context.Context, rw io.ReadWriter) error {
	id, err := s.Connect()
	if err != nil {
		return err
	}
	defer s.Disconnect(id)
	defer closeon(ctx, rw)()

	in := make([]byte, wrapper.HeaderSize+s.settings.BufferSize)
	out := cursor.NewSize(wrapper.HeaderSize + s.settings.BufferSize)
	for {
		h, apdu, err := wrapper.ReadPDU(rw, in)
		if err != nil {
			_, err = ended(ctx, err)
			return err
		}
		reply, err := s.Execute(id, h.Source, h.Destination, apdu)
		if err != nil {
			s.logf("%v, no reply", err)
			continue
		}
		out.Reset()
		if err = wrapper.Encode(out, h.Destination, h.Source, reply); err != nil {
			return err
		}
		if _, err = rw.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

// ServeHDLC serves one HDLC line, as on a serial port or a TCP connection to a modem. The link
// answers frame level requests itself, complete information fields are served as apdus.
func (s *Server) ServeHDLC(ctx context.Context, rw io.ReadWriter, settings hdlc.LinkSettings) error {
	if settings.MaxData == 0 {
		settings.MaxData = llc.HeaderSize + s.settings.BufferSize
	}
	link, err := hdlc.NewLink(&settings)
	if err != nil {
		return err
	}
	link.SetLogger(s.logger)
	id, err := s.Connect()
	if err != nil {
		return err
	}
	defer s.Disconnect(id)
	defer closeon(ctx, rw)()

	frame := make([]byte, hdlc.MaxFrameSize)
	out := cursor.NewSize(hdlc.MaxFrameSize)
	reply := cursor.NewSize(llc.HeaderSize + s.settings.BufferSize)
	write := func() error {
		if out.Written() == 0 {
			return nil
		}
		_, err := rw.Write(out.Bytes())
		return err
	}
	for {
		f, err := hdlc.ReadFrame(rw, frame, hdlc.RoleClient)
		if err != nil {
			if done, err := ended(ctx, err); done {
				return err
			}
			if errors.Is(err, hdlc.ErrChecksum) || errors.Is(err, hdlc.ErrControl) || errors.Is(err, hdlc.ErrAddress) {
				s.logf("channel %d: frame dropped: %v", id, err)
				continue
			}
			return err
		}
		out.Reset()
		payload, err := link.Process(&f, out)
		if err != nil {
			s.logf("channel %d: %v", id, err)
		}
		if err = write(); err != nil {
			return err
		}
		if f.Kind == hdlc.KindSetNormalResponseMode || f.Kind == hdlc.KindDisconnect {
			if err = s.Reset(id); err != nil {
				return err
			}
		}
		if payload == nil {
			continue
		}

		apdu, err := llc.Strip(payload)
		if err != nil {
			s.logf("channel %d: %v", id, err)
			continue
		}
		resp, err := s.Execute(id, uint16(link.Client()), settings.Logical, apdu)
		if err != nil {
			s.logf("%v, no reply", err)
			continue
		}
		reply.Reset()
		_ = llc.WriteResponse(reply)
		if err = reply.WriteBuffer(resp); err != nil {
			return err
		}
		out.Reset()
		if err = link.Reply(reply.Bytes(), out); err != nil {
			return err
		}
		if err = write(); err != nil {
			return err
		}
	}
}
