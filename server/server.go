// Package server runs the COSEM server side of every connected channel: it binds each channel to
// one association configuration, routes ACSE APDUs to the association and everything else to the
// service engine.
//
// All channel memory is allocated once by New. A channel owns one arena sliced into its receive,
// transmit and scratch buffers, so serving a request never allocates.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

var (
	ErrNoChannel     = errors.New("server: no free channel")
	ErrChannel       = errors.New("server: unknown channel")
	ErrNoAssociation = errors.New("server: no association for address")
)

const (
	DefaultChannels    = 4
	DefaultBufferSize  = 2048
	DefaultScratchSize = 4096
)

// AssociationConfig is one association the server offers, reached by a client SAP on a logical
// device.
type AssociationConfig struct {
	ClientSAP     uint16
	LogicalDevice uint16
	Settings      association.Settings
}

type Settings struct {
	Associations []AssociationConfig
	Channels     int // concurrent connections, at most 255
	BufferSize   int // receive and transmit apdu size of a channel
	ScratchSize  int // staging room of a long GET
}

// channel is the state of one connection. It is used by one goroutine at a time, mu only guards
// against a misbehaving caller.
type channel struct {
	mu           sync.Mutex
	id           uint8
	used         bool
	rx           *cursor.Cursor
	tx           *cursor.Cursor
	associations []*association.Association
	bound        int // index into associations, -1 until the first apdu
	call         cosem.Call
}

type Server struct {
	db       cosem.Database
	engine   *cosem.Engine
	settings Settings
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	channels []*channel
}

// New validates the settings and allocates every channel.
func New(db cosem.Database, settings Settings) (*Server, error) {
	if db == nil {
		return nil, errors.New("server: no database")
	}
	if len(settings.Associations) == 0 {
		return nil, errors.New("server: no association configured")
	}
	if settings.Channels == 0 {
		settings.Channels = DefaultChannels
	}
	if settings.Channels < 0 || settings.Channels > 255 {
		return nil, fmt.Errorf("server: %d channels, 1 to 255 allowed", settings.Channels)
	}
	if settings.BufferSize == 0 {
		settings.BufferSize = DefaultBufferSize
	}
	if settings.ScratchSize == 0 {
		settings.ScratchSize = DefaultScratchSize
	}
	if settings.BufferSize < 64 || settings.ScratchSize <= ciphering.SecurityHeaderSize {
		return nil, fmt.Errorf("server: buffer %d and scratch %d too small", settings.BufferSize, settings.ScratchSize)
	}
	seen := make(map[[2]uint16]bool)
	for _, c := range settings.Associations {
		k := [2]uint16{c.ClientSAP, c.LogicalDevice}
		if seen[k] {
			return nil, fmt.Errorf("server: client %d on logical device %d configured twice", c.ClientSAP, c.LogicalDevice)
		}
		seen[k] = true
	}

	s := &Server{db: db, engine: cosem.NewEngine(db), settings: settings}
	b := settings.BufferSize
	for i := range settings.Channels {
		arena := make([]byte, 2*b+settings.ScratchSize)
		ch := &channel{id: uint8(i + 1), bound: -1}
		var err error
		if ch.rx, err = cursor.New(arena[:b:b], 0, 0); err != nil {
			return nil, err
		}
		if ch.tx, err = cursor.New(arena[b:2*b:2*b], 0, 0); err != nil {
			return nil, err
		}
		for _, c := range settings.Associations {
			scratch, err := cursor.New(arena[2*b:], 0, ciphering.SecurityHeaderSize)
			if err != nil {
				return nil, err
			}
			a, err := association.New(c.Settings, scratch)
			if err != nil {
				return nil, fmt.Errorf("server: client %d: %w", c.ClientSAP, err)
			}
			ch.associations = append(ch.associations, a)
		}
		s.channels = append(s.channels, ch)
	}
	return s, nil
}

func (s *Server) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
	s.engine.SetLogger(logger)
	for _, ch := range s.channels {
		for _, a := range ch.associations {
			a.SetLogger(logger)
		}
	}
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *Server) dlogf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}

// Connect grants the first free channel, channels are numbered from 1.
func (s *Server) Connect() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.used {
			continue
		}
		ch.used = true
		ch.bound = -1
		for _, a := range ch.associations {
			if err := a.Start(); err != nil {
				return 0, err
			}
		}
		s.logf("channel %d connected", ch.id)
		return ch.id, nil
	}
	return 0, ErrNoChannel
}

// Disconnect frees a channel, whatever was negotiated on it is dropped.
func (s *Server) Disconnect(id uint8) {
	ch, err := s.channel(id)
	if err != nil {
		return
	}
	ch.mu.Lock()
	s.drop(ch)
	ch.mu.Unlock()
	s.mu.Lock()
	ch.used = false
	s.mu.Unlock()
	s.logf("channel %d disconnected", id)
}

// Reset drops the association of a channel that stays connected, as when the link below it is
// reestablished.
func (s *Server) Reset(id uint8) error {
	ch, err := s.channel(id)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	s.drop(ch)
	for _, a := range ch.associations {
		if err = a.Start(); err != nil {
			return err
		}
	}
	return nil
}

type closer interface {
	Close(channel uint8)
}

func (s *Server) drop(ch *channel) {
	for _, a := range ch.associations {
		a.Stop()
	}
	ch.bound = -1
	ch.call = cosem.Call{}
	if c, ok := s.db.(closer); ok {
		c.Close(ch.id)
	}
}

func (s *Server) channel(id uint8) (*channel, error) {
	if id == 0 || int(id) > len(s.channels) {
		return nil, fmt.Errorf("%w: %d", ErrChannel, id)
	}
	ch := s.channels[id-1]
	s.mu.Lock()
	used := ch.used
	s.mu.Unlock()
	if !used {
		return nil, fmt.Errorf("%w: %d not connected", ErrChannel, id)
	}
	return ch, nil
}

// bind selects the association of client on logical. The first apdu of a channel decides, a
// channel never serves two configurations.
func (s *Server) bind(ch *channel, client uint16, logical uint16) (*association.Association, error) {
	for i, c := range s.settings.Associations {
		if c.ClientSAP != client || c.LogicalDevice != logical {
			continue
		}
		if ch.bound >= 0 && ch.bound != i {
			return nil, fmt.Errorf("%w: channel %d already serves client %d", ErrNoAssociation, ch.id, s.settings.Associations[ch.bound].ClientSAP)
		}
		ch.bound = i
		return ch.associations[i], nil
	}
	return nil, fmt.Errorf("%w: client %d, logical device %d", ErrNoAssociation, client, logical)
}

// Execute serves one apdu received on a channel from client for logical device logical. The reply
// stays valid until the next call on the same channel. An error means no reply is sent.
func (s *Server) Execute(id uint8, client uint16, logical uint16, apdu []byte) ([]byte, error) {
	ch, err := s.channel(id)
	if err != nil {
		return nil, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(apdu) == 0 {
		return nil, fmt.Errorf("channel %d: empty apdu", id)
	}
	a, err := s.bind(ch, client, logical)
	if err != nil {
		return nil, err
	}
	ch.rx.Reset()
	ch.tx.Reset()
	if err = ch.rx.WriteBuffer(apdu); err != nil {
		return nil, fmt.Errorf("channel %d: apdu of %d bytes: %w", id, len(apdu), err)
	}

	switch base.CosemTag(apdu[0]) {
	case base.TagAARQ, base.TagRLRQ:
		replaced := apdu[0] == byte(base.TagAARQ) && a.State() != association.StateIdle
		if err = a.Execute(ch.rx, ch.tx); err != nil {
			return nil, fmt.Errorf("channel %d: %w", id, err)
		}
		if replaced || a.State() == association.StateIdle {
			if c, ok := s.db.(closer); ok {
				c.Close(id)
			}
		}
		return ch.tx.Bytes(), nil
	}

	ch.call.Channel = id
	ch.call.Association = a
	switch a.State() {
	case association.StateAssociated:
		err = s.engine.Execute(&ch.call, ch.rx, ch.tx)
	case association.StateAssociationPending:
		err = s.engine.ExecuteAuthentication(&ch.call, ch.rx, ch.tx)
	default:
		s.logf("channel %d: %s received in %s", id, base.CosemTag(apdu[0]), a.State())
		err = cosem.WriteException(ch.tx)
	}
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}
	s.dlogf("channel %d: %d bytes in, %d bytes out", id, len(apdu), ch.tx.Written())
	return ch.tx.Bytes(), nil
}

// State reports the association state of a channel, inactive for a free one.
func (s *Server) State(id uint8) association.State {
	ch, err := s.channel(id)
	if err != nil {
		return association.StateInactive
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.bound < 0 {
		return ch.associations[0].State()
	}
	return ch.associations[ch.bound].State()
}
