package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/client"
	"github.com/cybroslabs/libcosem-go/config"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/hdlc"
	"github.com/cybroslabs/libcosem-go/llc"
	"github.com/cybroslabs/libcosem-go/modem"
	"github.com/cybroslabs/libcosem-go/quic"
	"github.com/cybroslabs/libcosem-go/serial"
	"github.com/cybroslabs/libcosem-go/tcp"
	"github.com/cybroslabs/libcosem-go/wrapper"
	"go.uber.org/zap"
)

// reader runs the object list against every meter of the session.
type reader struct {
	logger  *zap.SugaredLogger
	session config.SessionFile
	objects config.ObjectsFile
	comm    config.CommFile
	start   *time.Time
	end     *time.Time
	printer axdr.Printer
}

// transport opens the physical link described by the comm file.
func (r *reader) transport() (base.Stream, error) {
	t := &r.session.Session.Timeouts
	dial := t.DialTimeout()
	c := &r.comm
	var s base.Stream
	var line base.SerialStream
	switch c.Transport {
	case "serial":
		p, err := serial.New(c.Serial.Port, base.SerialStreamSettings{BaudRate: *c.Serial.BaudRate}, t.RequestTimeout())
		if err != nil {
			return nil, err
		}
		s, line = p, p
	case "tcp":
		s = tcp.New(c.TCP.Host, *c.TCP.Port, t.ConnectTimeout())
	case "gateway":
		line = serial.NewGateway(tcp.New(c.TCP.Host, *c.TCP.Port, t.ConnectTimeout()))
		s = line
	case "quic":
		conf := &tls.Config{NextProtos: []string{quic.NextProto}}
		if c.QUIC.Insecure {
			conf = quic.Insecure()
		}
		s = quic.New(c.QUIC.Address, conf, t.ConnectTimeout())
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
	if md := &r.session.Session.Modem; md.Enable {
		if line == nil {
			return nil, fmt.Errorf("no modem on a %s transport", c.Transport)
		}
		ms := modem.DefaultSettings()
		if md.Init != "" {
			ms = ms.WithInit(md.Init)
		}
		ms.DialTimeout = dial
		s = modem.New(line, md.Phone, ms, t.RequestTimeout())
	}
	s.SetLogger(r.logger)
	if err := s.Open(); err != nil {
		return nil, err
	}
	s.SetTimeout(t.RequestTimeout())
	return s, nil
}

// stack puts the addressing layer of a meter above the physical link.
func stack(raw base.Stream, m *config.Meter) (base.Stream, error) {
	c := &m.Cosem
	if m.Transport == "wrapper" {
		return wrapper.New(raw, uint16(*c.Client), uint16(*c.LogicalDevice))
	}
	mac, err := hdlc.New(raw, &hdlc.Settings{
		Client:   byte(*c.Client),
		Logical:  uint16(*c.LogicalDevice),
		Physical: uint16(*m.HDLC.PhysicalAddress),
		Size:     *m.HDLC.AddressSize,
	})
	if err != nil {
		return nil, err
	}
	return llc.New(mac), nil
}

func (r *reader) run() []result {
	var results []result
	for i := range r.session.Meters {
		m := &r.session.Meters[i]
		results = append(results, r.meter(m)...)
	}
	return results
}

// meter reads the object list from one meter, every object gives one result.
func (r *reader) meter(m *config.Meter) []result {
	subject := "meter " + m.ID
	raw, err := r.transport()
	if err != nil {
		return []result{failure(subject, err)}
	}
	defer raw.Disconnect()

	sec, err := m.Cosem.Ciphering()
	if err != nil {
		return []result{failure(subject, err)}
	}
	s, err := stack(raw, m)
	if err != nil {
		return []result{failure(subject, err)}
	}
	c, err := client.New(s, client.Settings{
		Association: association.Settings{
			Security:       sec,
			MaxPduRecvSize: uint16(*m.Cosem.MaxPdu),
			EmptyRLRQ:      *m.Cosem.EmptyRLRQ,
		},
		BufferSize: max(*m.Cosem.MaxPdu, client.DefaultBufferSize),
	})
	if err != nil {
		return []result{failure(subject, err)}
	}
	c.SetLogger(r.logger)

	retries := *r.session.Session.Retries
	for attempt := 0; ; attempt++ {
		if err = c.Open(); err == nil {
			break
		}
		r.logger.Warnf("%s: association attempt %d failed: %v", subject, attempt+1, err)
		if attempt >= retries {
			return []result{failure(subject, err)}
		}
	}
	r.logger.Infof("%s: associated", subject)

	results := []result{{subject: subject, success: true}}
	for i := range r.objects.Objects {
		o := &r.objects.Objects[i]
		results = append(results, r.object(c, m, o))
	}
	if err = c.Close(); err != nil {
		r.logger.Warnf("%s: release failed: %v", subject, err)
	}
	return results
}

func (r *reader) object(c *client.Client, m *config.Meter, o *config.Object) result {
	subject := fmt.Sprintf("%s %s (%s)", m.ID, o.Name, o.Obis)
	d := cosem.Descriptor{ClassID: o.ClassID, Obis: o.Obis, ID: *o.AttributeID}
	var v axdr.Data
	var err error
	if o.ClassID == 7 && d.ID == 2 && r.start != nil {
		v, err = c.GetRange(o.Obis, cosem.ClockRange(*r.start, r.end))
	} else {
		v, err = c.Get(d, nil)
	}
	if err != nil {
		r.logger.Errorf("%s: %v", subject, err)
		return failure(subject, err)
	}
	if *o.Dump {
		if err = r.dump(m.ID, o.Name, &v); err != nil {
			return failure(subject, err)
		}
	}
	return result{subject: subject, success: true}
}

// dump writes <meter id>/<object name>.xml.
func (r *reader) dump(dir string, name string, v *axdr.Data) error {
	r.printer.Start(name)
	r.printer.Append(v)
	r.printer.End()
	r.logger.Debugf("%s", r.printer.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	file := filepath.Join(dir, name+".xml")
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if _, err = r.printer.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	r.logger.Infof("dumped into %s", file)
	return f.Close()
}
