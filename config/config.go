// Package config loads the JSON files of the client tool (session, object list, communication
// port) and of the meter simulator. Optional numbers are pointers, applyDefaults fills them in one
// place so the rest of the code reads them with ptr.Deref.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"k8s.io/utils/ptr"
)

// Load decodes a JSON file into v and applies its defaults.
func Load(file string, v interface{ applyDefaults() error }) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if err = v.applyDefaults(); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	return nil
}

// Defaults fills v as if loaded from an empty file.
func Defaults(v interface{ applyDefaults() error }) error {
	return v.applyDefaults()
}

var authlevels = map[string]base.Authentication{
	"":                           base.AuthenticationNone,
	"NO_SECURITY":                base.AuthenticationNone,
	"LOW_LEVEL_SECURITY":         base.AuthenticationLow,
	"HIGH_LEVEL_SECURITY":        base.AuthenticationHigh,
	"HIGH_LEVEL_MD5_SECURITY":    base.AuthenticationHighMD5,
	"HIGH_LEVEL_SHA1_SECURITY":   base.AuthenticationHighSHA1,
	"HIGH_LEVEL_GMAC_SECURITY":   base.AuthenticationHighGmac,
	"HIGH_LEVEL_SHA256_SECURITY": base.AuthenticationHighSha256,
}

// Security is the authentication part of a session or of a server association.
type Security struct {
	Level       string `json:"auth_level"`
	Password    string `json:"auth_password,omitempty"`
	HLSSecret   string `json:"auth_hls_secret,omitempty"` // hex
	SystemTitle string `json:"system_title,omitempty"`    // hex, GMAC and SHA-256
	EK          string `json:"ek,omitempty"`              // hex, GMAC
	AK          string `json:"ak,omitempty"`              // hex, GMAC
}

func unhex(name string, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// Ciphering converts to validated ciphering settings: the password serves low level security, the
// HLS secret every high level mechanism.
func (s *Security) Ciphering() (c ciphering.Settings, err error) {
	mech, ok := authlevels[strings.ToUpper(s.Level)]
	if !ok {
		return c, fmt.Errorf("unknown authentication level %q", s.Level)
	}
	c.Mechanism = mech
	switch {
	case mech == base.AuthenticationLow:
		c.Secret = []byte(s.Password)
	case mech.IsHigh():
		if c.Secret, err = unhex("auth_hls_secret", s.HLSSecret); err != nil {
			return c, err
		}
	}
	if c.SystemTitle, err = unhex("system_title", s.SystemTitle); err != nil {
		return c, err
	}
	if c.EncryptionKey, err = unhex("ek", s.EK); err != nil {
		return c, err
	}
	if c.AuthenticationKey, err = unhex("ak", s.AK); err != nil {
		return c, err
	}
	return c, c.Validate()
}

type Timeouts struct {
	Dial    *int `json:"dial,omitempty"` // seconds
	Connect *int `json:"connect,omitempty"`
	Request *int `json:"request,omitempty"`
}

func seconds(v *int) time.Duration {
	return time.Duration(ptr.Deref(v, 0)) * time.Second
}

func (t *Timeouts) DialTimeout() time.Duration    { return seconds(t.Dial) }
func (t *Timeouts) ConnectTimeout() time.Duration { return seconds(t.Connect) }
func (t *Timeouts) RequestTimeout() time.Duration { return seconds(t.Request) }

type HDLC struct {
	PhysicalAddress *int `json:"phy_addr,omitempty"`
	AddressSize     *int `json:"address_size,omitempty"`
}

type Cosem struct {
	Security
	Client        *int  `json:"client,omitempty"`
	LogicalDevice *int  `json:"logical_device,omitempty"`
	MaxPdu        *int  `json:"max_pdu,omitempty"`
	EmptyRLRQ     *bool `json:"empty_rlrq,omitempty"`
}

// Meter is one meter of a session file. Transport is hdlc or wrapper.
type Meter struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
	HDLC      HDLC   `json:"hdlc"`
	Cosem     Cosem  `json:"cosem"`
}

// Modem dials the meters of a session over a serial line, init is a ';' separated AT command list.
type Modem struct {
	Enable bool   `json:"enable"`
	Init   string `json:"init,omitempty"`
	Phone  string `json:"phone"`
}

type Session struct {
	Retries  *int     `json:"retries,omitempty"`
	Timeouts Timeouts `json:"timeouts"`
	Modem    Modem    `json:"modem"`
}

// SessionFile lists the meters to read and how.
type SessionFile struct {
	Session Session `json:"session"`
	Meters  []Meter `json:"meters"`
}

func (f *SessionFile) applyDefaults() error {
	s := &f.Session
	if s.Retries == nil {
		s.Retries = ptr.To(1)
	}
	t := &s.Timeouts
	if t.Dial == nil {
		t.Dial = ptr.To(90)
	}
	if t.Connect == nil {
		t.Connect = ptr.To(5)
	}
	if t.Request == nil {
		t.Request = ptr.To(5)
	}
	if s.Modem.Enable && s.Modem.Phone == "" {
		return fmt.Errorf("modem enabled without phone number")
	}
	if len(f.Meters) == 0 {
		return fmt.Errorf("no meter")
	}
	for i := range f.Meters {
		m := &f.Meters[i]
		if m.ID == "" {
			return fmt.Errorf("meter %d has no id", i+1)
		}
		switch m.Transport {
		case "":
			m.Transport = "hdlc"
		case "hdlc", "wrapper":
		default:
			return fmt.Errorf("meter %s: unknown transport %q", m.ID, m.Transport)
		}
		if m.HDLC.PhysicalAddress == nil {
			m.HDLC.PhysicalAddress = ptr.To(0)
		}
		if m.HDLC.AddressSize == nil {
			m.HDLC.AddressSize = ptr.To(0)
		}
		switch *m.HDLC.AddressSize {
		case 0, 1, 2, 4:
		default:
			return fmt.Errorf("meter %s: address size %d", m.ID, *m.HDLC.AddressSize)
		}
		c := &m.Cosem
		if c.Client == nil {
			c.Client = ptr.To(1)
		}
		if c.LogicalDevice == nil {
			c.LogicalDevice = ptr.To(1)
		}
		if c.MaxPdu == nil {
			c.MaxPdu = ptr.To(0x400)
		}
		if c.EmptyRLRQ == nil {
			c.EmptyRLRQ = ptr.To(false)
		}
		if _, err := c.Ciphering(); err != nil {
			return fmt.Errorf("meter %s: %w", m.ID, err)
		}
	}
	return nil
}

// Object is one attribute to read.
type Object struct {
	Name        string `json:"name"`
	LogicalName string `json:"logical_name"`
	ClassID     uint16 `json:"class_id"`
	AttributeID *int8  `json:"attribute_id,omitempty"`
	Dump        *bool  `json:"dump,omitempty"`

	Obis axdr.Obis `json:"-"`
}

// parseln accepts the dotted A.B.C.D.E.F form besides A-B:C.D.E.F.
func parseln(s string) (axdr.Obis, error) {
	if p := strings.Split(s, "."); len(p) == 6 {
		s = p[0] + "-" + p[1] + ":" + strings.Join(p[2:], ".")
	}
	return axdr.ParseObis(s)
}

type ObjectsFile struct {
	Objects []Object `json:"objects"`
}

func (f *ObjectsFile) applyDefaults() (err error) {
	for i := range f.Objects {
		o := &f.Objects[i]
		if o.Name == "" {
			return fmt.Errorf("object %d has no name", i+1)
		}
		if o.Obis, err = parseln(o.LogicalName); err != nil {
			return fmt.Errorf("object %s: %w", o.Name, err)
		}
		if o.ClassID == 0 {
			return fmt.Errorf("object %s has no class id", o.Name)
		}
		if o.AttributeID == nil {
			o.AttributeID = ptr.To[int8](2)
		}
		if o.Dump == nil {
			o.Dump = ptr.To(true)
		}
	}
	return nil
}

type Serial struct {
	Port     string `json:"port"`
	BaudRate *int   `json:"baudrate,omitempty"`
}

type TCP struct {
	Host string `json:"host"`
	Port *int   `json:"port,omitempty"`
}

type QUIC struct {
	Address  string `json:"address"`
	Insecure bool   `json:"insecure,omitempty"`
}

// CommFile is the physical link, one of serial, tcp, gateway (tcp to a transparent serial
// gateway) or quic.
type CommFile struct {
	Transport string `json:"transport"`
	Serial    Serial `json:"serial"`
	TCP       TCP    `json:"tcp"`
	QUIC      QUIC   `json:"quic"`
}

func (f *CommFile) applyDefaults() error {
	if f.Transport == "" {
		f.Transport = "serial"
	}
	if f.Serial.BaudRate == nil {
		f.Serial.BaudRate = ptr.To(9600)
	}
	if f.TCP.Port == nil {
		f.TCP.Port = ptr.To(4059)
	}
	switch f.Transport {
	case "serial":
		if f.Serial.Port == "" {
			return fmt.Errorf("serial transport without port")
		}
	case "tcp", "gateway":
		if f.TCP.Host == "" {
			return fmt.Errorf("%s transport without host", f.Transport)
		}
	case "quic":
		if f.QUIC.Address == "" {
			return fmt.Errorf("quic transport without address")
		}
	default:
		return fmt.Errorf("unknown transport %q", f.Transport)
	}
	return nil
}
