package config

import (
	"fmt"

	"k8s.io/utils/ptr"
)

// Association is one association offered by the simulator.
type Association struct {
	Security
	Client        uint16 `json:"client"`
	LogicalDevice *int   `json:"logical_device,omitempty"`
	MaxPdu        *int   `json:"max_pdu,omitempty"`
}

// SerialListener serves HDLC on a local port.
type SerialListener struct {
	Port            string `json:"port"`
	BaudRate        *int   `json:"baudrate,omitempty"`
	PhysicalAddress *int   `json:"phy_addr,omitempty"`
}

type Listeners struct {
	TCP          string           `json:"tcp,omitempty"`  // wrapper, e.g. ":4059"
	HDLC         string           `json:"hdlc,omitempty"` // HDLC over tcp, as behind a modem
	HDLCPhysical *int             `json:"hdlc_phy_addr,omitempty"`
	QUIC         string           `json:"quic,omitempty"`
	Serial       []SerialListener `json:"serial,omitempty"`
	Health       string           `json:"health,omitempty"` // gRPC health service
}

// ServerFile configures the meter simulator.
type ServerFile struct {
	Name           string        `json:"logical_device_name"`
	Channels       *int          `json:"channels,omitempty"`
	IdleTimeout    *int          `json:"idle_timeout,omitempty"` // seconds
	CaptureProfile *bool         `json:"capture_profile,omitempty"`
	Associations   []Association `json:"associations"`
	Listeners      Listeners     `json:"listeners"`
}

func (f *ServerFile) applyDefaults() error {
	if f.Name == "" {
		f.Name = "LCG0000000000001"
	}
	if f.Channels == nil {
		f.Channels = ptr.To(4)
	}
	if f.IdleTimeout == nil {
		f.IdleTimeout = ptr.To(120)
	}
	if f.CaptureProfile == nil {
		f.CaptureProfile = ptr.To(true)
	}
	if len(f.Associations) == 0 {
		f.Associations = []Association{{Client: 16, Security: Security{Level: "NO_SECURITY"}}}
	}
	for i := range f.Associations {
		a := &f.Associations[i]
		if a.LogicalDevice == nil {
			a.LogicalDevice = ptr.To(1)
		}
		if a.MaxPdu == nil {
			a.MaxPdu = ptr.To(0x400)
		}
		if _, err := a.Ciphering(); err != nil {
			return fmt.Errorf("association of client %d: %w", a.Client, err)
		}
	}
	for i := range f.Listeners.Serial {
		s := &f.Listeners.Serial[i]
		if s.Port == "" {
			return fmt.Errorf("serial listener %d has no port", i+1)
		}
		if s.BaudRate == nil {
			s.BaudRate = ptr.To(9600)
		}
		if s.PhysicalAddress == nil {
			s.PhysicalAddress = ptr.To(0)
		}
	}
	l := &f.Listeners
	if l.HDLCPhysical == nil {
		l.HDLCPhysical = ptr.To(0)
	}
	if l.TCP == "" && l.HDLC == "" && l.QUIC == "" && len(l.Serial) == 0 {
		l.TCP = ":4059"
	}
	return nil
}
