package database

import (
	"github.com/cybroslabs/libcosem-go/axdr"
	"k8s.io/utils/clock"
)

// Standard objects of the simulated meter.
var (
	EnergyObis  = axdr.Obis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}
	VoltageObis = axdr.Obis{A: 1, B: 0, C: 32, D: 7, E: 0, F: 255}
	ProfileObis = axdr.Obis{A: 1, B: 0, C: 99, D: 1, E: 0, F: 255}
)

const (
	unitWh = 30
	unitV  = 35
)

// NewMeter builds the object model of a simple electricity meter: logical device name, clock,
// current association, active energy import, voltage L1 and a quarter hour load profile of clock
// and energy.
func NewMeter(clk clock.PassiveClock, name string) (*Database, error) {
	d := New(clk)
	ck := d.NewClock(0)
	energy := NewRegister(EnergyObis, axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: uint32(0)}, 0, unitWh, AccessGet)
	voltage := NewRegister(VoltageObis, axdr.Data{Tag: axdr.TagLongUnsigned, Value: uint16(2300)}, -1, unitV, AccessGet)
	lp, err := NewProfile(ProfileObis, []Column{{Object: ck, Attribute: 2}, {Object: energy, Attribute: 2}}, 96*7, 900)
	if err != nil {
		return nil, err
	}
	if err = d.Register(NewLogicalDeviceName(name), ck, d.NewCurrentAssociation(), energy, voltage, lp); err != nil {
		return nil, err
	}
	return d, nil
}
