package base

import "fmt"

type SerialDataBits int
type SerialParity int
type SerialStopBits int
type SerialFlowControl int

const (
	Serial5DataBits          SerialDataBits    = 5
	Serial6DataBits          SerialDataBits    = 6
	Serial7DataBits          SerialDataBits    = 7
	Serial8DataBits          SerialDataBits    = 8
	SerialNoParity           SerialParity      = 1
	SerialOddParity          SerialParity      = 2
	SerialEvenParity         SerialParity      = 3
	SerialMarkParity         SerialParity      = 4
	SerialSpaceParity        SerialParity      = 5
	SerialOneStopBit         SerialStopBits    = 1
	SerialTwoStopBits        SerialStopBits    = 2
	SerialOneAndHalfStopBits SerialStopBits    = 3
	SerialNoFlowControl      SerialFlowControl = 1
	SerialHWFlowControl      SerialFlowControl = 3
)

type SerialStreamSettings struct {
	BaudRate    int
	DataBits    SerialDataBits
	Parity      SerialParity
	StopBits    SerialStopBits
	FlowControl SerialFlowControl
}

// Validate fills zero values with 9600 8N1 and rejects what a port cannot do.
func (s *SerialStreamSettings) Validate() error {
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.BaudRate < 300 || s.BaudRate > 921600 {
		return fmt.Errorf("invalid baud rate %d", s.BaudRate)
	}
	switch s.DataBits {
	case 0:
		s.DataBits = Serial8DataBits
	case Serial5DataBits, Serial6DataBits, Serial7DataBits, Serial8DataBits:
	default:
		return fmt.Errorf("invalid data bits %d", s.DataBits)
	}
	switch s.Parity {
	case 0:
		s.Parity = SerialNoParity
	case SerialNoParity, SerialOddParity, SerialEvenParity, SerialMarkParity, SerialSpaceParity:
	default:
		return fmt.Errorf("invalid parity %d", s.Parity)
	}
	switch s.StopBits {
	case 0:
		s.StopBits = SerialOneStopBit
	case SerialOneStopBit, SerialTwoStopBits, SerialOneAndHalfStopBits:
	default:
		return fmt.Errorf("invalid stop bits %d", s.StopBits)
	}
	if s.FlowControl == 0 {
		s.FlowControl = SerialNoFlowControl
	}
	return nil
}

type SerialStream interface {
	Stream

	SetSpeed(baudRate int, dataBits SerialDataBits, parity SerialParity, stopBits SerialStopBits) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}
