// Package chademo is a pure golang implementation of the CHAdeMO DC charging
// protocol, including the IEEE 2030.1.1 bidirectional extension.
package chademo

import "time"

const (
	CanRtrFlag uint32 = 0x40000000
	CanSffMask uint32 = 0x000007FF
	CanEffFlag uint32 = 0x80000000
)

// Latched in the bus manager error flags when a received frame is lost
const CanErrorRxOverflow = 0x0800

// A CAN frame.
// Timestamp is the time of reception or transmission and is never
// sent on the wire.
type Frame struct {
	ID        uint32
	Flags     uint8
	DLC       uint8
	Data      [8]byte
	Timestamp time.Time
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Returns true if the frame uses a 29-bit identifier
func (f Frame) Extended() bool {
	return f.ID&CanEffFlag != 0
}

// Returns true if the frame is a remote transmission request
func (f Frame) Remote() bool {
	return f.ID&CanRtrFlag != 0
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}
